package session

import (
	"context"
	"strings"
	"testing"

	"github.com/bizpilot/convocore/internal/facts"
	"github.com/bizpilot/convocore/internal/runtime"
	"gorm.io/gorm"
)

type fakeGateway struct {
	createFn func(seed runtime.SeedState) (string, error)
	turnFn   func(remoteID, text string) (*runtime.TurnResult, error)

	seeds []runtime.SeedState
	turns [][2]string // remoteID, text
}

func (g *fakeGateway) CreateRemote(ctx context.Context, seed runtime.SeedState) (string, error) {
	_ = ctx
	g.seeds = append(g.seeds, seed)
	if g.createFn != nil {
		return g.createFn(seed)
	}
	return "R-new", nil
}

func (g *fakeGateway) RunTurn(ctx context.Context, remoteID, text string) (*runtime.TurnResult, error) {
	_ = ctx
	g.turns = append(g.turns, [2]string{remoteID, text})
	if g.turnFn != nil {
		return g.turnFn(remoteID, text)
	}
	return &runtime.TurnResult{ReplyText: "ok"}, nil
}

type fakeFacts struct {
	snap *facts.Snapshot
}

func (f *fakeFacts) Snapshot(ctx context.Context, tenantID string) (*facts.Snapshot, error) {
	_ = ctx
	_ = tenantID
	if f.snap == nil {
		return &facts.Snapshot{KnownFacts: map[string]string{}}, nil
	}
	return f.snap, nil
}

type recordingEvents struct {
	published []MessageAppendedEvent
}

func (r *recordingEvents) PublishMessageAppended(ctx context.Context, evt MessageAppendedEvent) error {
	_ = ctx
	r.published = append(r.published, evt)
	return nil
}

func newTestService(t *testing.T, gw *fakeGateway) (*Service, *Store, *gorm.DB, *recordingEvents) {
	t.Helper()
	db := openTestDB(t)
	store := NewStore(db, 0)
	appender := NewAppender(store)
	recoverer := NewRecoverer(store, gw, &fakeFacts{
		snap: &facts.Snapshot{
			KnownFacts:      map[string]string{"business_name": "Corner Bakery"},
			ProgressSummary: "2 of 5 onboarding steps done",
		},
	}, 10)
	evts := &recordingEvents{}
	svc := NewService(store, appender, gw, recoverer, evts)
	return svc, store, db, evts
}

func countMessages(t *testing.T, db *gorm.DB, sessionID, role string) int {
	t.Helper()
	var n int64
	if err := db.Model(&Message{}).
		Where("session_id = ? AND role = ?", sessionID, role).
		Count(&n).Error; err != nil {
		t.Fatalf("count %s messages: %v", role, err)
	}
	return int(n)
}

func TestSendMessage_ImplicitSessionAndRemote(t *testing.T) {
	gw := &fakeGateway{}
	svc, store, db, evts := newTestService(t, gw)

	res, err := svc.SendMessage(context.Background(), "tenant-implicit", "p1", "", "Hello", 0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status != SendOK {
		t.Fatalf("expected SendOK, got %v", res.Status)
	}
	if res.ReplyText != "ok" || res.NewVersion != 2 {
		t.Fatalf("unexpected result: reply=%q version=%d", res.ReplyText, res.NewVersion)
	}

	sess, err := store.Get(context.Background(), "tenant-implicit", res.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.RemoteSessionID == nil || *sess.RemoteSessionID != "R-new" {
		t.Fatalf("expected remote id persisted, got %v", sess.RemoteSessionID)
	}

	if n := countMessages(t, db, res.SessionID, RoleUser); n != 1 {
		t.Fatalf("expected 1 user message, got %d", n)
	}
	if n := countMessages(t, db, res.SessionID, RoleAssistant); n != 1 {
		t.Fatalf("expected 1 assistant message, got %d", n)
	}
	if len(evts.published) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts.published))
	}

	// the user text rides on the turn, never doubled into the seed
	if len(gw.seeds) != 1 {
		t.Fatalf("expected 1 createRemote call, got %d", len(gw.seeds))
	}
	if strings.Contains(gw.seeds[0].RecentTurns, "Hello") {
		t.Fatalf("seed must not contain the in-flight user text: %q", gw.seeds[0].RecentTurns)
	}
	if gw.seeds[0].KnownFacts["business_name"] != "Corner Bakery" {
		t.Fatalf("seed missing known facts: %+v", gw.seeds[0].KnownFacts)
	}
}

func TestSendMessage_RecoveryPreservesUserInput(t *testing.T) {
	gw := &fakeGateway{}
	gw.createFn = func(seed runtime.SeedState) (string, error) { return "R2", nil }
	gw.turnFn = func(remoteID, text string) (*runtime.TurnResult, error) {
		if remoteID == "R1" {
			return nil, runtime.ErrNotFound
		}
		return &runtime.TurnResult{ReplyText: "Let's add your services."}, nil
	}

	svc, store, db, _ := newTestService(t, gw)
	sess := mustCreate(t, store, "tenant-recovery", "p1")
	if err := store.SetRemoteSessionID(context.Background(), "tenant-recovery", sess.SessionID, "R1"); err != nil {
		t.Fatalf("seed remote id: %v", err)
	}

	res, err := svc.SendMessage(context.Background(), "tenant-recovery", "p1", sess.SessionID, "hello", 0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status != SendOK {
		t.Fatalf("expected SendOK, got %v", res.Status)
	}
	if res.ReplyText != "Let's add your services." {
		t.Fatalf("unexpected reply: %q", res.ReplyText)
	}

	// exactly one user and one assistant message, never zero, never two
	if n := countMessages(t, db, sess.SessionID, RoleUser); n != 1 {
		t.Fatalf("expected exactly 1 user message, got %d", n)
	}
	if n := countMessages(t, db, sess.SessionID, RoleAssistant); n != 1 {
		t.Fatalf("expected exactly 1 assistant message, got %d", n)
	}

	current, err := store.Get(context.Background(), "tenant-recovery", sess.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.RemoteSessionID == nil || *current.RemoteSessionID != "R2" {
		t.Fatalf("expected remote id R2 after recovery, got %v", current.RemoteSessionID)
	}
	if current.Version != 2 {
		t.Fatalf("expected version 2, got %d", current.Version)
	}

	// original turn against R1, recovered turn against R2
	if len(gw.turns) != 2 || gw.turns[0][0] != "R1" || gw.turns[1][0] != "R2" {
		t.Fatalf("unexpected turn sequence: %v", gw.turns)
	}
	if gw.turns[1][1] != "hello" {
		t.Fatalf("recovered turn must re-issue the original text, got %q", gw.turns[1][1])
	}
}

func TestSendMessage_RecoveryUnreachable(t *testing.T) {
	gw := &fakeGateway{}
	gw.createFn = func(seed runtime.SeedState) (string, error) { return "", runtime.ErrUnreachable }
	gw.turnFn = func(remoteID, text string) (*runtime.TurnResult, error) {
		return nil, runtime.ErrNotFound
	}

	svc, store, db, _ := newTestService(t, gw)
	sess := mustCreate(t, store, "tenant-unreach", "p1")
	if err := store.SetRemoteSessionID(context.Background(), "tenant-unreach", sess.SessionID, "R1"); err != nil {
		t.Fatalf("seed remote id: %v", err)
	}

	res, err := svc.SendMessage(context.Background(), "tenant-unreach", "p1", sess.SessionID, "hello", 0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status != SendUnavailable {
		t.Fatalf("expected SendUnavailable, got %v", res.Status)
	}
	// aborted recovery answers with the interruption placeholder, not the
	// plain unavailable one
	if res.ReplyText != ReplyInterrupted {
		t.Fatalf("unexpected placeholder: %q", res.ReplyText)
	}

	// the user message survives, no duplicate assistant message appears
	if n := countMessages(t, db, sess.SessionID, RoleUser); n != 1 {
		t.Fatalf("expected 1 user message, got %d", n)
	}
	if n := countMessages(t, db, sess.SessionID, RoleAssistant); n != 0 {
		t.Fatalf("expected no assistant message, got %d", n)
	}
}

func TestSendMessage_DirectTurnUnreachable(t *testing.T) {
	gw := &fakeGateway{}
	gw.turnFn = func(remoteID, text string) (*runtime.TurnResult, error) {
		return nil, runtime.ErrUnreachable
	}

	svc, store, db, _ := newTestService(t, gw)
	sess := mustCreate(t, store, "tenant-direct-unreach", "p1")
	if err := store.SetRemoteSessionID(context.Background(), "tenant-direct-unreach", sess.SessionID, "R1"); err != nil {
		t.Fatalf("seed remote id: %v", err)
	}

	res, err := svc.SendMessage(context.Background(), "tenant-direct-unreach", "p1", sess.SessionID, "hello", 0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status != SendUnavailable {
		t.Fatalf("expected SendUnavailable, got %v", res.Status)
	}
	if res.ReplyText != ReplyUnavailable {
		t.Fatalf("unexpected placeholder: %q", res.ReplyText)
	}

	// no recovery on a plain unreachable turn
	if len(gw.seeds) != 0 {
		t.Fatalf("expected no createRemote calls, got %d", len(gw.seeds))
	}
	if n := countMessages(t, db, sess.SessionID, RoleUser); n != 1 {
		t.Fatalf("expected 1 user message, got %d", n)
	}
	if n := countMessages(t, db, sess.SessionID, RoleAssistant); n != 0 {
		t.Fatalf("expected no assistant message, got %d", n)
	}
}

func TestSendMessage_SecondNotFoundIsTerminal(t *testing.T) {
	gw := &fakeGateway{}
	gw.createFn = func(seed runtime.SeedState) (string, error) { return "R2", nil }
	gw.turnFn = func(remoteID, text string) (*runtime.TurnResult, error) {
		return nil, runtime.ErrNotFound // even the recovered session is gone
	}

	svc, store, db, _ := newTestService(t, gw)
	sess := mustCreate(t, store, "tenant-terminal", "p1")
	if err := store.SetRemoteSessionID(context.Background(), "tenant-terminal", sess.SessionID, "R1"); err != nil {
		t.Fatalf("seed remote id: %v", err)
	}

	res, err := svc.SendMessage(context.Background(), "tenant-terminal", "p1", sess.SessionID, "hello", 0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status != SendUnavailable {
		t.Fatalf("expected SendUnavailable, got %v", res.Status)
	}
	if res.ReplyText != ReplyInterrupted {
		t.Fatalf("unexpected placeholder: %q", res.ReplyText)
	}

	// no nested recovery: exactly one createRemote attempt
	if len(gw.seeds) != 1 {
		t.Fatalf("expected exactly 1 createRemote, got %d", len(gw.seeds))
	}
	if n := countMessages(t, db, sess.SessionID, RoleAssistant); n != 0 {
		t.Fatalf("expected no assistant message, got %d", n)
	}
}

func TestSendMessage_StaleVersionConflict(t *testing.T) {
	gw := &fakeGateway{}
	svc, store, db, _ := newTestService(t, gw)
	sess := mustCreate(t, store, "tenant-stale", "p1")

	// another tab already appended
	if _, err := store.AppendAtomic(context.Background(), "tenant-stale", sess.SessionID, 0,
		&Message{Role: RoleUser, Content: "from other tab"}); err != nil {
		t.Fatalf("seed append: %v", err)
	}

	res, err := svc.SendMessage(context.Background(), "tenant-stale", "p1", sess.SessionID, "late", 0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status != SendConflict {
		t.Fatalf("expected SendConflict, got %v", res.Status)
	}
	if res.CurrentVersion != 1 {
		t.Fatalf("expected authoritative version 1, got %d", res.CurrentVersion)
	}

	// the late message was not appended and the runtime never called
	if n := countMessages(t, db, sess.SessionID, RoleUser); n != 1 {
		t.Fatalf("expected 1 user message, got %d", n)
	}
	if len(gw.turns) != 0 {
		t.Fatalf("expected no remote turns on conflict, got %d", len(gw.turns))
	}
}

type failingEvents struct{}

func (failingEvents) PublishMessageAppended(ctx context.Context, evt MessageAppendedEvent) error {
	_ = ctx
	_ = evt
	return context.DeadlineExceeded
}

func TestSendMessage_PublishFailureDoesNotFailTurn(t *testing.T) {
	gw := &fakeGateway{}
	db := openTestDB(t)
	store := NewStore(db, 0)
	appender := NewAppender(store)
	recoverer := NewRecoverer(store, gw, &fakeFacts{}, 10)
	svc := NewService(store, appender, gw, recoverer, failingEvents{})

	res, err := svc.SendMessage(context.Background(), "tenant-pubfail", "p1", "", "hi", 0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status != SendOK {
		t.Fatalf("expected SendOK despite publish failure, got %v", res.Status)
	}
	if n := countMessages(t, db, res.SessionID, RoleAssistant); n != 1 {
		t.Fatalf("expected assistant message persisted, got %d", n)
	}
}

func TestSendMessage_ClosedSession(t *testing.T) {
	gw := &fakeGateway{}
	svc, store, _, _ := newTestService(t, gw)
	sess := mustCreate(t, store, "tenant-send-closed", "p1")
	if err := store.Close(context.Background(), "tenant-send-closed", sess.SessionID); err != nil {
		t.Fatalf("close: %v", err)
	}

	res, err := svc.SendMessage(context.Background(), "tenant-send-closed", "p1", sess.SessionID, "hi", 0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status != SendClosed {
		t.Fatalf("expected SendClosed, got %v", res.Status)
	}
}
