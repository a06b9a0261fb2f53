package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/bizpilot/convocore/internal/runtime"
)

const (
	// ReplyUnavailable: the runtime could not be reached at all.
	ReplyUnavailable = "The assistant is temporarily unavailable. Please try again in a moment."
	// ReplyInterrupted: recovery itself failed; the user's message is safe.
	ReplyInterrupted = "We hit a brief interruption. Your message was saved, please try again."
)

// MessageAppendedEvent feeds the fan-out queue after each committed append.
type MessageAppendedEvent struct {
	EventID        string    `json:"event_id"`
	TenantID       string    `json:"tenant_id"`
	SessionID      string    `json:"session_id"`
	Role           string    `json:"role"`
	SequenceNumber uint64    `json:"sequence_number"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	PublishMessageAppended(ctx context.Context, evt MessageAppendedEvent) error
}

type SendStatus int

const (
	// SendOK: turn completed, reply persisted.
	SendOK SendStatus = iota
	// SendConflict: expected version is stale; refresh and resubmit.
	SendConflict
	// SendClosed: the session no longer accepts messages.
	SendClosed
	// SendUnavailable: user message persisted, no reply this time.
	SendUnavailable
)

type SendResult struct {
	Status         SendStatus `json:"-"`
	SessionID      string     `json:"session_id"`
	ReplyText      string     `json:"reply,omitempty"`
	ToolCalls      ToolCalls  `json:"tool_calls,omitempty"`
	NewVersion     uint64     `json:"new_version,omitempty"`
	CurrentVersion uint64     `json:"current_version,omitempty"`
}

// Service is the facade the route layer talks to. Expected conditions
// (staleness, closed sessions, runtime unavailability) come back as result
// values; only storage failures surface as errors.
type Service struct {
	store     *Store
	appender  *Appender
	gateway   runtime.Gateway
	recoverer *Recoverer
	events    EventPublisher
}

func NewService(store *Store, appender *Appender, gateway runtime.Gateway, recoverer *Recoverer, events EventPublisher) *Service {
	return &Service{
		store:     store,
		appender:  appender,
		gateway:   gateway,
		recoverer: recoverer,
		events:    events,
	}
}

func (s *Service) CreateSession(ctx context.Context, tenantID, participantID string, idempotencyKey *string) (*Session, error) {
	return s.store.Create(ctx, tenantID, participantID, idempotencyKey)
}

// SendMessage runs one conversational turn. The ordering is deliberate:
// persist the user message, call the runtime, persist the reply. The user's
// input survives any remote failure, and recovery only ever has to produce
// the assistant half.
func (s *Service) SendMessage(ctx context.Context, tenantID, participantID, sessionID, text string, expectedVersion uint64) (*SendResult, error) {
	var sess *Session
	var err error

	if sessionID == "" {
		sess, err = s.store.Create(ctx, tenantID, participantID, nil)
		if err != nil {
			return nil, err
		}
		expectedVersion = 0
	} else {
		sess, err = s.store.Get(ctx, tenantID, sessionID)
		if err != nil {
			return nil, err
		}
	}

	userMsg := &Message{Role: RoleUser, Content: text}
	userRes, err := s.appender.Append(ctx, tenantID, sess.SessionID, expectedVersion, userMsg)
	if err != nil {
		return nil, err
	}
	switch userRes.Status {
	case AppendStale:
		return &SendResult{Status: SendConflict, SessionID: sess.SessionID, CurrentVersion: userRes.CurrentVersion}, nil
	case AppendClosed:
		return &SendResult{Status: SendClosed, SessionID: sess.SessionID}, nil
	}
	s.publish(ctx, sess, RoleUser, userRes.NewVersion)

	var result *runtime.TurnResult
	if sess.RemoteSessionID == nil {
		// no remote yet: same path as recovery, seeded from the log
		result, err = s.recoverer.Recover(ctx, sess, text)
	} else {
		result, err = s.gateway.RunTurn(ctx, *sess.RemoteSessionID, text)
		if errors.Is(err, runtime.ErrNotFound) {
			result, err = s.recoverer.Recover(ctx, sess, text)
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrRecoveryFailed):
			// recovery aborted; the user's message is durable, no reply
			return &SendResult{
				Status:     SendUnavailable,
				SessionID:  sess.SessionID,
				ReplyText:  ReplyInterrupted,
				NewVersion: userRes.NewVersion,
			}, nil
		case errors.Is(err, runtime.ErrUnreachable):
			return &SendResult{
				Status:     SendUnavailable,
				SessionID:  sess.SessionID,
				ReplyText:  ReplyUnavailable,
				NewVersion: userRes.NewVersion,
			}, nil
		case errors.Is(err, runtime.ErrNotFound):
			// the retried turn was rejected again; terminal for this request
			log.Printf("session=%s recovery retry rejected, giving up", sess.SessionID)
			return &SendResult{
				Status:     SendUnavailable,
				SessionID:  sess.SessionID,
				ReplyText:  ReplyInterrupted,
				NewVersion: userRes.NewVersion,
			}, nil
		default:
			return nil, err
		}
	}

	assistantMsg := &Message{
		Role:      RoleAssistant,
		Content:   result.ReplyText,
		ToolCalls: toolCallsFromRuntime(result.ToolCalls),
	}
	// No other writer can have advanced past userRes.NewVersion without the
	// CAS rejecting it, so this append is only stale if something is badly
	// wrong; surface it as a conflict rather than guessing.
	assistantRes, err := s.appender.Append(ctx, tenantID, sess.SessionID, userRes.NewVersion, assistantMsg)
	if err != nil {
		return nil, err
	}
	switch assistantRes.Status {
	case AppendStale:
		return &SendResult{Status: SendConflict, SessionID: sess.SessionID, CurrentVersion: assistantRes.CurrentVersion}, nil
	case AppendClosed:
		return &SendResult{Status: SendClosed, SessionID: sess.SessionID}, nil
	}
	s.publish(ctx, sess, RoleAssistant, assistantRes.NewVersion)

	return &SendResult{
		Status:     SendOK,
		SessionID:  sess.SessionID,
		ReplyText:  result.ReplyText,
		ToolCalls:  assistantMsg.ToolCalls,
		NewVersion: assistantRes.NewVersion,
	}, nil
}

func (s *Service) GetHistory(ctx context.Context, tenantID, sessionID string, limit, offset int) (*HistoryPage, error) {
	return s.store.History(ctx, tenantID, sessionID, limit, offset)
}

func (s *Service) CloseSession(ctx context.Context, tenantID, sessionID string) error {
	return s.store.Close(ctx, tenantID, sessionID)
}

// publish is fire-and-forget: a dead broker must never fail a turn.
func (s *Service) publish(ctx context.Context, sess *Session, role string, seq uint64) {
	if s.events == nil {
		return
	}
	evt := MessageAppendedEvent{
		EventID:        uuid.NewString(),
		TenantID:       sess.TenantID,
		SessionID:      sess.SessionID,
		Role:           role,
		SequenceNumber: seq,
		OccurredAt:     time.Now(),
	}
	if err := s.events.PublishMessageAppended(ctx, evt); err != nil {
		log.Printf("session=%s publish event seq=%d: %v", sess.SessionID, seq, err)
	}
}

func toolCallsFromRuntime(calls []runtime.ToolCall) ToolCalls {
	if len(calls) == 0 {
		return nil
	}
	out := make(ToolCalls, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToolCall{Name: c.Name, Arguments: c.Arguments, Result: c.Result})
	}
	return out
}
