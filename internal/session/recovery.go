package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/bizpilot/convocore/internal/facts"
	"github.com/bizpilot/convocore/internal/runtime"
)

// ErrRecoveryFailed marks an aborted recovery attempt: the replacement
// remote session could not be created. Distinct from a plain unreachable
// turn so the facade can answer with the interrupted placeholder.
var ErrRecoveryFailed = errors.New("recovery aborted")

const (
	// DefaultRecoveryTail is how many trailing messages seed a replacement
	// remote session.
	DefaultRecoveryTail = 10

	// turns longer than this are truncated in the seed summary
	seedContentLimit = 160
)

// Recoverer rebuilds remote context after the runtime forgets a session.
// The durable log is authoritative; the remote session is a disposable
// cache regenerated from it.
type Recoverer struct {
	store    *Store
	gateway  runtime.Gateway
	facts    facts.Provider
	tailSize int
}

func NewRecoverer(store *Store, gateway runtime.Gateway, factsProvider facts.Provider, tailSize int) *Recoverer {
	if tailSize <= 0 {
		tailSize = DefaultRecoveryTail
	}
	return &Recoverer{store: store, gateway: gateway, facts: factsProvider, tailSize: tailSize}
}

// Recover creates a replacement remote session seeded from the durable log
// and re-issues the failed turn exactly once. The user message for this
// turn is already durably appended by the caller, so Recover only produces
// the assistant half.
//
// Returns ErrRecoveryFailed if the replacement session cannot be created,
// and runtime.ErrNotFound if the retried turn is rejected again (terminal
// for this request, no nested recovery).
func (r *Recoverer) Recover(ctx context.Context, sess *Session, userText string) (*runtime.TurnResult, error) {
	tail, err := r.store.RecentMessages(ctx, sess.TenantID, sess.SessionID, r.tailSize)
	if err != nil {
		return nil, err
	}
	// The failed turn's user message is already in the log. It travels as
	// the re-issued turn itself, not as part of the seed.
	if n := len(tail); n > 0 && tail[n-1].Role == RoleUser && tail[n-1].Content == userText {
		tail = tail[:n-1]
	}

	var snap *facts.Snapshot
	if r.facts != nil {
		snap, err = r.facts.Snapshot(ctx, sess.TenantID)
		if err != nil {
			// recovery still works with conversation tail only
			log.Printf("recovery: facts snapshot failed tenant=%s: %v", sess.TenantID, err)
			snap = nil
		}
	}

	seed := buildSeed(sess.TenantID, snap, tail)

	remoteID, err := r.gateway.CreateRemote(ctx, seed)
	if err != nil {
		if errors.Is(err, runtime.ErrUnreachable) {
			return nil, fmt.Errorf("%w: create remote: %v", ErrRecoveryFailed, err)
		}
		return nil, err
	}

	// Unconditional rewrite: an append racing this must not block it.
	if err := r.store.SetRemoteSessionID(ctx, sess.TenantID, sess.SessionID, remoteID); err != nil {
		return nil, err
	}
	log.Printf("recovery: session=%s remote=%s rebuilt from %d messages", sess.SessionID, remoteID, len(tail))

	result, err := r.gateway.RunTurn(ctx, remoteID, userText)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func buildSeed(tenantID string, snap *facts.Snapshot, tail []Message) runtime.SeedState {
	seed := runtime.SeedState{TenantID: tenantID}
	if snap != nil {
		seed.KnownFacts = snap.KnownFacts
		seed.ProgressSummary = snap.ProgressSummary
	}

	if len(tail) == 0 {
		return seed
	}

	var b strings.Builder
	for _, m := range tail {
		content := m.Content
		if len(content) > seedContentLimit {
			// cut on a rune boundary, never mid-sequence
			cut := seedContentLimit
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut] + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
	}
	seed.RecentTurns = b.String()
	return seed
}
