package runtime

import (
	"context"
	"errors"
)

var (
	// ErrNotFound: the remote runtime no longer knows the session. This is
	// the cold-start signal that triggers recovery; it is never surfaced to
	// end users directly.
	ErrNotFound = errors.New("remote session not found")

	// ErrUnreachable covers timeouts, transport failures and runtime-side
	// errors. Not retried automatically; the caller decides.
	ErrUnreachable = errors.New("remote runtime unreachable")
)

// SeedState bootstraps a fresh remote session without the runtime having to
// query anything back. Flat and serializable on purpose.
type SeedState struct {
	TenantID        string            `json:"tenant_id"`
	KnownFacts      map[string]string `json:"known_facts,omitempty"`
	ProgressSummary string            `json:"progress_summary,omitempty"`
	RecentTurns     string            `json:"recent_turns,omitempty"`
}

type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result,omitempty"`
}

type TurnResult struct {
	ReplyText string     `json:"reply"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Gateway hides all transport concerns of the stateless remote runtime.
type Gateway interface {
	CreateRemote(ctx context.Context, seed SeedState) (remoteSessionID string, err error)
	RunTurn(ctx context.Context, remoteSessionID, userText string) (*TurnResult, error)
}
