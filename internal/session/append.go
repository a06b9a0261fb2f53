package session

import (
	"context"
	"errors"
)

type AppendStatus int

const (
	AppendOK AppendStatus = iota
	// AppendStale: the expected version lost the race. Never retried here;
	// blindly re-appending with a fresh version could reorder two distinct
	// user intents, so the decision belongs to the caller.
	AppendStale
	AppendClosed
)

type AppendResult struct {
	Status AppendStatus
	// NewVersion is set on AppendOK, CurrentVersion on AppendStale.
	NewVersion     uint64
	CurrentVersion uint64
	Message        *Message
}

// Appender is the sole writer of message rows. It translates the store's
// CAS outcome into a caller-facing result and performs zero automatic
// retries on conflict.
type Appender struct {
	store *Store
}

func NewAppender(store *Store) *Appender {
	return &Appender{store: store}
}

func (a *Appender) Append(ctx context.Context, tenantID, sessionID string, expectedVersion uint64, msg *Message) (*AppendResult, error) {
	newVersion, err := a.store.AppendAtomic(ctx, tenantID, sessionID, expectedVersion, msg)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return &AppendResult{Status: AppendStale, CurrentVersion: conflict.CurrentVersion}, nil
		}
		if errors.Is(err, ErrSessionClosed) {
			return &AppendResult{Status: AppendClosed}, nil
		}
		return nil, err
	}
	return &AppendResult{Status: AppendOK, NewVersion: newVersion, Message: msg}, nil
}
