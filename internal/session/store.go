package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// DefaultFreshnessWindow bounds how long an idempotency key keeps matching
// an existing session in Create.
const DefaultFreshnessWindow = 30 * time.Minute

// ConflictError reports a failed compare-and-swap append. It carries the
// authoritative version so the caller can refresh and resubmit. It is an
// expected outcome, not a storage failure.
type ConflictError struct {
	CurrentVersion uint64
}

func (e *ConflictError) Error() string { return "session version conflict" }

// errCASLost aborts the append transaction; the public ConflictError is
// built afterwards from a fresh read of the row.
var errCASLost = errors.New("cas lost")

type Store struct {
	db        *gorm.DB
	freshness time.Duration
}

func NewStore(db *gorm.DB, freshness time.Duration) *Store {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	return &Store{db: db, freshness: freshness}
}

// Create starts a new open session for the tenant. When idempotencyKey is
// set and an open session with that key saw activity within the freshness
// window, that session is returned instead of a new one. A stale match has
// its key released so the new session can claim it.
func (s *Store) Create(ctx context.Context, tenantID, participantID string, idempotencyKey *string) (*Session, error) {
	now := time.Now()

	if idempotencyKey != nil && *idempotencyKey == "" {
		idempotencyKey = nil
	}

	if idempotencyKey != nil {
		existing, err := s.getByKey(ctx, tenantID, *idempotencyKey)
		switch {
		case err == nil:
			if existing.Status == StatusOpen && now.Sub(existing.LastActivityAt) <= s.freshness {
				return existing, nil
			}
			if err := s.db.WithContext(ctx).Model(&Session{}).
				Where("id = ?", existing.ID).
				Update("idempotency_key", nil).Error; err != nil {
				return nil, storageErr("create: release stale key", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// fall through to insert
		default:
			return nil, storageErr("create: lookup key", err)
		}
	}

	sid, err := NewSessionID()
	if err != nil {
		return nil, storageErr("create: session id", err)
	}

	sess := &Session{
		SessionID:      sid,
		TenantID:       tenantID,
		ParticipantID:  participantID,
		Status:         StatusOpen,
		IdempotencyKey: idempotencyKey,
		LastActivityAt: now,
	}

	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		// A concurrent create with the same key wins the unique index;
		// return the row it inserted.
		if idempotencyKey != nil {
			existing, getErr := s.getByKey(ctx, tenantID, *idempotencyKey)
			if getErr == nil {
				return existing, nil
			}
			if !errors.Is(getErr, gorm.ErrRecordNotFound) {
				return nil, storageErr("create: lookup after conflict", getErr)
			}
		}
		return nil, storageErr("create: insert", err)
	}
	return sess, nil
}

func (s *Store) getByKey(ctx context.Context, tenantID, key string) (*Session, error) {
	var sess Session
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		First(&sess).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

// Get is tenant-scoped: a session owned by another tenant is ErrNotFound.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND tenant_id = ?", sessionID, tenantID).
		First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get", err)
	}
	return &sess, nil
}

// AppendAtomic commits msg at sequence expectedVersion+1 iff the stored
// version still equals expectedVersion. The guarded version update and the
// unique (session_id, sequence_number) index together serialize concurrent
// writers; no in-process lock is involved. Returns the new version, or a
// *ConflictError carrying the current one.
func (s *Store) AppendAtomic(ctx context.Context, tenantID, sessionID string, expectedVersion uint64, msg *Message) (uint64, error) {
	newVersion := expectedVersion + 1

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess Session
		if err := tx.
			Where("session_id = ? AND tenant_id = ?", sessionID, tenantID).
			First(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return storageErr("append: load session", err)
		}
		if sess.Status == StatusClosed {
			return ErrSessionClosed
		}
		if sess.Version != expectedVersion {
			return errCASLost
		}

		res := tx.Model(&Session{}).
			Where("id = ? AND version = ?", sess.ID, expectedVersion).
			Updates(map[string]any{
				"version":          newVersion,
				"last_activity_at": time.Now(),
			})
		if res.Error != nil {
			return storageErr("append: bump version", res.Error)
		}
		if res.RowsAffected == 0 {
			return errCASLost
		}

		msg.SessionID = sessionID
		msg.TenantID = tenantID
		msg.SequenceNumber = newVersion
		if err := tx.Create(msg).Error; err != nil {
			// Unique sequence index: a racer already took this slot.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errCASLost
			}
			return storageErr("append: insert message", err)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, errCASLost) {
			current, getErr := s.Get(ctx, tenantID, sessionID)
			if getErr != nil {
				return 0, getErr
			}
			return 0, &ConflictError{CurrentVersion: current.Version}
		}
		return 0, err
	}
	return newVersion, nil
}

// SetRemoteSessionID rewrites the routing hint unconditionally. No version
// check: a recovery rewrite must never lose to an unrelated append.
func (s *Store) SetRemoteSessionID(ctx context.Context, tenantID, sessionID, remoteID string) error {
	err := s.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND tenant_id = ?", sessionID, tenantID).
		Update("remote_session_id", remoteID).Error
	if err != nil {
		return storageErr("set remote session id", err)
	}
	return nil
}

type HistoryPage struct {
	Messages []Message `json:"messages"`
	Total    int64     `json:"total"`
	HasMore  bool      `json:"has_more"`
}

// History returns messages ordered by sequence number, ascending.
func (s *Store) History(ctx context.Context, tenantID, sessionID string, limit, offset int) (*HistoryPage, error) {
	if _, err := s.Get(ctx, tenantID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&Message{}).
		Where("session_id = ? AND tenant_id = ?", sessionID, tenantID).
		Count(&total).Error; err != nil {
		return nil, storageErr("history: count", err)
	}

	var msgs []Message
	if err := s.db.WithContext(ctx).
		Where("session_id = ? AND tenant_id = ?", sessionID, tenantID).
		Order("sequence_number ASC").
		Limit(limit).Offset(offset).
		Find(&msgs).Error; err != nil {
		return nil, storageErr("history: list", err)
	}

	return &HistoryPage{
		Messages: msgs,
		Total:    total,
		HasMore:  int64(offset+len(msgs)) < total,
	}, nil
}

// RecentMessages returns the newest limit messages in ascending order,
// used to seed recovery.
func (s *Store) RecentMessages(ctx context.Context, tenantID, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var msgs []Message
	if err := s.db.WithContext(ctx).
		Where("session_id = ? AND tenant_id = ?", sessionID, tenantID).
		Order("sequence_number DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, storageErr("recent messages", err)
	}
	// reverse to ASC (oldest -> newest)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Close transitions the session to closed. Closing twice is a no-op.
func (s *Store) Close(ctx context.Context, tenantID, sessionID string) error {
	if _, err := s.Get(ctx, tenantID, sessionID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND tenant_id = ? AND status = ?", sessionID, tenantID, StatusOpen).
		Update("status", StatusClosed).Error
	if err != nil {
		return storageErr("close", err)
	}
	return nil
}
