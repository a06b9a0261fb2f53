package session

import "time"

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Session struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`

	TenantID      string `gorm:"type:varchar(64);not null;index;index:uniq_sess_idempo,unique,priority:1" json:"-"`
	ParticipantID string `gorm:"type:varchar(64);not null;index" json:"participant_id"`

	// Correlation hint for the remote runtime. May be nil or stale; the
	// durable log is the source of truth, not this field.
	RemoteSessionID *string `gorm:"type:varchar(128)" json:"-"`

	// Version equals the number of messages ever appended to this session
	// and is the CAS token for AppendAtomic.
	Version uint64 `gorm:"not null;default:0" json:"version"`

	Status Status `gorm:"type:varchar(16);not null;default:open" json:"status"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_sess_idempo,unique,priority:2" json:"-"`

	LastActivityAt time.Time `gorm:"index;not null" json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"-"`
}

func (Session) TableName() string { return "convo_sessions" }

type Message struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string `gorm:"type:varchar(26);not null;index:uniq_msg_seq,unique,priority:1" json:"session_id"`
	TenantID  string `gorm:"type:varchar(64);not null;index" json:"-"`

	Role    string `gorm:"type:varchar(16);not null" json:"role"`
	Content string `gorm:"type:text;not null" json:"content"`

	ToolCalls ToolCalls `gorm:"type:text;serializer:json" json:"tool_calls,omitempty"`

	// Gapless per session: equals the session version at commit time.
	SequenceNumber uint64 `gorm:"not null;index:uniq_msg_seq,unique,priority:2" json:"sequence_number"`

	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "convo_messages" }

// ToolCall records a tool invocation attached to an assistant message.
// Immutable once the message is committed.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result,omitempty"`
}

type ToolCalls []ToolCall
