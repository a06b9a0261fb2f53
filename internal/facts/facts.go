package facts

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Fact is one known business-state entry for a tenant, written by the
// onboarding flows elsewhere in the platform.
type Fact struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	TenantID string `gorm:"type:varchar(64);not null;index:uniq_fact_tenant_name,unique,priority:1" json:"-"`
	Name     string `gorm:"type:varchar(128);not null;index:uniq_fact_tenant_name,unique,priority:2" json:"name"`
	Value    string `gorm:"type:text;not null" json:"value"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Fact) TableName() string { return "business_facts" }

// Progress tracks onboarding completion for a tenant.
type Progress struct {
	TenantID       string `gorm:"primaryKey;type:varchar(64)" json:"-"`
	Summary        string `gorm:"type:text" json:"summary"`
	CompletedSteps int    `gorm:"not null;default:0" json:"completed_steps"`
	TotalSteps     int    `gorm:"not null;default:0" json:"total_steps"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (Progress) TableName() string { return "onboarding_progress" }

// Snapshot is what recovery seeding consumes.
type Snapshot struct {
	KnownFacts      map[string]string
	ProgressSummary string
}

// Provider supplies the business-state snapshot for a tenant.
type Provider interface {
	Snapshot(ctx context.Context, tenantID string) (*Snapshot, error)
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) UpsertFact(ctx context.Context, tenantID, name, value string) error {
	fact := Fact{TenantID: tenantID, Name: name, Value: value}
	return r.db.WithContext(ctx).
		Where("tenant_id = ? AND name = ?", tenantID, name).
		Assign(map[string]any{"value": value}).
		FirstOrCreate(&fact).Error
}

func (r *Repo) SetProgress(ctx context.Context, tenantID, summary string, completed, total int) error {
	p := Progress{TenantID: tenantID}
	return r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Assign(map[string]any{
			"summary":         summary,
			"completed_steps": completed,
			"total_steps":     total,
		}).
		FirstOrCreate(&p).Error
}

func (r *Repo) Snapshot(ctx context.Context, tenantID string) (*Snapshot, error) {
	var rows []Fact
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("name ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	known := make(map[string]string, len(rows))
	for _, f := range rows {
		known[f.Name] = f.Value
	}

	snap := &Snapshot{KnownFacts: known}

	var p Progress
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&p).Error
	if err == nil {
		snap.ProgressSummary = p.Summary
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return snap, nil
}
