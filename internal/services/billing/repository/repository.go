package repository

import (
	"context"
	"errors"
	"time"

	"github.com/chatwave-go/internal/domain/billing"
	"github.com/chatwave-go/pkg/database"
	"gorm.io/gorm"
)

// Repository persists billing audit rows. Provider state is never
// cached here; these tables only record what this service did.
type Repository struct {
	db *database.DB
}

func New(db *database.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&billing.PlanChangeRecord{}, &billing.CheckoutReconciliation{})
}

func (r *Repository) RecordPlanChange(ctx context.Context, record *billing.PlanChangeRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *Repository) PlanChangesByUser(ctx context.Context, userID string) ([]*billing.PlanChangeRecord, error) {
	var records []*billing.PlanChangeRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&records).Error
	return records, err
}

// UpsertReconciliation records a checkout session; the session ID is
// the primary key so repeated verification attempts overwrite in place.
func (r *Repository) UpsertReconciliation(ctx context.Context, rec *billing.CheckoutReconciliation) error {
	rec.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(rec).Error
}

func (r *Repository) ReconciliationBySession(ctx context.Context, sessionID string) (*billing.CheckoutReconciliation, error) {
	var rec billing.CheckoutReconciliation
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, billing.NotFoundError("checkout session " + sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PendingReconciliations returns sessions still awaiting verification,
// oldest first, for the sweeper to retry.
func (r *Repository) PendingReconciliations(ctx context.Context, limit int) ([]*billing.CheckoutReconciliation, error) {
	var recs []*billing.CheckoutReconciliation
	err := r.db.WithContext(ctx).
		Where("status = ?", billing.ReconciliationPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
