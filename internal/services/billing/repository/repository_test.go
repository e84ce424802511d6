package repository

import (
	"context"
	"testing"
	"time"

	"github.com/chatwave-go/internal/domain/billing"
	"github.com/chatwave-go/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	repo := New(&database.DB{DB: gormDB})
	require.NoError(t, repo.Migrate())
	return repo
}

func TestRecordPlanChange(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	record := billing.NewPlanChangeRecord("user-1", "alice@example.com", "price_basic", "price_pro", "upgraded", "sub_1")
	require.NoError(t, repo.RecordPlanChange(ctx, record))

	older := billing.NewPlanChangeRecord("user-1", "alice@example.com", "", "price_basic", "new_checkout", "")
	older.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.RecordPlanChange(ctx, older))

	records, err := repo.PlanChangesByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "upgraded", records[0].Transition)
	assert.Equal(t, "new_checkout", records[1].Transition)

	records, err = repo.PlanChangesByUser(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReconciliationLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	rec := &billing.CheckoutReconciliation{
		SessionID: "cs_1",
		UserID:    "user-1",
		Status:    billing.ReconciliationPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.UpsertReconciliation(ctx, rec))

	loaded, err := repo.ReconciliationBySession(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, billing.ReconciliationPending, loaded.Status)

	loaded.Status = billing.ReconciliationComplete
	loaded.SubscriptionID = "sub_1"
	require.NoError(t, repo.UpsertReconciliation(ctx, loaded))

	loaded, err = repo.ReconciliationBySession(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, billing.ReconciliationComplete, loaded.Status)
	assert.Equal(t, "sub_1", loaded.SubscriptionID)

	_, err = repo.ReconciliationBySession(ctx, "cs_missing")
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestPendingReconciliations(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for i, sessionID := range []string{"cs_old", "cs_new"} {
		rec := &billing.CheckoutReconciliation{
			SessionID: sessionID,
			UserID:    "user-1",
			Status:    billing.ReconciliationPending,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.UpsertReconciliation(ctx, rec))
	}
	done := &billing.CheckoutReconciliation{
		SessionID: "cs_done",
		UserID:    "user-1",
		Status:    billing.ReconciliationComplete,
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.UpsertReconciliation(ctx, done))

	pending, err := repo.PendingReconciliations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "cs_old", pending[0].SessionID)

	pending, err = repo.PendingReconciliations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
