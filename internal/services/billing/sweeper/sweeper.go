package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/chatwave-go/internal/domain/billing"
	"github.com/chatwave-go/internal/services/billing/repository"
	"github.com/chatwave-go/internal/services/billing/service"
	"github.com/chatwave-go/pkg/logger"
	"github.com/robfig/cron/v3"
)

const pendingBatchSize = 50

// Sweeper periodically re-verifies checkout sessions that were created
// but never confirmed by the frontend redirect, so completed payments
// are reconciled even when the user closes the tab.
type Sweeper struct {
	service *service.Service
	repo    *repository.Repository
	logger  logger.Logger
	cron    *cron.Cron
}

func New(svc *service.Service, repo *repository.Repository, log logger.Logger) *Sweeper {
	return &Sweeper{
		service: svc,
		repo:    repo,
		logger:  log,
		cron:    cron.New(),
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc("@every 5m", s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pending, err := s.repo.PendingReconciliations(ctx, pendingBatchSize)
	if err != nil {
		s.logger.Error("failed to load pending reconciliations", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	s.logger.Info("re-verifying pending checkout sessions", "count", len(pending))
	for _, rec := range pending {
		if _, err := s.service.VerifySession(ctx, rec.SessionID); err != nil {
			// Sessions the customer never finished stay pending.
			if errors.Is(err, billing.ErrNotFound) {
				continue
			}
			s.logger.Warn("failed to re-verify checkout session",
				"sessionId", rec.SessionID, "error", err)
		}
	}
}
