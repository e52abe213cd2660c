package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/federated-memory/federated-memory/internal/cmi"
	"github.com/federated-memory/federated-memory/internal/userstore"
)

// IntegritySweepService periodically restores the "every row has exactly
// one CMI entry" invariant after a StorageFailure leaves indexMemory's
// write-through half-done (§9 "Write-through consistency without 2PC").
type IntegritySweepService struct {
	users    userstore.Store
	cmi      *cmi.CMI
	interval time.Duration
}

// NewIntegritySweepService creates a new sweep service.
func NewIntegritySweepService(users userstore.Store, c *cmi.CMI, interval time.Duration) *IntegritySweepService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &IntegritySweepService{users: users, cmi: c, interval: interval}
}

// Start begins the sweep loop. Returns when ctx is cancelled.
func (s *IntegritySweepService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *IntegritySweepService) sweep(ctx context.Context) {
	userIDs, err := s.users.ListIDs(ctx)
	if err != nil {
		log.Error("Integrity sweep: list users failed", "err", err)
		return
	}

	total := 0
	for _, userID := range userIDs {
		repaired, err := s.cmi.ReconcileUser(ctx, userID)
		if err != nil {
			log.Error("Integrity sweep: reconcile failed", "user", userID, "err", err)
			continue
		}
		total += repaired
	}

	if total > 0 {
		log.Info("Integrity sweep: repaired CMI entries", "count", total)
	}
}
