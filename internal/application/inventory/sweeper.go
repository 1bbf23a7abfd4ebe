package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/cartloom/fulfillment/internal/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Sweeper periodically flips expired reservations for audit-log hygiene.
// Correctness does not depend on it: availability ignores expired holds
// whether or not they have been swept.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	expired  prometheus.Counter

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSweeper(manager *Manager, interval time.Duration, expired prometheus.Counter) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		manager:  manager,
		interval: interval,
		expired:  expired,
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		bg, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		go s.run(bg)
	})
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
	})
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	logger := logging.FromContext(ctx).With(zap.String("component", "reservation_sweeper"))
	logger.Info("sweeper_started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper_stopped")
			return
		case <-ticker.C:
			n, err := s.manager.SweepExpired(ctx)
			if err != nil {
				logger.Warn("sweep_failed", zap.Error(err))
				continue
			}
			if n > 0 {
				if s.expired != nil {
					s.expired.Add(float64(n))
				}
				logger.Info("reservations_expired", zap.Int("count", n))
			}
		}
	}
}
