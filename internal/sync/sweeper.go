package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/neighborly/volunteerhub/internal/backend"
)

// Sweeper periodically marks opportunities whose date has passed as
// taken, then re-fetches so the local set reflects the sweep. The
// write is day-granular: an opportunity stays visible through the
// whole of its scheduled day.
type Sweeper struct {
	engine   *Engine
	store    backend.Store
	interval time.Duration
	now      Clock
	log      *zap.Logger

	stop    chan struct{}
	stopped chan struct{}
}

// NewSweeper builds a sweeper; it does nothing until Start.
func NewSweeper(engine *Engine, store backend.Store, interval time.Duration, now Clock, log *zap.Logger) *Sweeper {
	return &Sweeper{
		engine:   engine,
		store:    store,
		interval: interval,
		now:      now,
		log:      log,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start sweeps once immediately, then on every tick.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.stopped)
		s.Sweep(context.Background())
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the ticker and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.stopped
}

// Sweep runs one pass. Failures are logged and swallowed; the next
// tick tries again and expired entries merely linger until then.
func (s *Sweeper) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	cutoff := Today(s.now())
	n, err := s.store.MarkExpiredTaken(ctx, cutoff)
	if err != nil {
		s.log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("expired opportunities swept", zap.Int64("count", n))
	}
	if err := s.engine.Refetch(ctx, backend.CollectionOpportunities); err != nil {
		s.log.Error("post-sweep re-fetch failed", zap.Error(err))
	}
}
