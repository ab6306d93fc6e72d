package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tagwerk/chiptrace/internal/store"
)

// AutoExpireReason is recorded on windows abandoned by the sweeper.
const AutoExpireReason = "auto-expired"

// Sweeper abandons execution windows that have stayed open longer than the
// configured TTL. An indefinitely open window would otherwise block the
// at-most-one-open invariant for its schedulable forever.
type Sweeper struct {
	store    store.Store
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper that expires windows open longer than ttl,
// checking every interval.
func NewSweeper(s store.Store, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: s, ttl: ttl, interval: interval, logger: logger}
}

// Start begins periodic sweeping. It runs an initial sweep immediately,
// then on each tick.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the sweeper and waits for the current sweep (if any) to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	n, err := s.store.ExpireWindows(ctx, cutoff, AutoExpireReason)
	if err != nil {
		s.logger.Error("window sweep failed", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired stale execution windows", "count", n, "ttl", s.ttl)
	}
}
