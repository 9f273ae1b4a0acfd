package consent

import (
	"context"
	"sync"
	"time"

	"github.com/medrex/consent-ledger/pkg/logger"
)

// Sweeper periodically persists expiry of ACTIVE contracts. Expiry is already
// enforced on read, so the sweeper only keeps stored state and history current.
type Sweeper struct {
	ledger   *Ledger
	interval time.Duration
	logger   *logger.Logger

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper running every interval. A non-positive
// interval disables the loop; SweepOnce still works.
func NewSweeper(ledger *Ledger, interval time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.Discard()
	}
	return &Sweeper{
		ledger:   ledger,
		interval: interval,
		logger:   log,
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopChan != nil {
		return
	}
	if s.interval <= 0 {
		s.logger.WithComponent("sweeper").Info("Expiry sweeper disabled")
		return
	}
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(ctx, s.stopChan, s.done)
	s.logger.WithComponent("sweeper").WithField("interval", s.interval.String()).Info("Expiry sweeper started")
}

// Stop halts the loop and waits for an in-flight sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stop, done := s.stopChan, s.done
	s.stopChan, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	s.logger.WithComponent("sweeper").Info("Expiry sweeper stopped")
}

// SweepOnce runs a single pass
func (s *Sweeper) SweepOnce() int {
	n, err := s.ledger.ExpireStale()
	entry := s.logger.WithComponent("sweeper").WithField("expired", n)
	if err != nil {
		entry.WithError(err).Error("Expiry sweep failed")
		return n
	}
	if n > 0 {
		entry.Info("Expired stale consent contracts")
	}
	return n
}

func (s *Sweeper) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce()
		case <-ctx.Done():
			return
		case <-stop:
			return
		}
	}
}
