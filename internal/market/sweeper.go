package market

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper fires the expiry pass on a fixed wall-clock interval. The
// interval is a liveness parameter, not a correctness one.
type Sweeper struct {
	interval time.Duration
	sweep    func(ctx context.Context) int
	log      *logrus.Entry

	stop chan struct{}
	done sync.WaitGroup
	once sync.Once
}

// NewSweeper creates a sweeper calling sweep every interval.
func NewSweeper(interval time.Duration, sweep func(ctx context.Context) int, log *logrus.Entry) *Sweeper {
	return &Sweeper{
		interval: interval,
		sweep:    sweep,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start launches the sweep loop in the background.
func (s *Sweeper) Start(ctx context.Context) {
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := s.sweep(ctx); n > 0 {
					s.log.WithField("reclaimed", n).Info("expiry sweep")
				}
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.done.Wait()
}
