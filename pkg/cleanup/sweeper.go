// Package cleanup runs periodic background sweeps over rows with deadlines:
// expired leases are released and expired subscriptions deactivated without
// waiting for a request to touch them.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// SweepFunc performs one sweep and reports how many rows it expired.
type SweepFunc func(ctx context.Context) (int, error)

// Sweeper runs one SweepFunc on a fixed interval until stopped.
type Sweeper struct {
	name     string
	interval time.Duration
	sweep    SweepFunc

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper; Start launches it.
func NewSweeper(name string, interval time.Duration, sweep SweepFunc) *Sweeper {
	return &Sweeper{
		name:     name,
		interval: interval,
		sweep:    sweep,
	}
}

// Start launches the sweep loop. The first sweep runs immediately so a
// restart clears any backlog without waiting a full interval.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.run(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.run(ctx)
			}
		}
	}()
	slog.Info("Started background sweeper", "name", s.name, "interval", s.interval)
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Stopped background sweeper", "name", s.name)
}

func (s *Sweeper) run(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	n, err := s.sweep(sweepCtx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Background sweep failed", "name", s.name, "error", err)
		}
		return
	}
	if n > 0 {
		slog.Debug("Background sweep expired rows", "name", s.name, "count", n)
	}
}
