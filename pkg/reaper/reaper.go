// Package reaper periodically sweeps the data store for expired entries.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/clock"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/store"
)

// Reaper calls Store.ReapExpired on a fixed period.
type Reaper struct {
	logger *slog.Logger
	clock  clock.Clock
	store  *store.Store
	period time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Reaper. A non-positive period defaults to one second.
func New(logger *slog.Logger, c clock.Clock, st *store.Store, period time.Duration) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	if period <= 0 {
		period = time.Second
	}
	return &Reaper{logger: logger.With("component", "reaper"), clock: c, store: st, period: period}
}

// Start begins the periodic sweep. Idempotent: a second call is a no-op.
func (r *Reaper) Start() {
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.store.ReapExpired(r.clock.NowMs())
			}
		}
	}()
}

// Stop cancels the sweep and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
}
