// Package refresher recomputes each known peer's UP/DOWN state from the
// failure detector's phi score on a fixed schedule.
package refresher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/failuredetector"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/membership"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
)

// StateRefresher scans every known peer at a fixed cadence, computing phi
// and setting UP iff phi < convictThreshold. A peer the failure detector
// has never observed is set DOWN without reading phi.
type StateRefresher struct {
	logger *slog.Logger
	fd     *failuredetector.Detector
	table  *membership.Table
	nowNs  func() int64
	period time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a StateRefresher. A non-positive period defaults to one
// second.
func New(logger *slog.Logger, fd *failuredetector.Detector, table *membership.Table, nowNs func() int64, period time.Duration) *StateRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	if period <= 0 {
		period = time.Second
	}
	return &StateRefresher{logger: logger.With("component", "refresher"), fd: fd, table: table, nowNs: nowNs, period: period}
}

// Start begins the periodic scan. Idempotent: a second call is a no-op.
func (r *StateRefresher) Start() {
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
				r.tick()
			}
		}
	}()
}

func (r *StateRefresher) tick() {
	now := r.nowNs()
	for _, nodeId := range r.table.AllNodeIds() {
		if !r.fd.Observed(nodeId) {
			// Never reported: Phi would read 0 ("cannot yet convict"), which
			// would otherwise be mistaken for "healthy". Leave it DOWN until
			// the first arrival is observed.
			r.table.SetState(nodeId, model.Down)
			continue
		}
		phi := r.fd.Phi(nodeId, now)
		if phi < r.fd.ConvictThreshold() {
			r.table.SetState(nodeId, model.Up)
		} else {
			r.table.SetState(nodeId, model.Down)
		}
	}
}

// Stop cancels the scan and waits for it to exit.
func (r *StateRefresher) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
}
