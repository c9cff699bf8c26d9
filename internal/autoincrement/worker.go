// Package autoincrement runs the background tickers that periodically bump
// configured holding/input register addresses, simulating a live process
// value without any client traffic.
package autoincrement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zmodsim/zmodsim/internal/store"
)

// Config describes one bank's auto-increment behavior. Addrs is the
// resolved, bounds-checked set of register addresses this worker ticks.
type Config struct {
	Bank     store.Bank
	Addrs    []int
	Interval time.Duration
	Step     uint16
	Max      uint16
}

// Enabled reports whether this config describes an active worker. A zero
// Config (no addresses, no interval) means the bank's auto-increment is
// configured off.
func (c Config) Enabled() bool {
	return len(c.Addrs) > 0 && c.Interval > 0
}

// Worker ticks a single bank's configured addresses on a fixed interval. It
// does not catch up on missed ticks: a stalled tick is simply skipped, it
// never fires twice in a row to compensate.
type Worker struct {
	cfg   Config
	store *store.Store
	log   *zap.Logger
}

// New constructs a Worker. cfg must be Enabled(); callers should not start a
// Worker for a disabled bank.
func New(s *store.Store, cfg Config, log *zap.Logger) *Worker {
	return &Worker{cfg: cfg, store: s, log: log}
}

// Run blocks, ticking until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.log.Debug("auto-increment worker started",
		zap.Int("bank", int(w.cfg.Bank)),
		zap.Duration("interval", w.cfg.Interval),
		zap.Uint16("step", w.cfg.Step),
		zap.Uint16("max", w.cfg.Max),
		zap.Int("address_count", len(w.cfg.Addrs)),
	)

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("auto-increment worker stopped", zap.Int("bank", int(w.cfg.Bank)))
			return ctx.Err()
		case <-ticker.C:
			w.store.Increment(w.cfg.Bank, w.cfg.Addrs, w.cfg.Step, w.cfg.Max)
		}
	}
}
