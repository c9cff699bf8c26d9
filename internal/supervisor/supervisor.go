// Package supervisor wires the register store, protocol engine,
// auto-increment workers, and TCP listener into a single process lifecycle.
package supervisor

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zmodsim/zmodsim/internal/autoincrement"
	"github.com/zmodsim/zmodsim/internal/engine"
	"github.com/zmodsim/zmodsim/internal/protocol"
	"github.com/zmodsim/zmodsim/internal/server"
	"github.com/zmodsim/zmodsim/internal/store"
)

// Supervisor owns every long-running component of one simulated device.
type Supervisor struct {
	store   *store.Store
	server  *server.Server
	workers []*autoincrement.Worker
	log     *zap.Logger
}

// New assembles a Supervisor. addr is the listen address for the Modbus TCP
// server; workerConfigs holds zero, one, or two enabled auto-increment
// configs (holding and/or input bank).
func New(addr string, sizes store.Sizes, unitID byte, device engine.DeviceIdentity, workerConfigs []autoincrement.Config, log *zap.Logger) *Supervisor {
	s := store.New(sizes)
	eng := engine.New(s, protocol.UnitID(unitID), device)
	srv := server.New(addr, eng, log)

	workers := make([]*autoincrement.Worker, 0, len(workerConfigs))
	for _, cfg := range workerConfigs {
		if !cfg.Enabled() {
			continue
		}
		workers = append(workers, autoincrement.New(s, cfg, log))
	}

	return &Supervisor{store: s, server: srv, workers: workers, log: log}
}

// Store exposes the underlying register store, primarily for
// internal/statusapi and for preloading demo data before Run starts.
func (s *Supervisor) Store() *store.Store {
	return s.store
}

// Server exposes the TCP listener, primarily for internal/statusapi's
// connected-clients endpoint.
func (s *Supervisor) Server() *server.Server {
	return s.server
}

// Run starts the TCP listener and every auto-increment worker, then blocks
// until ctx is cancelled. It stops every component and waits for them to
// exit before returning, so a caller can rely on a clean return meaning a
// clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.server.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		w := w
		g.Go(func() error {
			if err := w.Run(gctx); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
				return err
			}
			return nil
		})
	}

	<-gctx.Done()
	s.log.Info("shutting down")

	stopErr := s.server.Stop()
	waitErr := g.Wait()

	if stopErr != nil {
		return stopErr
	}
	return waitErr
}
