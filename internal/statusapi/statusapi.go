// Package statusapi is a read-only HTTP diagnostic surface over a running
// simulator: liveness, register-bank snapshots, and connected-client stats.
// It never accepts Modbus traffic itself and is disabled unless configured.
package statusapi

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/zmodsim/zmodsim/internal/server"
	"github.com/zmodsim/zmodsim/internal/store"
)

// maxDumpedWords caps how many words of a bank /registers echoes in full;
// larger banks are summarized instead, avoiding an unbounded response body.
const maxDumpedWords = 2000

// API serves the diagnostic endpoints for one supervised device.
type API struct {
	app *fiber.App
}

// New builds an API backed by store (for /registers) and srv (for
// /clients). log is accepted but not used; no request logging is installed.
func New(s *store.Store, srv *server.Server, log *zap.Logger) *API {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/registers", func(c *fiber.Ctx) error {
		return c.JSON(registersSnapshot(s))
	})

	app.Get("/clients", func(c *fiber.Ctx) error {
		return c.JSON(srv.ConnectedClients())
	})

	return &API{app: app}
}

type bankSummary struct {
	Size       int      `json:"size"`
	Truncated  bool     `json:"truncated"`
	BoolValues []bool   `json:"bool_values,omitempty"`
	WordValues []uint16 `json:"word_values,omitempty"`
}

type registersResponse struct {
	Coils            bankSummary `json:"coils"`
	DiscreteInputs   bankSummary `json:"discrete_inputs"`
	HoldingRegisters bankSummary `json:"holding_registers"`
	InputRegisters   bankSummary `json:"input_registers"`
}

func registersSnapshot(s *store.Store) registersResponse {
	snap := s.Snapshot()

	resp := registersResponse{
		Coils:            bankSummary{Size: len(snap.Coils)},
		DiscreteInputs:   bankSummary{Size: len(snap.DiscreteInputs)},
		HoldingRegisters: bankSummary{Size: len(snap.HoldingRegisters)},
		InputRegisters:   bankSummary{Size: len(snap.InputRegisters)},
	}

	if len(snap.Coils) <= maxDumpedWords {
		resp.Coils.BoolValues = snap.Coils
	} else {
		resp.Coils.Truncated = true
	}
	if len(snap.DiscreteInputs) <= maxDumpedWords {
		resp.DiscreteInputs.BoolValues = snap.DiscreteInputs
	} else {
		resp.DiscreteInputs.Truncated = true
	}
	if len(snap.HoldingRegisters) <= maxDumpedWords {
		resp.HoldingRegisters.WordValues = snap.HoldingRegisters
	} else {
		resp.HoldingRegisters.Truncated = true
	}
	if len(snap.InputRegisters) <= maxDumpedWords {
		resp.InputRegisters.WordValues = snap.InputRegisters
	} else {
		resp.InputRegisters.Truncated = true
	}
	return resp
}

// Listen starts serving on addr. It blocks until the server stops.
func (a *API) Listen(addr string) error {
	return a.app.Listen(addr)
}

// Shutdown stops accepting new connections and drains in-flight requests.
func (a *API) Shutdown(ctx context.Context) error {
	return a.app.ShutdownWithContext(ctx)
}

// App exposes the underlying fiber.App for in-process request testing via
// app.Test, avoiding a real socket bind.
func (a *API) App() *fiber.App {
	return a.app
}
