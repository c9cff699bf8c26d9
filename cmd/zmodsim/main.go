// Command zmodsim runs the Modbus TCP slave simulator: it listens on a
// configured port, answers Modbus requests against four in-memory register
// banks, and optionally drives auto-increment workers on the holding and
// input banks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zmodsim/zmodsim/internal/autoincrement"
	"github.com/zmodsim/zmodsim/internal/config"
	"github.com/zmodsim/zmodsim/internal/engine"
	"github.com/zmodsim/zmodsim/internal/obslog"
	"github.com/zmodsim/zmodsim/internal/statusapi"
	"github.com/zmodsim/zmodsim/internal/store"
	"github.com/zmodsim/zmodsim/internal/supervisor"
)

type flags struct {
	configPath string
	unitID     int
	port       int
	coils      int
	discrete   int
	holding    int
	input      int

	holdingAuto     bool
	holdingRegs     string
	holdingInterval int
	holdingInc      int
	holdingMax      int

	inputAuto     bool
	inputRegs     string
	inputInterval int
	inputInc      int
	inputMax      int

	statusAddr     string
	logLevel       string
	logJSON        bool
	generateConfig bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "zmodsim",
		Short: "Modbus TCP slave simulator",
		Long: `zmodsim simulates a Modbus TCP slave device: it answers Modbus
function-code requests against four in-memory register banks and can drive
background workers that periodically increment selected registers.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "f", "", "path to a JSON config file")
	cmd.Flags().IntVarP(&f.unitID, "unit-id", "u", 0, "slave unit id (1-247)")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "TCP listen port")
	cmd.Flags().IntVar(&f.coils, "coils", 0, "coil bank size")
	cmd.Flags().IntVar(&f.discrete, "discrete", 0, "discrete input bank size")
	cmd.Flags().IntVar(&f.holding, "holding", 0, "holding register bank size")
	cmd.Flags().IntVar(&f.input, "input", 0, "input register bank size")

	cmd.Flags().BoolVar(&f.holdingAuto, "holding-auto", false, "enable holding-register auto-increment")
	cmd.Flags().StringVar(&f.holdingRegs, "holding-regs", "", "holding auto-increment addresses, e.g. 0-3,10")
	cmd.Flags().IntVar(&f.holdingInterval, "holding-interval", 0, "holding auto-increment interval (ms)")
	cmd.Flags().IntVar(&f.holdingInc, "holding-inc", 0, "holding auto-increment step")
	cmd.Flags().IntVar(&f.holdingMax, "holding-max", 0, "holding auto-increment wrap threshold")

	cmd.Flags().BoolVar(&f.inputAuto, "input-auto", false, "enable input-register auto-increment")
	cmd.Flags().StringVar(&f.inputRegs, "input-regs", "", "input auto-increment addresses, e.g. 0-3,10")
	cmd.Flags().IntVar(&f.inputInterval, "input-interval", 0, "input auto-increment interval (ms)")
	cmd.Flags().IntVar(&f.inputInc, "input-inc", 0, "input auto-increment step")
	cmd.Flags().IntVar(&f.inputMax, "input-max", 0, "input auto-increment wrap threshold")

	cmd.Flags().StringVar(&f.statusAddr, "status-addr", "", "enable the read-only status HTTP API on this address")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&f.logJSON, "log-json", false, "emit logs as JSON lines")
	cmd.Flags().BoolVar(&f.generateConfig, "generate-config", false, "print a default config file and exit")

	return cmd
}

func run(ctx context.Context, f *flags) error {
	if f.generateConfig {
		return printDefaultConfig()
	}

	cfg, err := config.Load(f.configPath, overridesFrom(f))
	if err != nil {
		return err
	}

	log, err := obslog.New(obslog.Config{Level: f.logLevel, JSON: f.logJSON})
	if err != nil {
		return err
	}
	defer log.Sync()

	sup := supervisor.New(
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		store.Sizes{
			Coils:            cfg.BankSizes.Coils,
			DiscreteInputs:   cfg.BankSizes.Discrete,
			HoldingRegisters: cfg.BankSizes.Holding,
			InputRegisters:   cfg.BankSizes.Input,
		},
		cfg.UnitID,
		engine.DeviceIdentity{
			VendorName:         "zmodsim",
			ProductCode:        "ZMODSIM-TCP",
			MajorMinorRevision: "1.0",
		},
		workerConfigs(cfg),
		log,
	)

	if cfg.StatusAddr != "" {
		api := statusapi.New(sup.Store(), sup.Server(), log)
		go func() {
			if err := api.Listen(cfg.StatusAddr); err != nil {
				log.Error("status api stopped", zap.Error(err))
			}
		}()
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return sup.Run(runCtx)
}

func workerConfigs(cfg config.Config) []autoincrement.Config {
	var out []autoincrement.Config
	if cfg.HoldingAuto.Enabled {
		out = append(out, autoincrement.Config{
			Bank:     store.BankHolding,
			Addrs:    toIntSlice(cfg.HoldingAuto.Addresses),
			Interval: msDuration(cfg.HoldingAuto.IntervalMs),
			Step:     cfg.HoldingAuto.Increment,
			Max:      cfg.HoldingAuto.Max,
		})
	}
	if cfg.InputAuto.Enabled {
		out = append(out, autoincrement.Config{
			Bank:     store.BankInput,
			Addrs:    toIntSlice(cfg.InputAuto.Addresses),
			Interval: msDuration(cfg.InputAuto.IntervalMs),
			Step:     cfg.InputAuto.Increment,
			Max:      cfg.InputAuto.Max,
		})
	}
	return out
}

func toIntSlice(addrs []uint16) []int {
	out := make([]int, len(addrs))
	for i, a := range addrs {
		out[i] = int(a)
	}
	return out
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// overridesFrom converts only flags with non-zero values into a viper
// override map, so unset flags fall through to the config file or defaults
// rather than stomping them with zero values. A flag set explicitly to its
// zero value is treated the same as an unset flag.
func overridesFrom(f *flags) map[string]any {
	out := map[string]any{}
	if f.unitID != 0 {
		out["unit_id"] = f.unitID
	}
	if f.port != 0 {
		out["port"] = f.port
	}
	if f.coils != 0 {
		out["bank_sizes.coils"] = f.coils
	}
	if f.discrete != 0 {
		out["bank_sizes.discrete"] = f.discrete
	}
	if f.holding != 0 {
		out["bank_sizes.holding"] = f.holding
	}
	if f.input != 0 {
		out["bank_sizes.input"] = f.input
	}
	if f.statusAddr != "" {
		out["status_addr"] = f.statusAddr
	}

	applyAutoOverrides(out, "holding_auto", f.holdingAuto, f.holdingRegs, f.holdingInterval, f.holdingInc, f.holdingMax)
	applyAutoOverrides(out, "input_auto", f.inputAuto, f.inputRegs, f.inputInterval, f.inputInc, f.inputMax)

	return out
}

func applyAutoOverrides(out map[string]any, prefix string, enabled bool, regs string, interval, inc, max int) {
	if !enabled {
		return
	}
	out[prefix+".enabled"] = true
	if addrs, err := config.ParseAddressList(regs); err == nil {
		out[prefix+".addresses"] = addrs
	}
	out[prefix+".interval_ms"] = interval
	out[prefix+".increment"] = inc
	out[prefix+".max"] = max
}

// printDefaultConfig writes the defaults under the same snake_case keys that
// config.Load reads, so the output can be used as a config file.
func printDefaultConfig() error {
	d := config.Defaults()
	auto := func(a config.AutoIncrement) map[string]any {
		return map[string]any{"enabled": a.Enabled, "addresses": a.Addresses, "interval_ms": a.IntervalMs, "increment": a.Increment, "max": a.Max}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"unit_id":      d.UnitID,
		"port":         d.Port,
		"bank_sizes":   map[string]int{"coils": d.BankSizes.Coils, "discrete": d.BankSizes.Discrete, "holding": d.BankSizes.Holding, "input": d.BankSizes.Input},
		"holding_auto": auto(d.HoldingAuto),
		"input_auto":   auto(d.InputAuto),
		"status_addr":  d.StatusAddr,
	})
}
