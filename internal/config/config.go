// Package config loads and validates the simulator's configuration: bank
// sizes, the unit id this device answers to, the listen port, and the
// auto-increment schedule for the holding and input banks.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// BankSizes fixes the four register bank sizes.
type BankSizes struct {
	Coils     int `mapstructure:"coils"`
	Discrete  int `mapstructure:"discrete"`
	Holding   int `mapstructure:"holding"`
	Input     int `mapstructure:"input"`
}

// AutoIncrement describes one bank's background mutator.
type AutoIncrement struct {
	Enabled    bool     `mapstructure:"enabled"`
	Addresses  []uint16 `mapstructure:"addresses"`
	IntervalMs int      `mapstructure:"interval_ms"`
	Increment  uint16   `mapstructure:"increment"`
	Max        uint16   `mapstructure:"max"`
}

// Config is the full, validated configuration record. Its shape mirrors the
// JSON configuration contract exactly (`unit_id`, `port`, `bank_sizes`,
// `holding_auto`, `input_auto`).
type Config struct {
	UnitID      byte          `mapstructure:"unit_id"`
	Port        int           `mapstructure:"port"`
	BankSizes   BankSizes     `mapstructure:"bank_sizes"`
	HoldingAuto AutoIncrement `mapstructure:"holding_auto"`
	InputAuto   AutoIncrement `mapstructure:"input_auto"`

	// StatusAddr, when non-empty, enables the read-only HTTP introspection
	// API (internal/statusapi) on this address. Empty disables it.
	StatusAddr string `mapstructure:"status_addr"`
}

// Defaults returns the configuration used when no file, flags, or
// environment variables override it.
func Defaults() Config {
	return Config{
		UnitID: 1,
		Port:   502,
		BankSizes: BankSizes{
			Coils:    100,
			Discrete: 100,
			Holding:  100,
			Input:    100,
		},
	}
}

// Load builds a Config from, in ascending precedence, built-in defaults, a
// config file (if configPath is non-empty), environment variables prefixed
// ZMODSIM_, and finally overrides. overrides is applied last so CLI flags
// always win, matching the "CLI > file > defaults" precedence rule.
func Load(configPath string, overrides map[string]any) (Config, error) {
	v := viper.New()

	def := Defaults()
	v.SetDefault("unit_id", def.UnitID)
	v.SetDefault("port", def.Port)
	v.SetDefault("bank_sizes.coils", def.BankSizes.Coils)
	v.SetDefault("bank_sizes.discrete", def.BankSizes.Discrete)
	v.SetDefault("bank_sizes.holding", def.BankSizes.Holding)
	v.SetDefault("bank_sizes.input", def.BankSizes.Input)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix("ZMODSIM")
	v.AutomaticEnv()

	for key, val := range overrides {
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the range and consistency invariants from the
// configuration contract, clamping `increment` to `max` when it would
// otherwise overflow the wrap-to-zero arithmetic.
func Validate(cfg *Config) error {
	if cfg.UnitID < 1 || cfg.UnitID > 247 {
		return fmt.Errorf("config: unit_id %d out of range [1,247]", cfg.UnitID)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("config: port %d out of range [1,65535]", cfg.Port)
	}
	for name, size := range map[string]int{
		"coils": cfg.BankSizes.Coils, "discrete": cfg.BankSizes.Discrete,
		"holding": cfg.BankSizes.Holding, "input": cfg.BankSizes.Input,
	} {
		if size < 0 || size > 65535 {
			return fmt.Errorf("config: bank_sizes.%s %d out of range [0,65535]", name, size)
		}
	}

	if err := validateAutoIncrement("holding_auto", &cfg.HoldingAuto, cfg.BankSizes.Holding); err != nil {
		return err
	}
	if err := validateAutoIncrement("input_auto", &cfg.InputAuto, cfg.BankSizes.Input); err != nil {
		return err
	}
	return nil
}

func validateAutoIncrement(name string, ai *AutoIncrement, bankSize int) error {
	if !ai.Enabled {
		return nil
	}
	if ai.IntervalMs <= 0 {
		return fmt.Errorf("config: %s.interval_ms must be > 0 when enabled", name)
	}
	for _, a := range ai.Addresses {
		if int(a) >= bankSize {
			return fmt.Errorf("config: %s.addresses contains %d, out of range for bank size %d", name, a, bankSize)
		}
	}
	// Resolves the spec's increment > max footgun: clamp rather than let the
	// wrap-to-zero threshold arithmetic (max - increment) underflow.
	if ai.Increment > ai.Max {
		ai.Increment = ai.Max
	}
	return nil
}

// ParseAddressList parses the register-list grammar:
// item (',' item)* where item := u16 | u16'-'u16 (inclusive range).
func ParseAddressList(s string) ([]uint16, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var out []uint16
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		if lo, hi, ok := strings.Cut(item, "-"); ok {
			start, err := strconv.ParseUint(lo, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("config: invalid range start %q: %w", lo, err)
			}
			end, err := strconv.ParseUint(hi, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("config: invalid range end %q: %w", hi, err)
			}
			if end < start {
				return nil, fmt.Errorf("config: invalid range %q: end before start", item)
			}
			for v := start; v <= end; v++ {
				out = append(out, uint16(v))
			}
			continue
		}

		v, err := strconv.ParseUint(item, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("config: invalid address %q: %w", item, err)
		}
		out = append(out, uint16(v))
	}
	return out, nil
}
