// Package config loads the kernel's boot parameters from a TOML file,
// mirroring runsc/config's struct-driven configuration but backed by
// a file instead of an OCI flag surface, since this kernel has no
// container runtime to annotate.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// Config is every boot-time parameter the kernel reads before bring-up
// starts; nothing in it may change after Load returns.
type Config struct {
	// TickHz is the per-CPU timer tick frequency driving the scheduler.
	TickHz uint32 `toml:"tick_hz"`
	// MaxCPUs caps how many CPUs bring-up will online, even if the
	// simulated MADT lists more; 0 means "no cap, use the MADT count".
	MaxCPUs uint32 `toml:"max_cpus"`
	// RebalanceEveryTicks is how often the BSP runs cross-CPU rebalance.
	RebalanceEveryTicks uint64 `toml:"rebalance_every_ticks"`
	// LogLevel is a logrus level name: "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level"`
	// ConsoleRows/ConsoleCols size the init task's controlling PTY.
	ConsoleRows uint16 `toml:"console_rows"`
	ConsoleCols uint16 `toml:"console_cols"`
}

// Default returns the configuration used when no boot.toml is found,
// matching the values this kernel's packages already default to on
// their own (100Hz ticks, rebalance every 10 ticks, a 24x80 console).
func Default() Config {
	return Config{
		TickHz:              100,
		MaxCPUs:             0,
		RebalanceEveryTicks: 10,
		LogLevel:            "info",
		ConsoleRows:         24,
		ConsoleCols:         80,
	}
}

// Load reads and validates a boot config file. A missing log_level
// defaults to "info" rather than erroring, since logrus treats an
// empty level as invalid.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.TickHz == 0 {
		return Config{}, fmt.Errorf("config: tick_hz must be > 0")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// LogrusLevel parses LogLevel, silently falling back to
// logrus.InfoLevel on an unrecognized name rather than failing boot
// over a typo'd config value.
func (c Config) LogrusLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
