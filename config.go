package goproc

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// Duration wraps time.Duration so config files can say "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config tunes the runtime. Zero fields fall back to the executor's and
// logger's defaults; DefaultConfig spells those defaults out and
// LoadConfig starts from it.
type Config struct {
	// Parallelism is the executor's worker thread count, default is the
	// count of online logical cores.
	Parallelism int `toml:"parallelism"`
	// BlockingCap bounds the blocking pool, default 512.
	BlockingCap int `toml:"blocking_cap"`
	// BlockingIdle is how long an idle blocking thread lingers, default 10s.
	BlockingIdle Duration `toml:"blocking_idle"`
	// LogLevel is a zerolog level name, default "warn" so the core is quiet.
	LogLevel string `toml:"log_level"`
	// LogConsole pretty prints to stdout instead of writing JSON.
	LogConsole bool `toml:"log_console"`
}

func DefaultConfig() Config {
	return Config{
		Parallelism:  runtime.NumCPU(),
		BlockingCap:  512,
		BlockingIdle: Duration{10 * time.Second},
		LogLevel:     zerolog.LevelWarnValue,
	}
}

// LoadConfig reads a TOML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Parallelism < 0 {
		return fmt.Errorf("invalid parallelism: %d", c.Parallelism)
	}
	if c.BlockingCap < 0 {
		return fmt.Errorf("invalid blocking cap: %d", c.BlockingCap)
	}
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
		}
	}
	return nil
}

func (c Config) newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		level = zerolog.WarnLevel
	}
	var logger zerolog.Logger
	if c.LogConsole {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output)
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("app", "goproc").Logger()
}
