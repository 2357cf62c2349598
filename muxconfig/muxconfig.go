/*
NAME
  muxconfig.go - loads and validates the switching engine's configuration
  from a YAML file layered with environment variable overrides.

DESCRIPTION
  Keeps revid/config.Config's two-step shape (fields plus a Validate method
  that walks them) but replaces its netsender-variable-driven Update
  mechanism, which pulls values from a polled key/value vars map, with
  spf13/viper's YAML-plus-environment layering, matching how
  jmylchreest-tvarr's config package is wired (a viper instance configured
  with SetConfigType("yaml"), AutomaticEnv, and a fixed env prefix).

LICENSE
  See repository LICENSE.
*/

// Package muxconfig loads and validates the switching engine's
// configuration.
package muxconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// TransportKind identifies how a source's packets are ingested.
type TransportKind string

const (
	TransportUDP     TransportKind = "udp"
	TransportTCP     TransportKind = "tcp"
	TransportFIFO    TransportKind = "fifo"
	TransportProcess TransportKind = "process"
)

// SourceConfig configures a single ingest source. Exactly one of the
// transport-specific fields is meaningful, selected by Transport.
type SourceConfig struct {
	Name      string        `mapstructure:"name"`
	Transport TransportKind `mapstructure:"transport"`
	Address   string        `mapstructure:"address"` // udp/tcp host:port
	Path      string        `mapstructure:"path"`    // fifo path
	Command   string        `mapstructure:"command"` // process argv[0]
	Args      []string      `mapstructure:"args"`
}

// SinkConfig configures the egress destination.
type SinkConfig struct {
	Kind    string  `mapstructure:"kind"` // "pipe" or "socket"
	Path    string  `mapstructure:"path"`
	Address string  `mapstructure:"address"`
	RateBps float64 `mapstructure:"rate_bps"` // 0 disables pacing.
}

// ControlConfig configures the HTTP control plane.
type ControlConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// NotifyConfig configures outbound scene-change notifications.
type NotifyConfig struct {
	LiveURL     string        `mapstructure:"live_url"`
	FallbackURL string        `mapstructure:"fallback_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LogConfig configures mxlog.
type LogConfig struct {
	Path       string `mapstructure:"path"`
	Level      int8   `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the switching engine's full configuration.
type Config struct {
	Sources []SourceConfig `mapstructure:"sources"`

	BufferCapacity  int           `mapstructure:"buffer_capacity"`
	MaxLiveGap      time.Duration `mapstructure:"max_live_gap"`
	MinConsecutive  int           `mapstructure:"min_consecutive_for_switch"`
	FrameRate       float64       `mapstructure:"frame_rate"`

	Sink    SinkConfig    `mapstructure:"sink"`
	Control ControlConfig `mapstructure:"control"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Log     LogConfig     `mapstructure:"log"`

	InputStateFile string `mapstructure:"input_state_file"`
}

// envPrefix is the prefix viper requires on every environment variable
// override, e.g. TSMUX_SINK_ADDRESS overrides sink.address.
const envPrefix = "TSMUX"

// Load reads configuration from path (YAML), then applies any
// TSMUX_-prefixed environment variable overrides, and validates the
// result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrap(err, "muxconfig: reading config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "muxconfig: unmarshalling config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("buffer_capacity", 1500)
	v.SetDefault("max_live_gap", "2s")
	v.SetDefault("min_consecutive_for_switch", 10)
	v.SetDefault("frame_rate", 30.0)
	v.SetDefault("control.listen_address", ":8080")
	v.SetDefault("notify.timeout", "5s")
	v.SetDefault("log.level", int8(2))
}

// ConfigError describes one invalid field, matching the style of error a
// validation pass over many independent fields tends to accumulate.
type ConfigError struct {
	Field  string
	Reason string
}

func (e ConfigError) Error() string { return fmt.Sprintf("muxconfig: %s: %s", e.Field, e.Reason) }

// Validate checks the structural invariants spec.md §6 requires of a
// configuration: at least two sources, each source exactly one transport
// fully specified, and a configured sink.
func (c Config) Validate() error {
	if len(c.Sources) < 2 {
		return ConfigError{"sources", "at least two sources are required"}
	}
	for _, s := range c.Sources {
		if err := s.validate(); err != nil {
			return err
		}
	}
	if c.Sink.Kind != "pipe" && c.Sink.Kind != "socket" {
		return ConfigError{"sink.kind", "must be \"pipe\" or \"socket\""}
	}
	if c.Sink.Kind == "pipe" && c.Sink.Path == "" {
		return ConfigError{"sink.path", "required for a pipe sink"}
	}
	if c.Sink.Kind == "socket" && c.Sink.Address == "" {
		return ConfigError{"sink.address", "required for a socket sink"}
	}
	if c.BufferCapacity <= 0 {
		return ConfigError{"buffer_capacity", "must be positive"}
	}
	return nil
}

func (s SourceConfig) validate() error {
	switch s.Transport {
	case TransportUDP, TransportTCP:
		if s.Address == "" {
			return ConfigError{"sources[" + s.Name + "].address", "required for udp/tcp transport"}
		}
	case TransportFIFO:
		if s.Path == "" {
			return ConfigError{"sources[" + s.Name + "].path", "required for fifo transport"}
		}
	case TransportProcess:
		if s.Command == "" {
			return ConfigError{"sources[" + s.Name + "].command", "required for process transport"}
		}
	default:
		return ConfigError{"sources[" + s.Name + "].transport", "unrecognised transport kind"}
	}
	return nil
}
