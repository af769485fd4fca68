// Package config loads camcal settings from a YAML file, CAMCAL_ environment
// variables and defaults, in that order of precedence after explicit flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/teslashibe/camcal/pkg/board"
	"github.com/teslashibe/camcal/pkg/calibration"
	"github.com/teslashibe/camcal/pkg/registry"
)

// Defaults.
const (
	DefaultConfigName = "camcal"
	DefaultLogLevel   = "info"
	DefaultPort       = 8090
	EnvPrefix         = "CAMCAL"
)

// Config is the process configuration.
type Config struct {
	LogLevel      string              `mapstructure:"log_level" yaml:"log_level"`
	Port          int                 `mapstructure:"port" yaml:"port"`
	Board         board.Definition    `mapstructure:"board" yaml:"board"`
	PreviewHeight int                 `mapstructure:"preview_height" yaml:"preview_height"`
	Cameras       []registry.Settings `mapstructure:"cameras" yaml:"cameras"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:      DefaultLogLevel,
		Port:          DefaultPort,
		Board:         board.Default(),
		PreviewHeight: calibration.DefaultPreviewHeight,
	}
}

// New returns a viper instance with camcal defaults and environment binding.
// Nested keys map to variables with dots replaced, e.g. CAMCAL_BOARD_NX.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration into a Config. An empty path searches for
// camcal.yaml in the working directory; a missing file is not an error
// unless the path was given explicitly.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// List entries get no viper defaults; a missing sample_rate means every frame.
	for i := range cfg.Cameras {
		if cfg.Cameras[i].SampleRate == 0 {
			cfg.Cameras[i].SampleRate = 1
		}
	}
	return &cfg, nil
}

// Validate checks the values and returns a list of problems, or nil.
func (c *Config) Validate() []string {
	var errs []string

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "log_level must be debug, info, warn or error")
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if err := c.Board.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.PreviewHeight < 0 {
		errs = append(errs, "preview_height must not be negative")
	}

	seen := make(map[string]bool)
	for i, cam := range c.Cameras {
		if err := cam.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("cameras[%d]: %v", i, err))
		}
		if cam.Name != "" {
			if seen[cam.Name] {
				errs = append(errs, fmt.Sprintf("cameras[%d]: duplicate name %q", i, cam.Name))
			}
			seen[cam.Name] = true
		}
	}
	return errs
}

// Addr returns the listen address for the dashboard.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("port", d.Port)
	v.SetDefault("board.type", string(d.Board.Kind))
	v.SetDefault("board.nx", d.Board.Nx)
	v.SetDefault("board.ny", d.Board.Ny)
	v.SetDefault("board.square_size", d.Board.SquareSize)
	v.SetDefault("preview_height", d.PreviewHeight)
}
