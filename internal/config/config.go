// Package config loads loadpilot settings from file, environment and flags
// through viper.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "LOADPILOT"
	FileName  = ".loadpilot"
)

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type Ramp struct {
	Interval time.Duration `mapstructure:"interval"`
}

type History struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type Metrics struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	// Dir holds the JSON artifacts shared between stages.
	Dir string `mapstructure:"dir"`
	// Logs is the CSV of production request timestamps.
	Logs    string        `mapstructure:"logs"`
	Timeout time.Duration `mapstructure:"timeout"`
	MaxRPS  float64       `mapstructure:"max_rps"`
	// Insecure skips TLS verification of the load target.
	Insecure bool    `mapstructure:"insecure"`
	Log      Log     `mapstructure:"log"`
	Ramp     Ramp    `mapstructure:"ramp"`
	History  History `mapstructure:"history"`
	Metrics  Metrics `mapstructure:"metrics"`
}

// LogsPath resolves Logs against Dir when it is relative.
func (c Config) LogsPath() string {
	if filepath.IsAbs(c.Logs) || strings.Contains(c.Logs, string(filepath.Separator)) {
		return c.Logs
	}
	return filepath.Join(c.Dir, c.Logs)
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("dir", "shared")
	v.SetDefault("logs", "production-logs.csv")
	v.SetDefault("timeout", 10*time.Second)
	v.SetDefault("max_rps", 0)
	v.SetDefault("insecure", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("ramp.interval", 10*time.Second)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
	v.SetDefault("metrics.addr", "")
}

// Load reads file, or $HOME/.loadpilot.yaml when file is empty, then
// applies LOADPILOT_* environment overrides. A missing default file is not
// an error. LOG_LEVEL is honoured as an alias of LOADPILOT_LOG_LEVEL.
func Load(v *viper.Viper, file, home string) (Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else if home != "" {
		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(FileName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL"); err != nil {
		return Config{}, err
	}

	if file != "" || home != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if file != "" || !errors.As(err, &notFound) {
				return Config{}, errors.Wrap(err, "read config")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if cfg.Ramp.Interval <= 0 {
		return Config{}, errors.Errorf("ramp.interval must be positive, got %s", cfg.Ramp.Interval)
	}
	return cfg, nil
}
