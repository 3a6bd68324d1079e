package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/michaelbrown/crucible/internal/sandbox"
)

type SandboxConfig struct {
	BatchImage       string   `mapstructure:"batch_image"`
	ScaffoldImage    string   `mapstructure:"scaffold_image"`
	Images           []string `mapstructure:"images"`
	MemoryMultiplier float64  `mapstructure:"memory_multiplier"`
	CPUs             float64  `mapstructure:"cpus"`
	PidsLimit        int      `mapstructure:"pids_limit"`
	TmpfsSizeMB      int      `mapstructure:"tmpfs_size_mb"`
	OuterOverheadSec int      `mapstructure:"outer_overhead_seconds"`
	PassthroughEnv   []string `mapstructure:"passthrough_env"`
}

type LimitsConfig struct {
	TimeLimitSeconds float64 `mapstructure:"time_limit_seconds"`
	MemoryLimitMB    float64 `mapstructure:"memory_limit_mb"`
}

type ScaffoldConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Model          string `mapstructure:"model"`
}

type LogsConfig struct {
	Dir string `mapstructure:"dir"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type Config struct {
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Scaffold ScaffoldConfig `mapstructure:"scaffold"`
	Logs     LogsConfig     `mapstructure:"logs"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
}

// Load reads crucible.yaml from the working directory or ~/.crucible,
// falling back to defaults when no file exists. A .env file, if present,
// is loaded first so API keys can be forwarded into scaffold containers.
func Load() (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("crucible")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.crucible")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := sandbox.DefaultPolicy()

	v.SetDefault("sandbox.batch_image", def.BatchImage)
	v.SetDefault("sandbox.scaffold_image", def.ScaffoldImage)
	v.SetDefault("sandbox.memory_multiplier", def.MemoryMultiplier)
	v.SetDefault("sandbox.cpus", def.CPUs)
	v.SetDefault("sandbox.pids_limit", def.PidsLimit)
	v.SetDefault("sandbox.tmpfs_size_mb", def.TmpfsSizeMB)
	v.SetDefault("sandbox.outer_overhead_seconds", int(def.OuterOverhead.Seconds()))
	v.SetDefault("sandbox.passthrough_env", def.PassthroughEnv)

	v.SetDefault("limits.time_limit_seconds", 2.0)
	v.SetDefault("limits.memory_limit_mb", 256.0)

	v.SetDefault("scaffold.timeout_seconds", 120)
	v.SetDefault("scaffold.model", "n/a")

	v.SetDefault("logs.dir", "logs")
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".crucible", "crucible.db"))
	v.SetDefault("server.port", 8080)
}

// Policy materializes the sandbox policy from config.
func (c *Config) Policy() sandbox.Policy {
	return sandbox.Policy{
		BatchImage:       c.Sandbox.BatchImage,
		ScaffoldImage:    c.Sandbox.ScaffoldImage,
		Images:           c.Sandbox.Images,
		MemoryMultiplier: c.Sandbox.MemoryMultiplier,
		CPUs:             c.Sandbox.CPUs,
		PidsLimit:        c.Sandbox.PidsLimit,
		TmpfsSizeMB:      c.Sandbox.TmpfsSizeMB,
		OuterOverhead:    time.Duration(c.Sandbox.OuterOverheadSec) * time.Second,
		PassthroughEnv:   c.Sandbox.PassthroughEnv,
	}
}

// DefaultLimits materializes the default resource budget from config.
func (c *Config) DefaultLimits() sandbox.Limits {
	return sandbox.Limits{
		TimeLimitSeconds: c.Limits.TimeLimitSeconds,
		MemoryLimitMB:    c.Limits.MemoryLimitMB,
	}
}
