// Package config resolves the tuning parameters for the demo CLI from
// environment variables and an optional YAML config file, mirroring the
// teacher's internal/config/config.go. The watch root is not part of
// Config; the CLI takes it as its positional argument. This
// is config persistence only — the index itself is never persisted,
// per SPEC_FULL.md's non-goals.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/heinzelotto/fileindex/internal/fswatch"
)

const envPrefix = "FILEINDEX"

// Config holds the tunable parameters of the watch/load pipeline.
type Config struct {
	// DelayBeforeRead is the Loader's coalescing window.
	DelayBeforeRead time.Duration `mapstructure:"delay_before_read"`
	// Workers bounds concurrent file reads in the Loader.
	Workers int `mapstructure:"workers"`
	// IgnorePatterns are gitignore-style patterns the Watcher never
	// registers or forwards.
	IgnorePatterns []string `mapstructure:"ignore_patterns"`
	// PollInterval is how often the demo CLI polls the index to report
	// changes. Not part of the core pipeline.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Default returns sensible defaults, matching fsload.DefaultConfig and
// fswatch.DefaultIgnorePatterns.
func Default() Config {
	return Config{
		DelayBeforeRead: 300 * time.Millisecond,
		Workers:         4,
		IgnorePatterns:  fswatch.DefaultIgnorePatterns(),
		PollInterval:    1 * time.Second,
	}
}

// Load resolves Config from (in increasing priority) built-in
// defaults, an optional fileindex.yaml config file on the given search
// paths, and FILEINDEX_-prefixed environment variables.
func Load(configPaths ...string) (Config, error) {
	v := viper.New()
	def := Default()

	v.SetDefault("delay_before_read", def.DelayBeforeRead)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("ignore_patterns", def.IgnorePatterns)
	v.SetDefault("poll_interval", def.PollInterval)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetConfigName("fileindex")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
