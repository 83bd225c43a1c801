package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/sentivane/sentivane/errors"
)

// Load reads the Sentivane configuration using Viper.
//
// Precedence (lowest to highest): defaults < user (~/.sentivane/sentivane.toml)
// < project (sentivane.toml found walking up from the working directory)
// < SENTIVANE_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("SENTIVANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	mergeConfigFiles(v)

	return LoadWithViper(v)
}

// LoadWithViper loads and validates configuration from a prepared Viper
// instance. Exposed for tests that build their own instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	for name := range cfg.Sources {
		s := cfg.Sources[name]
		applySourceDefaults(&s)
		cfg.Sources[name] = s
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// ActiveConfigFile returns the config file Load would read with highest
// precedence: the project file if present, otherwise the user file, otherwise
// empty. Used to point the hot-reload watcher at the right file.
func ActiveConfigFile() string {
	if projectPath := findProjectConfig(); projectPath != "" {
		return projectPath
	}

	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		userPath := filepath.Join(homeDir, ".sentivane", "sentivane.toml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}

	return ""
}

// findProjectConfig searches for sentivane.toml by walking up the directory
// tree. Returns the first path found, or empty string if none.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, "sentivane.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles merges config files in precedence order: user < project.
func mergeConfigFiles(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		userPath := filepath.Join(homeDir, ".sentivane", "sentivane.toml")
		if _, err := os.Stat(userPath); err == nil {
			v.SetConfigFile(userPath)
			v.SetConfigType("toml")
			_ = v.MergeInConfig()
		}
	}

	if projectPath := findProjectConfig(); projectPath != "" {
		v.SetConfigFile(projectPath)
		v.SetConfigType("toml")
		_ = v.MergeInConfig()
	}
}
