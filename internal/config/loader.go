package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper wires up Viper to read consoled.yaml/.yml from configFile, or
// failing that from the standard search locations, plus environment
// variables prefixed CONSOLED_.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("consoled")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CONSOLED")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("server")
	_ = viper.BindEnv("port")
	_ = viper.BindEnv("timeout")
	_ = viper.BindEnv("stream_filter")
	_ = viper.BindEnv("debug")
	_ = viper.BindEnv("verbose")
}

// findConfigFile searches standard locations for consoled.yaml/.yml, an
// explicit extension required so Viper never matches a consoled-list or
// consoled-log binary of the same base name sitting in the current
// directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".consoled"),
		"/etc/consoled",
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for consoled.yaml or
// consoled.yml, preferring .yaml, and returns the first match or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "consoled"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// LoadConfig reads the config file (if any), applies environment overrides
// and defaults, validates, and returns the FrontendConfig a cmd/ front-end
// feeds into consoled.Option values.
func LoadConfig() (*FrontendConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg FrontendConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the configuration file actually loaded,
// or "" if none was found (environment/flags only).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
