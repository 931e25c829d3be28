package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format"` // ndjson, text or auto
	Level   string `mapstructure:"level"`  // log level under --verbose
	Quiet   bool   `mapstructure:"quiet"`
	Verbose bool   `mapstructure:"verbose"`

	// Default values for commands
	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// DefaultsConfig holds default values for debugger commands
type DefaultsConfig struct {
	// Engine timeouts, as duration strings
	LaunchTimeout string `mapstructure:"launch_timeout"`
	EvalTimeout   string `mapstructure:"eval_timeout"`
	PauseTimeout  string `mapstructure:"pause_timeout"`
	StepTimeout   string `mapstructure:"step_timeout"`

	// Value rendering caps
	MaxStringLen   int `mapstructure:"max_string_len"`
	MaxArrayElems  int `mapstructure:"max_array_elems"`
	MaxExpandDepth int `mapstructure:"max_expand_depth"`

	// Event stream buffering between the engine and slow sinks
	EventBuffer int `mapstructure:"event_buffer"`

	// Launch defaults
	Profile     string `mapstructure:"profile"`
	StopAtEntry bool   `mapstructure:"stop_at_entry"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:  "ndjson",
		Level:   "info",
		Quiet:   false,
		Verbose: false,
		Defaults: DefaultsConfig{
			LaunchTimeout:  "15s",
			EvalTimeout:    "5s",
			PauseTimeout:   "3s",
			StepTimeout:    "10s",
			MaxStringLen:   100,
			MaxArrayElems:  100,
			MaxExpandDepth: 3,
			EventBuffer:    256,
		},
	}
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".mdbg")
	v.SetConfigType("yaml")

	// Config paths, lowest precedence first
	v.AddConfigPath("/etc/mdbg/")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "mdbg"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("MDBG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.BindEnv("format", "MDBG_FORMAT")
	v.BindEnv("level", "MDBG_LEVEL")
	v.BindEnv("quiet", "MDBG_QUIET")
	v.BindEnv("verbose", "MDBG_VERBOSE")
	v.BindEnv("defaults.profile", "MDBG_PROFILE")
	v.BindEnv("defaults.launch_timeout", "MDBG_LAUNCH_TIMEOUT")
	v.BindEnv("defaults.eval_timeout", "MDBG_EVAL_TIMEOUT")

	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("level", cfg.Level)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("defaults.launch_timeout", cfg.Defaults.LaunchTimeout)
	v.SetDefault("defaults.eval_timeout", cfg.Defaults.EvalTimeout)
	v.SetDefault("defaults.pause_timeout", cfg.Defaults.PauseTimeout)
	v.SetDefault("defaults.step_timeout", cfg.Defaults.StepTimeout)
	v.SetDefault("defaults.max_string_len", cfg.Defaults.MaxStringLen)
	v.SetDefault("defaults.max_array_elems", cfg.Defaults.MaxArrayElems)
	v.SetDefault("defaults.max_expand_depth", cfg.Defaults.MaxExpandDepth)
	v.SetDefault("defaults.event_buffer", cfg.Defaults.EventBuffer)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// viper's env handling misses nested keys in some paths; apply the
	// documented MDBG_* variables directly so they always win.
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies MDBG_* environment variables on top of cfg.
// Boolean variables accept "true" and "1" only.
func applyEnvOverrides(cfg *Config) {
	if s := os.Getenv("MDBG_FORMAT"); s != "" {
		cfg.Format = s
	}
	if s := os.Getenv("MDBG_LEVEL"); s != "" {
		cfg.Level = s
	}
	if s := os.Getenv("MDBG_QUIET"); s == "true" || s == "1" {
		cfg.Quiet = true
	}
	if s := os.Getenv("MDBG_VERBOSE"); s == "true" || s == "1" {
		cfg.Verbose = true
	}
	if s := os.Getenv("MDBG_PROFILE"); s != "" {
		cfg.Defaults.Profile = s
	}
	if s := os.Getenv("MDBG_LAUNCH_TIMEOUT"); s != "" {
		cfg.Defaults.LaunchTimeout = s
	}
	if s := os.Getenv("MDBG_EVAL_TIMEOUT"); s != "" {
		cfg.Defaults.EvalTimeout = s
	}
}

// findConfigFile returns the first config file present: .mdbg.yaml then
// .mdbg.yml, in the current directory then the home directory. Empty when
// none exists.
func findConfigFile() string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home)
	}
	for _, dir := range dirs {
		for _, name := range []string{".mdbg.yaml", ".mdbg.yml"} {
			path := filepath.Join(dir, name)
			if st, err := os.Stat(path); err == nil && !st.IsDir() {
				return path
			}
		}
	}
	return ""
}

// ConfigFile returns the path of the config file that would be loaded
func ConfigFile() string {
	return findConfigFile()
}

// Duration parses a duration string from the config, falling back when the
// value is empty or malformed.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
