// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/layout-breaker/internal/mutation"
)

// Supported browser drivers.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Mutation MutationConfig `mapstructure:"mutation" yaml:"mutation"`
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser instances.
type BrowserConfig struct {
	Driver          string   `mapstructure:"driver" yaml:"driver"`
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	Debug           bool     `mapstructure:"debug" yaml:"debug"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Stealth         bool     `mapstructure:"stealth" yaml:"stealth"`
	Args            []string `mapstructure:"args" yaml:"args"`
	// RemoteURL connects the rod driver to an already running browser.
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url"`
}

// NetworkConfig controls page loading.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	BypassCSP         bool          `mapstructure:"bypass_csp" yaml:"bypass_csp"`
}

// EngineConfig configures the task pool.
type EngineConfig struct {
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	AbortOnError      bool          `mapstructure:"abort_on_error" yaml:"abort_on_error"`
	// TasksPerSecond paces task starts; zero disables pacing.
	TasksPerSecond float64 `mapstructure:"tasks_per_second" yaml:"tasks_per_second"`
}

// MutationConfig tunes the layout heuristics.
type MutationConfig struct {
	DupesAllowed   int `mapstructure:"dupes_allowed" yaml:"dupes_allowed"`
	WordsPerStep   int `mapstructure:"words_per_step" yaml:"words_per_step"`
	MaxGrowthSteps int `mapstructure:"max_growth_steps" yaml:"max_growth_steps"`
}

// RunConfig describes what a run visits and where it writes.
type RunConfig struct {
	Sites            []string            `mapstructure:"sites" yaml:"sites"`
	SitesFile        string              `mapstructure:"sites_file" yaml:"sites_file"`
	Viewports        []mutation.Viewport `mapstructure:"viewports" yaml:"viewports"`
	Manipulations    []string            `mapstructure:"manipulations" yaml:"manipulations"`
	ContainerIndexes []int               `mapstructure:"container_indexes" yaml:"container_indexes"`
	Folder           string              `mapstructure:"folder" yaml:"folder"`
	DebugOverlays    bool                `mapstructure:"debug_overlays" yaml:"debug_overlays"`
	// Seed fixes the random source; zero seeds from the clock.
	Seed uint64 `mapstructure:"seed" yaml:"seed"`
}

// StoreConfig selects the manifest store.
type StoreConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "layout-breaker")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.stealth", true)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.post_load_wait", "2s")
	v.SetDefault("network.bypass_csp", true)

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.task_timeout", "5m")
	v.SetDefault("engine.abort_on_error", false)
	v.SetDefault("engine.tasks_per_second", 0)

	// -- Mutation --
	v.SetDefault("mutation.dupes_allowed", 1)
	v.SetDefault("mutation.words_per_step", 3)
	v.SetDefault("mutation.max_growth_steps", 20)

	// -- Run --
	v.SetDefault("run.viewports", []map[string]any{{"width": 1300, "height": 4000}})
	v.SetDefault("run.manipulations", kindNames(mutation.AllKinds))
	v.SetDefault("run.folder", "layout-breaker-images")
	v.SetDefault("run.debug_overlays", true)
	v.SetDefault("run.seed", 0)
}

func kindNames(kinds []mutation.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("store.url", "LAYOUT_BREAKER_STORE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.ApplyDebug()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ApplyDebug switches to a visible browser and a single worker when debug mode is on.
func (c *Config) ApplyDebug() {
	if !c.Browser.Debug {
		return
	}
	c.Browser.Headless = false
	c.Engine.WorkerConcurrency = 1
}

// Kinds resolves the configured manipulation names.
func (c *Config) Kinds() ([]mutation.Kind, error) {
	kinds := make([]mutation.Kind, 0, len(c.Run.Manipulations))
	for _, name := range c.Run.Manipulations {
		k, err := mutation.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.Engine.TaskTimeout < 0 {
		return fmt.Errorf("engine.task_timeout must not be negative")
	}
	if c.Engine.TasksPerSecond < 0 {
		return fmt.Errorf("engine.tasks_per_second must not be negative")
	}
	switch c.Browser.Driver {
	case DriverChromedp, DriverRod:
	default:
		return fmt.Errorf("browser.driver must be %q or %q, got %q", DriverChromedp, DriverRod, c.Browser.Driver)
	}
	if c.Mutation.DupesAllowed < 1 {
		return fmt.Errorf("mutation.dupes_allowed must be at least 1, got %d", c.Mutation.DupesAllowed)
	}
	if c.Mutation.WordsPerStep < 0 || c.Mutation.MaxGrowthSteps < 0 {
		return fmt.Errorf("mutation settings must not be negative")
	}
	if err := c.Run.Validate(); err != nil {
		return fmt.Errorf("run configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the run settings that do not depend on the site list.
func (r *RunConfig) Validate() error {
	if len(r.Manipulations) == 0 {
		return errors.New("at least one manipulation is required")
	}
	for _, name := range r.Manipulations {
		if _, err := mutation.ParseKind(name); err != nil {
			return err
		}
	}
	for _, idx := range r.ContainerIndexes {
		if idx < 0 {
			return fmt.Errorf("container index %d must not be negative", idx)
		}
	}
	if len(r.Viewports) == 0 {
		return errors.New("at least one viewport is required")
	}
	for _, vp := range r.Viewports {
		if vp.Width <= 0 || vp.Height <= 0 {
			return fmt.Errorf("viewport %s must have a positive size", vp)
		}
	}
	if strings.TrimSpace(r.Folder) == "" {
		return errors.New("folder must not be empty")
	}
	return nil
}
