// Package config loads and validates the runtime configuration: batch
// sizing, database DSN, facility zones, meal and night windows, keyword
// sets, and the optional external rule table. A single YAML file carries
// everything; environment variables and command flags override it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/meals"
	"github.com/worklens/worklens/pkg/tags"
	"github.com/worklens/worklens/pkg/timeline"
)

// ErrInvalid marks configuration that parsed but cannot be used.
var ErrInvalid = errors.New("invalid configuration")

const (
	defaultChunkSize    = 64
	defaultChunkTimeout = 5 * time.Minute
	defaultRetries      = 3
	defaultWorkerCap    = 8
	defaultCacheTTL     = 5 * time.Minute
	defaultRateLimit    = 15
)

// Duration wraps time.Duration so YAML can carry "5m" style values.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML renders the duration in time.Duration notation.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// UnmarshalYAML parses time.Duration notation.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Window is a wall-clock interval in "HH:MM" notation. End at or before
// Start means the window wraps midnight.
type Window struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Clock parses the window into minute-of-day form.
func (w Window) Clock() (events.ClockWindow, error) {
	start, err := events.ParseMinuteOfDay(w.Start)
	if err != nil {
		return events.ClockWindow{}, fmt.Errorf("window start: %w", err)
	}
	end, err := events.ParseMinuteOfDay(w.End)
	if err != nil {
		return events.ClockWindow{}, fmt.Errorf("window end: %w", err)
	}
	return events.ClockWindow{Start: start, End: end}, nil
}

func (w Window) empty() bool { return w.Start == "" && w.End == "" }

// MealWindows carries the four meal windows in "HH:MM" notation.
type MealWindows struct {
	Breakfast Window `yaml:"breakfast"`
	Lunch     Window `yaml:"lunch"`
	Dinner    Window `yaml:"dinner"`
	Midnight  Window `yaml:"midnight"`
}

// MealDurations is the meal duration-hint policy in minutes.
type MealDurations struct {
	DineIn   float64 `yaml:"dine_in_minutes"`
	Takeout  float64 `yaml:"takeout_minutes"`
	Midnight float64 `yaml:"midnight_minutes"`
}

// Server holds the serve-mode settings.
type Server struct {
	Addr      string   `yaml:"addr"`
	CacheTTL  Duration `yaml:"cache_ttl"`
	RateLimit int      `yaml:"rate_limit"`
}

// Config is the full runtime configuration. Zero or missing fields fall
// back to the shipped defaults during Load.
type Config struct {
	Workers        int      `yaml:"workers"`
	ChunkSize      int      `yaml:"chunk_size"`
	ChunkTimeout   Duration `yaml:"chunk_timeout"`
	PersistRetries uint     `yaml:"persist_retries"`
	ClaimFilter    bool     `yaml:"claim_filter"`

	Database string `yaml:"database"`

	Timezone          string `yaml:"timezone"`
	CafeteriaTimezone string `yaml:"cafeteria_timezone"`

	NightWindow   Window        `yaml:"night_window"`
	MealWindows   MealWindows   `yaml:"meal_windows"`
	MealDurations MealDurations `yaml:"meal_durations"`
	Keywords      tags.Keywords `yaml:"keywords"`

	RulesFile string `yaml:"rules_file"`

	Server Server `yaml:"server"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the shipped configuration.
func Default() Config {
	return Config{
		Workers:        0, // resolved from CPU count
		ChunkSize:      defaultChunkSize,
		ChunkTimeout:   Duration(defaultChunkTimeout),
		PersistRetries: defaultRetries,
		Database:       "worklens.db",
		Timezone:       "Asia/Seoul",
		NightWindow:    Window{Start: "20:00", End: "08:00"},
		MealWindows: MealWindows{
			Breakfast: Window{Start: "06:30", End: "09:00"},
			Lunch:     Window{Start: "11:20", End: "13:20"},
			Dinner:    Window{Start: "17:00", End: "20:00"},
			Midnight:  Window{Start: "23:30", End: "01:00"},
		},
		MealDurations: MealDurations{DineIn: 30, Takeout: 10, Midnight: 20},
		Keywords:      tags.DefaultKeywords(),
		Server: Server{
			Addr:      ":8080",
			CacheTTL:  Duration(defaultCacheTTL),
			RateLimit: defaultRateLimit,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates. An empty path loads defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if db := os.Getenv("WORKLENS_DB"); db != "" {
		c.Database = db
	}
	if tz := os.Getenv("WORKLENS_TZ"); tz != "" {
		c.Timezone = tz
	}
}

// Validate checks every field that Resolve will rely on. All failures wrap
// ErrInvalid.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrInvalid)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalid)
	}
	if c.ChunkTimeout.Std() <= 0 {
		return fmt.Errorf("%w: chunk_timeout must be positive", ErrInvalid)
	}
	if c.PersistRetries == 0 {
		return fmt.Errorf("%w: persist_retries must be at least 1", ErrInvalid)
	}
	if c.Database == "" {
		return fmt.Errorf("%w: database DSN is required", ErrInvalid)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	if c.CafeteriaTimezone != "" {
		if _, err := time.LoadLocation(c.CafeteriaTimezone); err != nil {
			return fmt.Errorf("%w: cafeteria_timezone %q: %v", ErrInvalid, c.CafeteriaTimezone, err)
		}
	}
	windows := []struct {
		name string
		w    Window
	}{
		{"night_window", c.NightWindow},
		{"meal_windows.breakfast", c.MealWindows.Breakfast},
		{"meal_windows.lunch", c.MealWindows.Lunch},
		{"meal_windows.dinner", c.MealWindows.Dinner},
		{"meal_windows.midnight", c.MealWindows.Midnight},
	}
	for _, entry := range windows {
		if entry.w.empty() {
			return fmt.Errorf("%w: %s is required", ErrInvalid, entry.name)
		}
		if _, err := entry.w.Clock(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, entry.name, err)
		}
	}
	if c.MealDurations.DineIn <= 0 || c.MealDurations.Takeout <= 0 || c.MealDurations.Midnight <= 0 {
		return fmt.Errorf("%w: meal durations must be positive", ErrInvalid)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// WorkerCount resolves the worker pool size: the configured value when
// positive, else CPU count minus one, capped at 8 and never below 1.
func (c Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	w := runtime.NumCPU() - 1
	if w > defaultWorkerCap {
		w = defaultWorkerCap
	}
	if w < 1 {
		w = 1
	}
	return w
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Runtime is the resolved form of a Config: parsed zones, windows, policies,
// and the rule table, ready for injection into the pipeline components.
type Runtime struct {
	Config    Config
	Location  *time.Location
	Cafeteria *time.Location
	Meals     meals.Windows
	MealPlan  meals.Durations
	Night     events.ClockWindow
	Rules     *timeline.RuleTable
	LogLevel  slog.Level
}

// Resolve validates the configuration and parses it into runtime objects.
// When rules_file is set the table is loaded from disk, otherwise the
// shipped defaults apply.
func (c Config) Resolve() (*Runtime, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone: %v", ErrInvalid, err)
	}
	cafeteria := loc
	if c.CafeteriaTimezone != "" {
		cafeteria, err = time.LoadLocation(c.CafeteriaTimezone)
		if err != nil {
			return nil, fmt.Errorf("%w: cafeteria_timezone: %v", ErrInvalid, err)
		}
	}

	night, err := c.NightWindow.Clock()
	if err != nil {
		return nil, fmt.Errorf("%w: night_window: %v", ErrInvalid, err)
	}
	breakfast, err := c.MealWindows.Breakfast.Clock()
	if err != nil {
		return nil, fmt.Errorf("%w: meal_windows.breakfast: %v", ErrInvalid, err)
	}
	lunch, err := c.MealWindows.Lunch.Clock()
	if err != nil {
		return nil, fmt.Errorf("%w: meal_windows.lunch: %v", ErrInvalid, err)
	}
	dinner, err := c.MealWindows.Dinner.Clock()
	if err != nil {
		return nil, fmt.Errorf("%w: meal_windows.dinner: %v", ErrInvalid, err)
	}
	midnight, err := c.MealWindows.Midnight.Clock()
	if err != nil {
		return nil, fmt.Errorf("%w: meal_windows.midnight: %v", ErrInvalid, err)
	}

	ruleSet := timeline.DefaultRules()
	if c.RulesFile != "" {
		ruleSet, err = timeline.LoadRulesFile(c.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("%w: rules_file: %v", ErrInvalid, err)
		}
	}

	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return &Runtime{
		Config:    c,
		Location:  loc,
		Cafeteria: cafeteria,
		Meals:     meals.Windows{Breakfast: breakfast, Lunch: lunch, Dinner: dinner, Midnight: midnight},
		MealPlan:  meals.Durations{DineIn: c.MealDurations.DineIn, Takeout: c.MealDurations.Takeout, Midnight: c.MealDurations.Midnight},
		Night:     night,
		Rules:     timeline.NewRuleTable(ruleSet),
		LogLevel:  level,
	}, nil
}
