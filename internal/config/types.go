// Package config loads, validates and hot-reloads the daemon configuration.
//
// Config files may be JSON or YAML; YAML is coerced to JSON so both formats
// go through the same strict decoder (unknown keys are rejected early).
package config

import (
	"fmt"
	"strings"

	"jobkit/internal/schedule"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Schedule  ScheduleConfig  `json:"schedule"`
	History   *HistoryConfig  `json:"history,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the control-plane API listener.
//
// All durations are Go duration strings (e.g. "250ms", "10s").
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8642"

	RateLimit float64 `json:"rate_limit,omitempty"` // requests/sec, 0 disables
	RateBurst int     `json:"rate_burst,omitempty"`

	StreamInterval string `json:"stream_interval,omitempty"`
}

// SchedulerConfig controls the job execution core.
type SchedulerConfig struct {
	Name string `json:"name,omitempty"`
	// MaxConcurrency caps simultaneously running job bodies.
	// Zero or negative means unbounded.
	MaxConcurrency int `json:"max_concurrency"`
}

// ScheduleConfig controls recurring submissions of registered tasks.
type ScheduleConfig struct {
	Enabled  bool            `json:"enabled"`
	Timezone string          `json:"timezone,omitempty"`
	Entries  []ScheduleEntry `json:"entries,omitempty"`
}

// ScheduleEntry binds a trigger spec to a registered task name.
//
// Spec accepts cron expressions (5 or 6 fields), "interval:<dur>" /
// "every:<dur>" shorthands, and "HH:MM" intervals ("02:30" repeats every
// 2h30m).
type ScheduleEntry struct {
	Name string `json:"name"`
	Spec string `json:"spec"`
	Task string `json:"task"`
}

// HistoryConfig controls the optional run-history store.
// Nil (section omitted) means disabled.
type HistoryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Validate checks cross-field constraints that the strict decoder can't.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("http.stream_interval", c.HTTP.StreamInterval); err != nil {
		return err
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must be >= 0")
	}

	seen := map[string]struct{}{}
	for i, e := range c.Schedule.Entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return fmt.Errorf("schedule.entries[%d]: name required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("schedule.entries[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(e.Task) == "" {
			return fmt.Errorf("schedule.entries[%d] (%s): task required", i, name)
		}
		if _, err := schedule.ParseSchedule(e.Spec); err != nil {
			return fmt.Errorf("schedule.entries[%d] (%s): %w", i, name, err)
		}
	}

	if c.History != nil {
		driver := strings.ToLower(strings.TrimSpace(c.History.Driver))
		switch driver {
		case "", "none", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("history.driver: unknown driver %q", c.History.Driver)
		}
		if (driver == "sqlite" || driver == "sqlite3") && strings.TrimSpace(c.History.Path) == "" {
			return fmt.Errorf("history.path required for sqlite driver")
		}
		if _, err := ParseDurationField("history.busy_timeout", c.History.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
