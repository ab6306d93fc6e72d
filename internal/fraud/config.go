package fraud

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the default bounds plus per-task-type overrides, loaded from
// a TOML file. Zero-valued override fields fall back to the default.
type Config struct {
	Default TaskBounds
	Tasks   map[string]TaskBounds
}

// DefaultConfig returns the bounds used when no config file is provided.
func DefaultConfig() Config {
	return Config{
		Default: TaskBounds{
			MinDuration:         30 * time.Second,
			GracePeriod:         time.Hour,
			NormDuration:        45 * time.Minute,
			MaxDurationFactor:   4,
			RepeatDepth:         2,
			DivergenceTolerance: 0.5,
		},
	}
}

// boundsFor returns the bounds for a task type, filling unset override
// fields from the default.
func (c Config) boundsFor(taskType string) TaskBounds {
	b := c.Default
	o, ok := c.Tasks[taskType]
	if !ok {
		return b
	}
	if o.MinDuration > 0 {
		b.MinDuration = o.MinDuration
	}
	if o.GracePeriod > 0 {
		b.GracePeriod = o.GracePeriod
	}
	if o.NormDuration > 0 {
		b.NormDuration = o.NormDuration
	}
	if o.MaxDurationFactor > 0 {
		b.MaxDurationFactor = o.MaxDurationFactor
	}
	if o.RepeatDepth > 0 {
		b.RepeatDepth = o.RepeatDepth
	}
	if o.DivergenceTolerance > 0 {
		b.DivergenceTolerance = o.DivergenceTolerance
	}
	return b
}

// fileBounds mirrors TaskBounds with TOML-friendly duration strings.
type fileBounds struct {
	MinDuration         duration `toml:"min_duration"`
	GracePeriod         duration `toml:"grace_period"`
	NormDuration        duration `toml:"norm_duration"`
	MaxDurationFactor   float64  `toml:"max_duration_factor"`
	RepeatDepth         int      `toml:"repeat_depth"`
	DivergenceTolerance float64  `toml:"divergence_tolerance"`
}

type fileConfig struct {
	Default fileBounds            `toml:"default"`
	Tasks   map[string]fileBounds `toml:"tasks"`
}

// duration wraps time.Duration for TOML decoding of strings like "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// LoadConfig reads a TOML bounds file. Missing values fall back to
// DefaultConfig; a missing path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read fraud config: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse fraud config: %w", err)
	}

	cfg.Default = mergeBounds(cfg.Default, fc.Default)
	if len(fc.Tasks) > 0 {
		cfg.Tasks = make(map[string]TaskBounds, len(fc.Tasks))
		for name, fb := range fc.Tasks {
			cfg.Tasks[name] = toBounds(fb)
		}
	}
	return cfg, nil
}

func toBounds(fb fileBounds) TaskBounds {
	return TaskBounds{
		MinDuration:         fb.MinDuration.Duration,
		GracePeriod:         fb.GracePeriod.Duration,
		NormDuration:        fb.NormDuration.Duration,
		MaxDurationFactor:   fb.MaxDurationFactor,
		RepeatDepth:         fb.RepeatDepth,
		DivergenceTolerance: fb.DivergenceTolerance,
	}
}

func mergeBounds(base TaskBounds, fb fileBounds) TaskBounds {
	o := toBounds(fb)
	if o.MinDuration > 0 {
		base.MinDuration = o.MinDuration
	}
	if o.GracePeriod > 0 {
		base.GracePeriod = o.GracePeriod
	}
	if o.NormDuration > 0 {
		base.NormDuration = o.NormDuration
	}
	if o.MaxDurationFactor > 0 {
		base.MaxDurationFactor = o.MaxDurationFactor
	}
	if o.RepeatDepth > 0 {
		base.RepeatDepth = o.RepeatDepth
	}
	if o.DivergenceTolerance > 0 {
		base.DivergenceTolerance = o.DivergenceTolerance
	}
	return base
}
