// Package fraud computes advisory anti-fraud flags for closed execution
// windows. Evaluation is a pure function of the scan timing, the submitted
// payload, the recent history for the same control point, and configured
// bounds; flags never block closure.
package fraud

import (
	"math"
	"time"

	"github.com/tagwerk/chiptrace/internal/model"
)

// TaskBounds holds the timing and tolerance configuration for one task type.
type TaskBounds struct {
	// MinDuration is the minimum plausible time between the two scans.
	MinDuration time.Duration
	// GracePeriod is how far the opening scan may deviate from the
	// scheduled time before the entry counts as delayed. Deviation is
	// absolute: an opening scan long before the plan is as anomalous as
	// one long after it, so both directions flag.
	GracePeriod time.Duration
	// NormDuration and MaxDurationFactor bound the elapsed time; an
	// execution longer than MaxDurationFactor * NormDuration suggests an
	// offline or backfilled entry.
	NormDuration      time.Duration
	MaxDurationFactor float64
	// RepeatDepth is how many immediately preceding submissions must match
	// exactly before the repeated-value flag raises.
	RepeatDepth int
	// DivergenceTolerance is the maximum absolute difference allowed
	// between a manual reading and an independent reference extraction.
	DivergenceTolerance float64
}

// EvalInput is everything Evaluate needs about one closed window.
type EvalInput struct {
	TaskType    string
	OpenedAt    time.Time
	ClosedAt    time.Time
	ScheduledAt time.Time
	Payload     model.Payload
	// History holds prior submissions for the same control point, most
	// recent first.
	History []model.Payload
	// Bounds holds the control point's configured min/max per field.
	Bounds map[string]model.Bounds
}

// Engine evaluates flag rules against per-task-type bounds.
type Engine struct {
	cfg Config
}

// New returns an Engine using the given configuration.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate computes the flag set for one closed window. Each rule is
// independent; any combination of flags may raise.
func (e *Engine) Evaluate(in EvalInput) model.FlagSet {
	b := e.cfg.boundsFor(in.TaskType)
	var flags model.FlagSet

	elapsed := in.ClosedAt.Sub(in.OpenedAt)

	if b.MinDuration > 0 && elapsed < b.MinDuration {
		flags.FastEntry = true
	}

	flags.RepeatedValue = repeatedValue(in.Payload, in.History, b.RepeatDepth)
	flags.OutOfRange = outOfRange(in.Payload, in.Bounds)

	// Delayed entry: the opening scan strayed too far from the scheduled
	// time, or the window stayed open far beyond the task's duration norm.
	if !in.ScheduledAt.IsZero() && b.GracePeriod > 0 {
		deviation := in.OpenedAt.Sub(in.ScheduledAt)
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > b.GracePeriod {
			flags.DelayedEntry = true
		}
	}
	if b.NormDuration > 0 && b.MaxDurationFactor > 0 {
		limit := time.Duration(float64(b.NormDuration) * b.MaxDurationFactor)
		if elapsed > limit {
			flags.DelayedEntry = true
		}
	}

	flags.MeasurementDivergence = diverges(in.Payload, b.DivergenceTolerance)

	return flags
}

// repeatedValue reports whether the readings exactly match each of the
// depth immediately preceding submissions. Fewer prior submissions than
// depth means not enough signal to flag.
func repeatedValue(p model.Payload, history []model.Payload, depth int) bool {
	if depth <= 0 || len(p.Readings) == 0 || len(history) < depth {
		return false
	}
	for _, prev := range history[:depth] {
		if !sameReadings(p.Readings, prev.Readings) {
			return false
		}
	}
	return true
}

func sameReadings(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || va != vb {
			return false
		}
	}
	return true
}

// outOfRange reports whether any reading falls outside its configured bounds.
// Fields without bounds are not checked.
func outOfRange(p model.Payload, bounds map[string]model.Bounds) bool {
	for field, v := range p.Readings {
		b, ok := bounds[field]
		if !ok {
			continue
		}
		if v < b.Min || v > b.Max {
			return true
		}
	}
	return false
}

// diverges compares manual readings against the independent reference
// extraction, where one was supplied.
func diverges(p model.Payload, tolerance float64) bool {
	if tolerance <= 0 || len(p.Reference) == 0 {
		return false
	}
	for field, ref := range p.Reference {
		v, ok := p.Readings[field]
		if !ok {
			continue
		}
		if math.Abs(v-ref) > tolerance {
			return true
		}
	}
	return false
}
