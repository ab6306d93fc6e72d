package model

import "time"

// WindowStatus represents the state of an execution window.
type WindowStatus string

const (
	WindowOpen      WindowStatus = "open"
	WindowClosed    WindowStatus = "closed"
	WindowAbandoned WindowStatus = "abandoned"
)

// String returns the string representation of the window status.
func (s WindowStatus) String() string {
	return string(s)
}

// IsValid checks whether the window status is a known value.
func (s WindowStatus) IsValid() bool {
	switch s {
	case WindowOpen, WindowClosed, WindowAbandoned:
		return true
	}
	return false
}

// Terminal reports whether the window accepts no further scans.
func (s WindowStatus) Terminal() bool {
	return s == WindowClosed || s == WindowAbandoned
}

// Payload is the data submitted with a closing scan: manual readings keyed
// by field name, plus an optional independent reference extraction (e.g. an
// optical read) used for the divergence check.
type Payload struct {
	Readings  map[string]float64 `json:"readings,omitempty"`
	Reference map[string]float64 `json:"reference,omitempty"`
	Note      string             `json:"note,omitempty"`
}

// FlagSet is the fixed collection of advisory anti-fraud flags attached to a
// closed window. Flags are computed once at close time and never altered.
type FlagSet struct {
	FastEntry             bool `json:"fast_entry"`
	RepeatedValue         bool `json:"repeated_value"`
	OutOfRange            bool `json:"out_of_range"`
	DelayedEntry          bool `json:"delayed_entry"`
	MeasurementDivergence bool `json:"measurement_divergence"`
}

// Any reports whether at least one flag is raised.
func (f FlagSet) Any() bool {
	return f.FastEntry || f.RepeatedValue || f.OutOfRange || f.DelayedEntry || f.MeasurementDivergence
}

// List returns the names of the raised flags.
func (f FlagSet) List() []string {
	var names []string
	if f.FastEntry {
		names = append(names, "fast_entry")
	}
	if f.RepeatedValue {
		names = append(names, "repeated_value")
	}
	if f.OutOfRange {
		names = append(names, "out_of_range")
	}
	if f.DelayedEntry {
		names = append(names, "delayed_entry")
	}
	if f.MeasurementDivergence {
		names = append(names, "measurement_divergence")
	}
	return names
}

// ExecutionWindow is the interval between a task's opening and closing scan.
// At most one open window may exist per schedulable at any time.
type ExecutionWindow struct {
	ID             string       `json:"id"`
	SchedulableRef string       `json:"schedulable_ref"`
	ChipID         string       `json:"chip_id"`
	OpenedBy       string       `json:"opened_by,omitempty"`
	Status         WindowStatus `json:"status"`
	FirstScanAt    time.Time    `json:"first_scan_at"`
	SecondScanAt   *time.Time   `json:"second_scan_at,omitempty"`
	Payload        *Payload     `json:"payload,omitempty"`
	Flags          FlagSet      `json:"flags"`
	AbandonReason  string       `json:"abandon_reason,omitempty"`
}

// Elapsed returns the time between the two scans, or zero while open.
func (w *ExecutionWindow) Elapsed() time.Duration {
	if w.SecondScanAt == nil {
		return 0
	}
	return w.SecondScanAt.Sub(w.FirstScanAt)
}

// Bounds is a configured min/max range for one payload field.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}
