// Package presence tracks live scan-device activity for the device roster.
//
// The Tracker maintains an in-memory map of handheld readers, updated
// directly by the server whenever a scan request arrives. A background
// reaper goroutine marks idle devices as offline after a configurable
// threshold, so dispatchers can see which readers stopped reporting
// mid-shift.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Entry represents a single device's live presence state.
type Entry struct {
	DeviceID            string    `json:"device_id"`
	LastSeen            time.Time `json:"last_seen"`
	FirstSeen           time.Time `json:"first_seen"`
	LastAction          string    `json:"last_action"`           // e.g. "verify", "open", "close"
	Operator            string    `json:"operator,omitempty"`    // last operator using the device
	ControlPointRef     string    `json:"control_point_ref,omitempty"`
	IdleSecs            float64   `json:"idle_secs"`             // seconds since last scan
	ScanCount           int64     `json:"scan_count"`            // total scans seen
	SessionDurationSecs float64   `json:"session_duration_secs"` // seconds since first scan
	Reaped              bool      `json:"reaped,omitempty"`      // true if reaper marked offline
	ReapedAt            time.Time `json:"reaped_at,omitempty"`   // when reaped
}

// ScanEvent is the data extracted from a scan request that the tracker
// needs to update presence state.
type ScanEvent struct {
	DeviceID        string // reader identifier (from X-Device-ID or resolved)
	Action          string // "verify", "open", "close", "abandon"
	Operator        string // operator badge or name
	ControlPointRef string // location the device reported from
}

// ReaperConfig configures the background offline-device reaper.
type ReaperConfig struct {
	// DeadThreshold is how long a device must be idle before being marked offline.
	// Default: 15 minutes.
	DeadThreshold time.Duration

	// EvictAfter is how long after being reaped before a device is permanently
	// removed from the in-memory map. Prevents unbounded growth from one-off readers.
	// Default: 30 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans for offline devices.
	// Default: 60 seconds.
	SweepInterval time.Duration

	// OnDead is called for each device newly marked offline.
	// Called outside the lock — safe to make blocking calls.
	OnDead func(deviceID, operator string)
}

// Tracker maintains an in-memory roster of active scan devices.
type Tracker struct {
	mu      sync.RWMutex
	devices map[string]*deviceState
	started time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type deviceState struct {
	firstSeen       time.Time
	lastSeen        time.Time
	lastAction      string
	operator        string
	controlPointRef string
	scanCount       int64
	reaped          bool
	reapedAt        time.Time
}

// New creates a new presence tracker.
func New() *Tracker {
	return &Tracker{
		devices: make(map[string]*deviceState),
		started: time.Now(),
	}
}

// RecordScan updates the presence state for a device based on a scan request.
// Called by the server whenever a request carries a device identifier.
func (t *Tracker) RecordScan(ev ScanEvent) {
	if ev.DeviceID == "" {
		return
	}

	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.devices[ev.DeviceID]
	if !ok {
		state = &deviceState{firstSeen: now}
		t.devices[ev.DeviceID] = state
	}

	// Resurrect reaped devices that come back to life.
	if state.reaped {
		slog.Info("presence: device resurrected", "device_id", ev.DeviceID)
		state.reaped = false
		state.reapedAt = time.Time{}
	}

	state.lastSeen = now
	state.lastAction = ev.Action
	state.scanCount++

	if ev.Operator != "" {
		state.operator = ev.Operator
	}
	if ev.ControlPointRef != "" {
		state.controlPointRef = ev.ControlPointRef
	}
}

// Roster returns a snapshot of all tracked devices, sorted by most recently active.
// staleThreshold controls how long since the last scan before a device is excluded.
// Pass 0 to include all devices ever seen.
func (t *Tracker) Roster(staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	entries := make([]Entry, 0, len(t.devices))

	for deviceID, state := range t.devices {
		idle := now.Sub(state.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}

		firstSeen := state.firstSeen
		if firstSeen.IsZero() {
			firstSeen = t.started
		}
		sessionDur := now.Sub(firstSeen).Seconds()

		entries = append(entries, Entry{
			DeviceID:            deviceID,
			LastSeen:            state.lastSeen,
			FirstSeen:           firstSeen,
			LastAction:          state.lastAction,
			Operator:            state.operator,
			ControlPointRef:     state.controlPointRef,
			IdleSecs:            idle.Seconds(),
			ScanCount:           state.scanCount,
			SessionDurationSecs: sessionDur,
			Reaped:              state.reaped,
			ReapedAt:            state.reapedAt,
		})
	}

	// Sort by last seen (most recent first).
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})

	return entries
}

// StartReaper launches a background goroutine that periodically marks idle
// devices as offline. Call Stop() to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.DeadThreshold == 0 {
		cfg.DeadThreshold = 15 * time.Minute
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("presence: reaper started",
		"dead_threshold", cfg.DeadThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := time.Now()

	type deadDevice struct {
		id       string
		operator string
	}
	var newlyDead []deadDevice

	t.mu.Lock()
	for deviceID, state := range t.devices {
		if state.reaped {
			// Evict devices reaped for longer than EvictAfter.
			// Low-traffic devices (<10 scans) are likely one-off readers, evict faster (5 min).
			evictThreshold := cfg.EvictAfter
			if state.scanCount < 10 {
				evictThreshold = 5 * time.Minute
			}
			if !state.reapedAt.IsZero() && now.Sub(state.reapedAt) > evictThreshold {
				delete(t.devices, deviceID)
			}
			continue
		}
		idle := now.Sub(state.lastSeen)
		if idle > cfg.DeadThreshold {
			state.reaped = true
			state.reapedAt = now
			newlyDead = append(newlyDead, deadDevice{id: deviceID, operator: state.operator})
		}
	}
	t.mu.Unlock()

	for _, dead := range newlyDead {
		slog.Info("presence: reaper marked device offline",
			"device_id", dead.id,
			"threshold", cfg.DeadThreshold)
		if cfg.OnDead != nil {
			cfg.OnDead(dead.id, dead.operator)
		}
	}
}
