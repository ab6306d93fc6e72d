// Package execution implements the double-scan protocol: an authenticated
// first scan opens an execution window for a schedulable unit, and a second
// scan with the same chip closes it and triggers flag computation.
package execution

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tagwerk/chiptrace/internal/chipauth"
	"github.com/tagwerk/chiptrace/internal/fraud"
	"github.com/tagwerk/chiptrace/internal/idgen"
	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/store"
)

// historyDepth is how many prior submissions are fetched for the
// repeated-value check. Must cover the largest configured repeat depth.
const historyDepth = 10

var (
	// ErrAlreadyOpen means another actor owns a non-terminal window for the
	// schedulable. Callers must not blindly retry.
	ErrAlreadyOpen = errors.New("execution: window already open for schedulable")
	// ErrTokenMismatch means the closing scan presented a different chip
	// than the opening scan. The window stays open for resolution.
	ErrTokenMismatch = errors.New("execution: closing chip differs from opening chip")
	// ErrWindowNotFound means the window ID resolves to no record.
	ErrWindowNotFound = errors.New("execution: window not found")
	// ErrWindowNotOpen means the window is already closed or abandoned.
	ErrWindowNotOpen = errors.New("execution: window is not open")
	// ErrReasonRequired means abandon was called without a reason.
	ErrReasonRequired = errors.New("execution: abandon reason is required")
	// ErrSchedulableNotFound means the schedulable ref resolves to nothing.
	ErrSchedulableNotFound = errors.New("execution: schedulable not found")
)

// AuthError wraps a rejected scan verification.
type AuthError struct {
	Result chipauth.Result
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("scan rejected: %s", e.Result.Reason)
}

// NotEligibleError means the chip authenticated but is not in a state that
// admits the requested scan (not active, or bound elsewhere).
type NotEligibleError struct {
	ChipID string
	Detail string
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("chip %s not eligible: %s", e.ChipID, e.Detail)
}

// Coordinator drives execution windows through open/close/abandon.
type Coordinator struct {
	store  store.Store
	fraud  *fraud.Engine
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Coordinator backed by the given store and fraud engine.
func New(s store.Store, f *fraud.Engine, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: s, fraud: f, logger: logger, now: time.Now}
}

// Open verifies the opening scan and creates an execution window. The chip
// must authenticate, be active, and be bound to the schedulable's declared
// control point. At most one open window may exist per schedulable; a losing
// concurrent caller gets ErrAlreadyOpen.
func (c *Coordinator) Open(ctx context.Context, schedulableRef string, scan chipauth.ScanReport, actor string) (*model.ExecutionWindow, error) {
	sched, err := c.store.GetSchedulable(ctx, schedulableRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSchedulableNotFound
		}
		return nil, fmt.Errorf("get schedulable: %w", err)
	}

	chip, err := c.authenticate(ctx, scan)
	if err != nil {
		return nil, err
	}
	if chip.Status != model.StatusActive {
		return nil, &NotEligibleError{ChipID: chip.ID, Detail: fmt.Sprintf("status is %s, want %s", chip.Status, model.StatusActive)}
	}
	if chip.ControlPointRef != sched.ControlPointRef {
		return nil, &NotEligibleError{ChipID: chip.ID, Detail: fmt.Sprintf("bound to control point %q, schedulable declares %q", chip.ControlPointRef, sched.ControlPointRef)}
	}

	id, err := idgen.NewWindowID()
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	w := &model.ExecutionWindow{
		ID:             id,
		SchedulableRef: schedulableRef,
		ChipID:         chip.ID,
		OpenedBy:       actor,
		Status:         model.WindowOpen,
		FirstScanAt:    now,
	}
	if err := model.ValidateWindow(w); err != nil {
		return nil, err
	}

	err = c.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.CreateWindow(ctx, w); err != nil {
			if errors.Is(err, store.ErrWindowExists) {
				return ErrAlreadyOpen
			}
			return err
		}
		return tx.StampChipScan(ctx, chip.ID, now)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Close verifies the closing scan, requires the same chip that opened the
// window, computes the flag set, and closes the window. Flags are advisory
// and never block closure.
func (c *Coordinator) Close(ctx context.Context, windowID string, scan chipauth.ScanReport, payload model.Payload) (*model.ExecutionWindow, error) {
	w, err := c.getWindow(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if w.Status.Terminal() {
		return nil, ErrWindowNotOpen
	}

	chip, err := c.authenticate(ctx, scan)
	if err != nil {
		return nil, err
	}
	if chip.ID != w.ChipID {
		return nil, ErrTokenMismatch
	}

	sched, err := c.store.GetSchedulable(ctx, w.SchedulableRef)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get schedulable: %w", err)
	}

	now := c.now().UTC()
	w.Status = model.WindowClosed
	w.SecondScanAt = &now
	w.Payload = &payload
	w.Flags = c.evaluate(ctx, chip, sched, w, payload)

	if err := model.ValidateWindow(w); err != nil {
		return nil, err
	}

	err = c.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.UpdateWindowStatus(ctx, w); err != nil {
			if errors.Is(err, store.ErrStale) {
				return ErrWindowNotOpen
			}
			return err
		}
		return tx.StampChipScan(ctx, chip.ID, now)
	})
	if err != nil {
		return nil, err
	}

	if w.Flags.Any() {
		c.logger.Info("execution closed with flags",
			"window_id", w.ID, "schedulable", w.SchedulableRef, "flags", w.Flags.List())
	}
	return w, nil
}

// Abandon terminates an open window without flag computation. Operator use
// only; a reason is mandatory.
func (c *Coordinator) Abandon(ctx context.Context, windowID, actor, reason string) (*model.ExecutionWindow, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}
	w, err := c.getWindow(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if w.Status.Terminal() {
		return nil, ErrWindowNotOpen
	}

	w.Status = model.WindowAbandoned
	w.AbandonReason = fmt.Sprintf("%s (by %s)", reason, actor)

	if err := c.store.UpdateWindowStatus(ctx, w); err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, ErrWindowNotOpen
		}
		return nil, err
	}
	return w, nil
}

// authenticate loads the scanned chip and verifies the checksum. A rejected
// result never advances any state.
func (c *Coordinator) authenticate(ctx context.Context, scan chipauth.ScanReport) (*model.Chip, error) {
	chip, err := c.store.GetChip(ctx, scan.ChipID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get chip: %w", err)
	}
	res := chipauth.Verify(chip, scan.UID, scan.ClaimedChecksum)
	if !res.Authentic {
		if res.Reason == chipauth.ReasonMismatch {
			c.logger.Warn("checksum mismatch on execution scan; possible cloned tag",
				"chip_id", scan.ChipID, "uid", scan.UID)
		}
		return nil, &AuthError{Result: res}
	}
	return chip, nil
}

// evaluate gathers bounds and history for the chip's control point and runs
// the fraud engine. Lookup failures degrade to an empty context rather than
// blocking closure.
func (c *Coordinator) evaluate(ctx context.Context, chip *model.Chip, sched *model.Schedulable, w *model.ExecutionWindow, payload model.Payload) model.FlagSet {
	in := fraud.EvalInput{
		OpenedAt: w.FirstScanAt,
		ClosedAt: *w.SecondScanAt,
		Payload:  payload,
	}
	if sched != nil {
		in.TaskType = sched.TaskType
		in.ScheduledAt = sched.ScheduledAt
	}

	bounds, err := c.store.GetControlPointBounds(ctx, chip.ControlPointRef)
	if err != nil {
		c.logger.Warn("bounds lookup failed; skipping range checks", "control_point", chip.ControlPointRef, "err", err)
	} else {
		in.Bounds = bounds
	}
	history, err := c.store.GetRecentPayloads(ctx, chip.ControlPointRef, historyDepth)
	if err != nil {
		c.logger.Warn("history lookup failed; skipping repeat checks", "control_point", chip.ControlPointRef, "err", err)
	} else {
		in.History = history
	}

	return c.fraud.Evaluate(in)
}

func (c *Coordinator) getWindow(ctx context.Context, id string) (*model.ExecutionWindow, error) {
	w, err := c.store.GetWindow(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, fmt.Errorf("get window: %w", err)
	}
	return w, nil
}
