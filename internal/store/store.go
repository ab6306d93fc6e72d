// Package store defines the persistence interface for chips, the transition
// ledger, and execution windows.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tagwerk/chiptrace/internal/model"
)

// ErrStale is returned by conditional updates when the guarded status no
// longer matches, i.e. a concurrent caller won the race.
var ErrStale = errors.New("store: stale status guard")

// ErrWindowExists is returned by CreateWindow when a non-terminal window
// already exists for the schedulable.
var ErrWindowExists = errors.New("store: open window already exists")

// InsufficientStockError is returned by AllocateChips when fewer chips than
// requested are in stock. The operation is all-or-nothing.
type InsufficientStockError struct {
	Want int
	Have int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: want %d, have %d", e.Want, e.Have)
}

// Store defines the persistence interface for the chip lifecycle core.
type Store interface {
	// Chips
	CreateChip(ctx context.Context, chip *model.Chip) error
	GetChip(ctx context.Context, id string) (*model.Chip, error)
	GetChipByUID(ctx context.Context, uid string) (*model.Chip, error)
	ListChips(ctx context.Context, filter model.ChipFilter) ([]*model.Chip, int, error) // returns chips, total count, error

	// StampChipScan records first/last scan timestamps on the chip. The
	// update touches only the scan columns, so it can never revert a
	// lifecycle transition committed since the chip was loaded.
	StampChipScan(ctx context.Context, chipID string, now time.Time) error

	// UpdateChipStatus writes the full chip row only if the stored status
	// still equals from (compare-and-swap on status). Returns ErrStale when
	// the guard fails.
	UpdateChipStatus(ctx context.Context, chip *model.Chip, from model.ChipStatus) error

	// AllocateChips atomically claims count in-stock chips for the given
	// customer/order and moves them to assigned_inactive. Under concurrent
	// calls no chip is claimed twice. Returns *InsufficientStockError and
	// changes nothing when fewer than count are available.
	AllocateChips(ctx context.Context, customerRef, orderRef string, count int, now time.Time) ([]*model.Chip, error)

	// Ledger (append-only)
	AppendLedger(ctx context.Context, entry *model.LedgerEntry) error
	GetLedger(ctx context.Context, chipID string) ([]*model.LedgerEntry, error)

	// Execution windows
	// CreateWindow inserts an open window; returns ErrWindowExists when a
	// non-terminal window already exists for the same schedulable.
	CreateWindow(ctx context.Context, w *model.ExecutionWindow) error
	GetWindow(ctx context.Context, id string) (*model.ExecutionWindow, error)
	GetOpenWindow(ctx context.Context, schedulableRef string) (*model.ExecutionWindow, error)
	// UpdateWindowStatus writes the full window row only if the stored status
	// is still open. Returns ErrStale when the guard fails.
	UpdateWindowStatus(ctx context.Context, w *model.ExecutionWindow) error
	// ExpireWindows abandons every window open since before cutoff with the
	// given reason and returns how many were expired.
	ExpireWindows(ctx context.Context, cutoff time.Time, reason string) (int64, error)

	// Planning data, owned by the surrounding CRUD layer; read-only here.
	GetSchedulable(ctx context.Context, ref string) (*model.Schedulable, error)
	GetControlPointBounds(ctx context.Context, controlPointRef string) (map[string]model.Bounds, error)
	GetRecentPayloads(ctx context.Context, controlPointRef string, n int) ([]model.Payload, error)

	// Stats
	CountByStatus(ctx context.Context) (map[model.ChipStatus]int, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
