// Package stock implements atomic allocation of anonymous in-stock chips to
// a customer order. Allocation is the one place two independent actors can
// race for the same physical unit, so the claim and the transition happen in
// a single conditional store operation, never read-then-write.
package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/store"
)

// ErrInvalidRequest is returned for missing refs or a non-positive count.
var ErrInvalidRequest = errors.New("stock: customer ref, order ref and positive count are required")

// Allocator assigns in-stock chips to customer orders.
type Allocator struct {
	store store.Store
	now   func() time.Time
}

// New returns an Allocator backed by the given store.
func New(s store.Store) *Allocator {
	return &Allocator{store: s, now: time.Now}
}

// Allocate claims exactly count in-stock chips for the customer/order and
// moves them to assigned_inactive, appending one ledger entry per chip in
// the same transaction. All-or-nothing: on *store.InsufficientStockError
// nothing changes. Under concurrent calls no chip is ever claimed twice.
func (a *Allocator) Allocate(ctx context.Context, customerRef, orderRef string, count int, actor string) ([]*model.Chip, error) {
	if customerRef == "" || orderRef == "" || count <= 0 {
		return nil, ErrInvalidRequest
	}

	now := a.now().UTC()
	var chips []*model.Chip
	err := a.store.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		chips, err = tx.AllocateChips(ctx, customerRef, orderRef, count, now)
		if err != nil {
			return err
		}
		for _, c := range chips {
			entry := &model.LedgerEntry{
				ChipID:     c.ID,
				FromStatus: model.StatusInStock,
				ToStatus:   model.StatusAssignedInactive,
				Actor:      actor,
				Notes:      fmt.Sprintf("allocated to customer %s order %s", customerRef, orderRef),
				CreatedAt:  now,
			}
			if err := tx.AppendLedger(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chips, nil
}
