package server

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/store"
)

// mockStore is an in-memory store for server tests. It honors the same
// conditional-update contracts as the Postgres implementation: status guards
// return store.ErrStale, a second open window per schedulable returns
// store.ErrWindowExists, and a short stock pool returns
// *store.InsufficientStockError.
type mockStore struct {
	chips        map[string]*model.Chip
	ledger       map[string][]*model.LedgerEntry
	windows      map[string]*model.ExecutionWindow
	schedulables map[string]*model.Schedulable
	bounds       map[string]map[string]model.Bounds
	history      map[string][]model.Payload
	nextLedgerID int64
}

func newMockStore() *mockStore {
	return &mockStore{
		chips:        make(map[string]*model.Chip),
		ledger:       make(map[string][]*model.LedgerEntry),
		windows:      make(map[string]*model.ExecutionWindow),
		schedulables: make(map[string]*model.Schedulable),
		bounds:       make(map[string]map[string]model.Bounds),
		history:      make(map[string][]model.Payload),
	}
}

func (m *mockStore) CreateChip(_ context.Context, chip *model.Chip) error {
	cp := *chip
	m.chips[chip.ID] = &cp
	return nil
}

func (m *mockStore) GetChip(_ context.Context, id string) (*model.Chip, error) {
	c, ok := m.chips[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) GetChipByUID(_ context.Context, uid string) (*model.Chip, error) {
	for _, c := range m.chips {
		if c.UID == uid {
			cp := *c
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStore) ListChips(_ context.Context, filter model.ChipFilter) ([]*model.Chip, int, error) {
	var result []*model.Chip
	for _, c := range m.chips {
		if len(filter.Status) > 0 {
			match := false
			for _, st := range filter.Status {
				if c.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if filter.CustomerRef != "" && c.CustomerRef != filter.CustomerRef {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, len(result), nil
}

func (m *mockStore) StampChipScan(_ context.Context, chipID string, now time.Time) error {
	c, ok := m.chips[chipID]
	if !ok {
		return sql.ErrNoRows
	}
	if c.FirstScanAt == nil {
		first := now
		c.FirstScanAt = &first
	}
	last := now
	c.LastScanAt = &last
	c.UpdatedAt = now
	return nil
}

func (m *mockStore) UpdateChipStatus(_ context.Context, chip *model.Chip, from model.ChipStatus) error {
	current, ok := m.chips[chip.ID]
	if !ok || current.Status != from {
		return store.ErrStale
	}
	cp := *chip
	m.chips[chip.ID] = &cp
	return nil
}

func (m *mockStore) AllocateChips(_ context.Context, customerRef, orderRef string, count int, now time.Time) ([]*model.Chip, error) {
	var pool []*model.Chip
	for _, c := range m.chips {
		if c.Status == model.StatusInStock {
			pool = append(pool, c)
		}
	}
	if len(pool) < count {
		return nil, &store.InsufficientStockError{Want: count, Have: len(pool)}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	claimed := make([]*model.Chip, 0, count)
	for _, c := range pool[:count] {
		c.Status = model.StatusAssignedInactive
		c.CustomerRef = customerRef
		c.OrderRef = orderRef
		c.UpdatedAt = now
		cp := *c
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (m *mockStore) AppendLedger(_ context.Context, entry *model.LedgerEntry) error {
	m.nextLedgerID++
	entry.ID = m.nextLedgerID
	cp := *entry
	m.ledger[entry.ChipID] = append(m.ledger[entry.ChipID], &cp)
	return nil
}

func (m *mockStore) GetLedger(_ context.Context, chipID string) ([]*model.LedgerEntry, error) {
	return m.ledger[chipID], nil
}

func (m *mockStore) CreateWindow(_ context.Context, w *model.ExecutionWindow) error {
	for _, existing := range m.windows {
		if existing.SchedulableRef == w.SchedulableRef && existing.Status == model.WindowOpen {
			return store.ErrWindowExists
		}
	}
	cp := *w
	m.windows[w.ID] = &cp
	return nil
}

func (m *mockStore) GetWindow(_ context.Context, id string) (*model.ExecutionWindow, error) {
	w, ok := m.windows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *w
	return &cp, nil
}

func (m *mockStore) GetOpenWindow(_ context.Context, schedulableRef string) (*model.ExecutionWindow, error) {
	for _, w := range m.windows {
		if w.SchedulableRef == schedulableRef && w.Status == model.WindowOpen {
			cp := *w
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStore) UpdateWindowStatus(_ context.Context, w *model.ExecutionWindow) error {
	current, ok := m.windows[w.ID]
	if !ok || current.Status != model.WindowOpen {
		return store.ErrStale
	}
	cp := *w
	m.windows[w.ID] = &cp
	return nil
}

func (m *mockStore) ExpireWindows(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	var n int64
	for _, w := range m.windows {
		if w.Status == model.WindowOpen && w.FirstScanAt.Before(cutoff) {
			w.Status = model.WindowAbandoned
			w.AbandonReason = reason
			n++
		}
	}
	return n, nil
}

func (m *mockStore) GetSchedulable(_ context.Context, ref string) (*model.Schedulable, error) {
	s, ok := m.schedulables[ref]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) GetControlPointBounds(_ context.Context, ref string) (map[string]model.Bounds, error) {
	return m.bounds[ref], nil
}

func (m *mockStore) GetRecentPayloads(_ context.Context, ref string, n int) ([]model.Payload, error) {
	h := m.history[ref]
	if len(h) > n {
		h = h[:n]
	}
	return h, nil
}

func (m *mockStore) CountByStatus(_ context.Context) (map[model.ChipStatus]int, error) {
	counts := make(map[model.ChipStatus]int)
	for _, c := range m.chips {
		counts[c.Status]++
	}
	return counts, nil
}

func (m *mockStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(m)
}

func (m *mockStore) Close() error {
	return nil
}
