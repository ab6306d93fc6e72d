package ledger

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/store"
)

// mockStore is a minimal in-memory store for backup tests.
type mockStore struct {
	chips   map[string]*model.Chip
	entries map[string][]*model.LedgerEntry
}

func newMockStore() *mockStore {
	return &mockStore{
		chips:   make(map[string]*model.Chip),
		entries: make(map[string][]*model.LedgerEntry),
	}
}

func (m *mockStore) CreateChip(_ context.Context, chip *model.Chip) error {
	m.chips[chip.ID] = chip
	return nil
}

func (m *mockStore) GetChip(_ context.Context, id string) (*model.Chip, error) {
	c, ok := m.chips[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return c, nil
}

func (m *mockStore) GetChipByUID(_ context.Context, uid string) (*model.Chip, error) {
	for _, c := range m.chips {
		if c.UID == uid {
			return c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStore) ListChips(_ context.Context, _ model.ChipFilter) ([]*model.Chip, int, error) {
	var result []*model.Chip
	for _, c := range m.chips {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, len(result), nil
}

func (m *mockStore) StampChipScan(_ context.Context, chipID string, now time.Time) error {
	if c, ok := m.chips[chipID]; ok {
		c.LastScanAt = &now
	}
	return nil
}

func (m *mockStore) UpdateChipStatus(_ context.Context, chip *model.Chip, _ model.ChipStatus) error {
	m.chips[chip.ID] = chip
	return nil
}

func (m *mockStore) AllocateChips(_ context.Context, _, _ string, _ int, _ time.Time) ([]*model.Chip, error) {
	return nil, nil
}

func (m *mockStore) AppendLedger(_ context.Context, entry *model.LedgerEntry) error {
	m.entries[entry.ChipID] = append(m.entries[entry.ChipID], entry)
	return nil
}

func (m *mockStore) GetLedger(_ context.Context, chipID string) ([]*model.LedgerEntry, error) {
	return m.entries[chipID], nil
}

func (m *mockStore) CreateWindow(_ context.Context, _ *model.ExecutionWindow) error {
	return nil
}

func (m *mockStore) GetWindow(_ context.Context, _ string) (*model.ExecutionWindow, error) {
	return nil, sql.ErrNoRows
}

func (m *mockStore) GetOpenWindow(_ context.Context, _ string) (*model.ExecutionWindow, error) {
	return nil, sql.ErrNoRows
}

func (m *mockStore) UpdateWindowStatus(_ context.Context, _ *model.ExecutionWindow) error {
	return nil
}

func (m *mockStore) ExpireWindows(_ context.Context, _ time.Time, _ string) (int64, error) {
	return 0, nil
}

func (m *mockStore) GetSchedulable(_ context.Context, _ string) (*model.Schedulable, error) {
	return nil, sql.ErrNoRows
}

func (m *mockStore) GetControlPointBounds(_ context.Context, _ string) (map[string]model.Bounds, error) {
	return nil, nil
}

func (m *mockStore) GetRecentPayloads(_ context.Context, _ string, _ int) ([]model.Payload, error) {
	return nil, nil
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
