package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/store"
)

// stockStore is an in-memory store for allocator tests. AllocateChips is
// all-or-nothing and atomic under concurrent callers, matching the
// row-locked Postgres implementation.
type stockStore struct {
	store.Store

	mu     sync.Mutex
	chips  map[string]*model.Chip
	ledger []*model.LedgerEntry
}

func newStockStore() *stockStore {
	return &stockStore{chips: make(map[string]*model.Chip)}
}

func (s *stockStore) AllocateChips(_ context.Context, customerRef, orderRef string, count int, now time.Time) ([]*model.Chip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pool []*model.Chip
	for _, c := range s.chips {
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

func (s *stockStore) AppendLedger(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.ledger = append(s.ledger, &cp)
	return nil
}

func (s *stockStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func seedStock(s *stockStore, n int) {
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("ch-%03d", i)
		s.chips[id] = &model.Chip{
			ID:         id,
			UID:        fmt.Sprintf("04A%03d", i),
			Status:     model.StatusInStock,
			SecretSalt: "aabb",
			Checksum:   "ccdd",
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
}

func TestAllocate(t *testing.T) {
	s := newStockStore()
	seedStock(s, 5)
	a := New(s)

	chips, err := a.Allocate(context.Background(), "cust-1", "ord-7", 3, "sales-1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(chips) != 3 {
		t.Fatalf("claimed %d chips, want 3", len(chips))
	}
	for _, c := range chips {
		if c.Status != model.StatusAssignedInactive {
			t.Errorf("chip %s status = %s", c.ID, c.Status)
		}
		if c.CustomerRef != "cust-1" || c.OrderRef != "ord-7" {
			t.Errorf("chip %s binding = %q/%q", c.ID, c.CustomerRef, c.OrderRef)
		}
	}

	// One ledger entry per claimed chip, in the same transaction.
	if len(s.ledger) != 3 {
		t.Fatalf("ledger entries = %d, want 3", len(s.ledger))
	}
	for _, e := range s.ledger {
		if e.FromStatus != model.StatusInStock || e.ToStatus != model.StatusAssignedInactive {
			t.Errorf("ledger edge = %s -> %s", e.FromStatus, e.ToStatus)
		}
		if e.Actor != "sales-1" {
			t.Errorf("actor = %q", e.Actor)
		}
		if !strings.Contains(e.Notes, "cust-1") || !strings.Contains(e.Notes, "ord-7") {
			t.Errorf("notes = %q", e.Notes)
		}
	}

	// The rest of the pool is untouched.
	remaining := 0
	for _, c := range s.chips {
		if c.Status == model.StatusInStock {
			remaining++
		}
	}
	if remaining != 2 {
		t.Errorf("remaining stock = %d, want 2", remaining)
	}
}

func TestAllocate_InsufficientStock(t *testing.T) {
	s := newStockStore()
	seedStock(s, 2)
	a := New(s)

	_, err := a.Allocate(context.Background(), "cust-1", "ord-7", 5, "sales-1")
	var ise *store.InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("got %v, want InsufficientStockError", err)
	}
	if ise.Want != 5 || ise.Have != 2 {
		t.Errorf("want/have = %d/%d", ise.Want, ise.Have)
	}

	// All-or-nothing: nothing claimed, nothing logged.
	for _, c := range s.chips {
		if c.Status != model.StatusInStock {
			t.Errorf("chip %s moved to %s on failed allocation", c.ID, c.Status)
		}
	}
	if len(s.ledger) != 0 {
		t.Error("failed allocation must not write to the ledger")
	}
}

func TestAllocate_InvalidRequest(t *testing.T) {
	a := New(newStockStore())

	tests := []struct {
		name     string
		customer string
		order    string
		count    int
	}{
		{"missing customer", "", "ord-1", 1},
		{"missing order", "cust-1", "", 1},
		{"zero count", "cust-1", "ord-1", 0},
		{"negative count", "cust-1", "ord-1", -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Allocate(context.Background(), tt.customer, tt.order, tt.count, "sales-1")
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("got %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestAllocate_ConcurrentOrdersNeverShareChips(t *testing.T) {
	s := newStockStore()
	seedStock(s, 6)
	a := New(s)

	// Five orders of two chips each against a pool of six: exactly three can
	// be satisfied, and no chip may appear in two results.
	const orders = 5
	type result struct {
		chips []*model.Chip
		err   error
	}
	results := make(chan result, orders)
	var wg sync.WaitGroup
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chips, err := a.Allocate(context.Background(),
				fmt.Sprintf("cust-%d", i), fmt.Sprintf("ord-%d", i), 2, "sales-1")
			results <- result{chips: chips, err: err}
		}(i)
	}
	wg.Wait()
	close(results)

	var satisfied, refused int
	seen := make(map[string]bool)
	for r := range results {
		if r.err != nil {
			var ise *store.InsufficientStockError
			if !errors.As(r.err, &ise) {
				t.Errorf("unexpected error: %v", r.err)
			}
			refused++
			continue
		}
		satisfied++
		for _, c := range r.chips {
			if seen[c.ID] {
				t.Errorf("chip %s claimed by two orders", c.ID)
			}
			seen[c.ID] = true
		}
	}
	if satisfied != 3 || refused != 2 {
		t.Errorf("satisfied/refused = %d/%d, want 3/2", satisfied, refused)
	}
	if len(seen) != 6 {
		t.Errorf("distinct chips claimed = %d, want 6", len(seen))
	}
	if len(s.ledger) != 6 {
		t.Errorf("ledger entries = %d, want 6", len(s.ledger))
	}
}

func TestAllocate_SequentialOrdersShareNothing(t *testing.T) {
	s := newStockStore()
	seedStock(s, 4)
	a := New(s)

	first, err := a.Allocate(context.Background(), "cust-1", "ord-1", 2, "sales-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Allocate(context.Background(), "cust-2", "ord-2", 2, "sales-2")
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	for _, c := range append(first, second...) {
		if seen[c.ID] {
			t.Errorf("chip %s claimed twice", c.ID)
		}
		seen[c.ID] = true
	}

	// The pool is drained; a third order fails cleanly.
	_, err = a.Allocate(context.Background(), "cust-3", "ord-3", 1, "sales-3")
	var ise *store.InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("got %v, want InsufficientStockError", err)
	}
}
