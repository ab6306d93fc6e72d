// Package ledger exports the chip registry and its transition history to
// off-site backup destinations (S3, git) as JSONL snapshots.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	ChipCount  int       `json:"chip_count"`
	EntryCount int       `json:"entry_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ExportJSONL writes all chips and their ledger entries from the store as
// JSONL to w. Chips are sorted by ID; secret material never leaves the
// database because the chip JSON encoding omits it.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	// Fetch all chips (no filter, no limit).
	chips, _, err := s.ListChips(ctx, model.ChipFilter{Sort: "created_at"})
	if err != nil {
		return fmt.Errorf("list chips: %w", err)
	}

	sort.Slice(chips, func(i, j int) bool {
		return chips[i].ID < chips[j].ID
	})

	entries := make(map[string][]*model.LedgerEntry, len(chips))
	entryCount := 0
	for _, c := range chips {
		es, err := s.GetLedger(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("get ledger for %s: %w", c.ID, err)
		}
		entries[c.ID] = es
		entryCount += len(es)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	// Write header.
	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		ChipCount:  len(chips),
		EntryCount: entryCount,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	// Write each chip followed by its transition history.
	for _, c := range chips {
		if err := enc.Encode(record{Type: "chip", Data: c}); err != nil {
			return fmt.Errorf("encode chip %s: %w", c.ID, err)
		}
		for _, e := range entries[c.ID] {
			if err := enc.Encode(record{Type: "ledger", Data: e}); err != nil {
				return fmt.Errorf("encode ledger entry %d: %w", e.ID, err)
			}
		}
	}

	return nil
}
