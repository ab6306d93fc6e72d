package model

import "time"

// LedgerEntry is one immutable record in a chip's transition ledger.
// Entries are appended in the same transaction as the status change they
// describe and are never updated or deleted; the ledger is the sole source
// of truth for audit and dispute resolution.
type LedgerEntry struct {
	ID         int64      `json:"id"`
	ChipID     string     `json:"chip_id"`
	FromStatus ChipStatus `json:"from_status"`
	ToStatus   ChipStatus `json:"to_status"`
	Actor      string     `json:"actor,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
