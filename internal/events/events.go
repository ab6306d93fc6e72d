package events

import (
	"context"

	"github.com/tagwerk/chiptrace/internal/model"
)

// Event topic constants
const (
	TopicChipRegistered   = "chips.chip.registered"
	TopicChipTransitioned = "chips.chip.transitioned"
	TopicChipEncoded      = "chips.chip.encoded"

	TopicScanRejected = "chips.scan.rejected"

	TopicStockAllocated = "chips.stock.allocated"

	// Execution window events
	TopicWindowOpened    = "chips.window.opened"
	TopicWindowClosed    = "chips.window.closed"
	TopicWindowAbandoned = "chips.window.abandoned"
)

// Event types

type ChipRegistered struct {
	Chip *model.Chip `json:"chip"`
}

type ChipTransitioned struct {
	Chip       *model.Chip      `json:"chip"`
	FromStatus model.ChipStatus `json:"from_status"`
	Actor      string           `json:"actor,omitempty"`
}

type ChipEncoded struct {
	Chip *model.Chip `json:"chip"`
}

type ScanRejected struct {
	ChipID string `json:"chip_id,omitempty"`
	UID    string `json:"uid"`
	Reason string `json:"reason"`
}

type StockAllocated struct {
	CustomerRef string   `json:"customer_ref"`
	OrderRef    string   `json:"order_ref,omitempty"`
	ChipIDs     []string `json:"chip_ids"`
	Actor       string   `json:"actor,omitempty"`
}

// Window events

type WindowOpened struct {
	Window *model.ExecutionWindow `json:"window"`
}

type WindowClosed struct {
	Window *model.ExecutionWindow `json:"window"`
	Flags  []string               `json:"flags,omitempty"`
}

type WindowAbandoned struct {
	Window *model.ExecutionWindow `json:"window"`
	Reason string                 `json:"reason"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
