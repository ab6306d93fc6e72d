// Package client provides a transport-agnostic interface for the chiptrace
// service and an HTTP/JSON implementation that talks to the chiptrace REST API.
package client

import (
	"context"

	"github.com/tagwerk/chiptrace/internal/chipauth"
	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/presence"
)

// ChipsClient is the interface that all chipctl commands use to communicate
// with the chiptrace server. It is implemented by HTTPClient (default) and can
// be backed by any transport.
type ChipsClient interface {
	// Chip lifecycle
	RegisterChip(ctx context.Context, req *RegisterChipRequest) (*model.Chip, error)
	GetChip(ctx context.Context, id string) (*model.Chip, error)
	ListChips(ctx context.Context, req *ListChipsRequest) (*ListChipsResponse, error)
	GetLedger(ctx context.Context, chipID string) (*LedgerResponse, error)
	Transition(ctx context.Context, chipID string, req *TransitionRequest) (*model.Chip, error)
	EncodeChip(ctx context.Context, chipID string, req *EncodeChipRequest) (*EncodeChipResponse, error)

	// Scan authentication
	VerifyScan(ctx context.Context, req *VerifyScanRequest) (*VerifyScanResponse, error)

	// Stock
	Allocate(ctx context.Context, req *AllocateRequest) (*AllocateResponse, error)

	// Execution windows
	OpenExecution(ctx context.Context, req *OpenExecutionRequest) (*model.ExecutionWindow, error)
	GetExecution(ctx context.Context, id string) (*model.ExecutionWindow, error)
	CloseExecution(ctx context.Context, id string, req *CloseExecutionRequest) (*model.ExecutionWindow, error)
	AbandonExecution(ctx context.Context, id string, req *AbandonExecutionRequest) (*model.ExecutionWindow, error)

	// Fleet
	GetStats(ctx context.Context) (*StatsResponse, error)
	GetDeviceRoster(ctx context.Context) (*RosterResponse, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// RegisterChipRequest holds parameters for registering a chip.
type RegisterChipRequest struct {
	UID       string `json:"uid"`
	CreatedBy string `json:"created_by,omitempty"`
}

// ListChipsRequest holds parameters for listing chips.
type ListChipsRequest struct {
	Status          []string `json:"status,omitempty"`
	CustomerRef     string   `json:"customer_ref,omitempty"`
	OrderRef        string   `json:"order_ref,omitempty"`
	ControlPointRef string   `json:"control_point_ref,omitempty"`
	UID             string   `json:"uid,omitempty"`
	Sort            string   `json:"sort,omitempty"`
	Limit           int      `json:"limit,omitempty"`
	Offset          int      `json:"offset,omitempty"`
}

// ListChipsResponse is the response from ListChips.
type ListChipsResponse struct {
	Chips []*model.Chip `json:"chips"`
	Total int           `json:"total"`
}

// LedgerResponse is the response from GetLedger.
type LedgerResponse struct {
	Entries []*model.LedgerEntry `json:"entries"`
	Total   int                  `json:"total"`
}

// Evidence carries the preconditions a transition request asserts.
type Evidence struct {
	ManifestMatched bool   `json:"manifest_matched,omitempty"`
	CustomerRef     string `json:"customer_ref,omitempty"`
	OrderRef        string `json:"order_ref,omitempty"`
	ControlPointRef string `json:"control_point_ref,omitempty"`
	ReplacementID   string `json:"replacement_id,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// TransitionRequest holds parameters for requesting a status transition.
// When Scan is set, the server verifies it before granting checksum-gated
// edges.
type TransitionRequest struct {
	Target   string               `json:"target"`
	Actor    string               `json:"actor,omitempty"`
	Evidence Evidence             `json:"evidence,omitempty"`
	Scan     *chipauth.ScanReport `json:"scan,omitempty"`
}

// EncodeChipRequest holds parameters for encoding a chip's secret material.
type EncodeChipRequest struct {
	Actor string `json:"actor,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// EncodeChipResponse is the response from EncodeChip. The checksum is handed
// to the tag writer; the salt never leaves the server.
type EncodeChipResponse struct {
	Chip     *model.Chip `json:"chip"`
	Checksum string      `json:"checksum"`
}

// VerifyScanRequest holds one scan report for authentication.
type VerifyScanRequest struct {
	UID             string `json:"uid,omitempty"`
	ChipID          string `json:"chip_id,omitempty"`
	ClaimedChecksum string `json:"claimed_checksum"`
	Operator        string `json:"operator,omitempty"`
}

// VerifyScanResponse is the response from VerifyScan. Chip is set only for
// authentic scans; Reason is set only for rejections.
type VerifyScanResponse struct {
	Authentic bool        `json:"authentic"`
	Reason    string      `json:"reason,omitempty"`
	Chip      *model.Chip `json:"chip,omitempty"`
}

// AllocateRequest holds parameters for an atomic stock allocation.
type AllocateRequest struct {
	CustomerRef string `json:"customer_ref"`
	OrderRef    string `json:"order_ref"`
	Count       int    `json:"count"`
	Actor       string `json:"actor,omitempty"`
}

// AllocateResponse is the response from Allocate.
type AllocateResponse struct {
	Chips []*model.Chip `json:"chips"`
	Total int           `json:"total"`
}

// OpenExecutionRequest holds parameters for opening an execution window.
type OpenExecutionRequest struct {
	SchedulableRef string              `json:"schedulable_ref"`
	Scan           chipauth.ScanReport `json:"scan"`
	Actor          string              `json:"actor,omitempty"`
}

// CloseExecutionRequest holds parameters for closing an execution window.
type CloseExecutionRequest struct {
	Scan    chipauth.ScanReport `json:"scan"`
	Payload model.Payload       `json:"payload"`
	Actor   string              `json:"actor,omitempty"`
}

// AbandonExecutionRequest holds parameters for abandoning an execution window.
type AbandonExecutionRequest struct {
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason"`
}

// StatsResponse is the response from GetStats.
type StatsResponse struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// RosterResponse is the response from GetDeviceRoster.
type RosterResponse struct {
	Devices []*presence.Entry `json:"devices"`
	Total   int               `json:"total"`
}
