// Package lifecycle implements the authoritative chip state machine.
//
// Every status change in the system goes through Engine.RequestTransition,
// which checks the requested edge against a single closed transition table,
// verifies the precondition evidence for the target state, and commits the
// status update together with exactly one ledger entry in one transaction.
//
// The engine performs no cryptography; it only consumes precondition
// outcomes (e.g. ChecksumVerified) established by the caller.
package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/store"
)

// IllegalEdgeError reports a (from, to) pair not present in the edge table.
type IllegalEdgeError struct {
	From model.ChipStatus
	To   model.ChipStatus
}

func (e *IllegalEdgeError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// PreconditionError reports required evidence missing for an allowed edge.
type PreconditionError struct {
	From    model.ChipStatus
	To      model.ChipStatus
	Missing string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("transition %s -> %s: precondition failed: %s", e.From, e.To, e.Missing)
}

// ErrChipNotFound is returned when the chip ID resolves to no record.
var ErrChipNotFound = errors.New("lifecycle: chip not found")

// Evidence carries precondition outcomes for a requested transition.
// The engine checks outcomes only; establishing them (scanning, verifying
// checksums, generating secret material) is the caller's job.
type Evidence struct {
	// ManifestMatched confirms the physical receipt scan matched the
	// supplier manifest (in_transit -> in_workshop).
	ManifestMatched bool

	// ChecksumVerified confirms an authenticated scan of this chip
	// (required for assigned_inactive and active).
	ChecksumVerified bool

	// Salt and Checksum are freshly generated secret material
	// (in_workshop -> in_stock, and received_for_service -> in_stock).
	Salt     string
	Checksum string

	// CustomerRef and OrderRef bind the chip on assignment.
	CustomerRef string
	OrderRef    string

	// ControlPointRef is the field location validated by the activation scan.
	ControlPointRef string

	// ReplacementID links the successor chip (-> replaced).
	ReplacementID string

	// Notes is free text recorded on the ledger entry.
	Notes string
}

// edges is the closed transition table. A status absent from the map
// (archived) has no outgoing edges.
var edges = map[model.ChipStatus][]model.ChipStatus{
	model.StatusInTransit:          {model.StatusInWorkshop},
	model.StatusInWorkshop:         {model.StatusInStock},
	model.StatusInStock:            {model.StatusAssignedInactive},
	model.StatusAssignedInactive:   {model.StatusActive, model.StatusReturnedForService},
	model.StatusActive:             {model.StatusReturnedForService},
	model.StatusReturnedForService: {model.StatusReceivedForService},
	model.StatusReceivedForService: {model.StatusInStock, model.StatusReplaced, model.StatusArchived},
	model.StatusReplaced:           {model.StatusArchived},
}

// EdgeAllowed reports whether (from, to) is in the transition table.
func EdgeAllowed(from, to model.ChipStatus) bool {
	for _, t := range edges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Engine validates and commits lifecycle transitions.
type Engine struct {
	store store.Store
	now   func() time.Time
}

// New returns an Engine backed by the given store.
func New(s store.Store) *Engine {
	return &Engine{store: s, now: time.Now}
}

// RequestTransition moves a chip to target if the edge is legal and the
// evidence satisfies the target's preconditions. On success the chip row and
// one ledger entry are committed together; a concurrent transition on the
// same chip causes a clean store.ErrStale failure with no partial write.
func (e *Engine) RequestTransition(ctx context.Context, chipID string, target model.ChipStatus, actor string, ev Evidence) (*model.Chip, error) {
	chip, err := e.store.GetChip(ctx, chipID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChipNotFound
		}
		return nil, fmt.Errorf("get chip: %w", err)
	}

	from := chip.Status
	if !EdgeAllowed(from, target) {
		return nil, &IllegalEdgeError{From: from, To: target}
	}
	if err := checkPreconditions(from, target, ev); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	apply(chip, target, ev, now)
	chip.UpdatedAt = now

	if err := model.ValidateChip(chip); err != nil {
		return nil, fmt.Errorf("transition %s -> %s: %w", from, target, err)
	}

	err = e.store.RunInTransaction(ctx, func(tx store.Store) error {
		if target == model.StatusReplaced {
			if err := checkReplacement(ctx, tx, chip.ID, ev.ReplacementID); err != nil {
				return err
			}
		}
		if err := tx.UpdateChipStatus(ctx, chip, from); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, &model.LedgerEntry{
			ChipID:     chip.ID,
			FromStatus: from,
			ToStatus:   target,
			Actor:      actor,
			Notes:      ev.Notes,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	return chip, nil
}

// checkPreconditions validates the evidence required by the target state.
func checkPreconditions(from, target model.ChipStatus, ev Evidence) error {
	fail := func(missing string) error {
		return &PreconditionError{From: from, To: target, Missing: missing}
	}

	switch target {
	case model.StatusInWorkshop:
		if !ev.ManifestMatched {
			return fail("manifest receipt scan")
		}
	case model.StatusInStock:
		if ev.Salt == "" || ev.Checksum == "" {
			return fail("encoded secret material")
		}
	case model.StatusAssignedInactive:
		if !ev.ChecksumVerified {
			return fail("checksum verification")
		}
		if ev.CustomerRef == "" || ev.OrderRef == "" {
			return fail("customer and order binding")
		}
	case model.StatusActive:
		if !ev.ChecksumVerified {
			return fail("checksum verification")
		}
		if ev.ControlPointRef == "" {
			return fail("control point assignment")
		}
	case model.StatusReplaced:
		if ev.ReplacementID == "" {
			return fail("replacement chip")
		}
	}
	return nil
}

// apply mutates the chip for the accepted transition: status, bindings,
// secret material, and the timestamp stamped by the target state.
func apply(chip *model.Chip, target model.ChipStatus, ev Evidence, now time.Time) {
	chip.Status = target

	switch target {
	case model.StatusInWorkshop:
		chip.ReceivedAt = &now
	case model.StatusInStock:
		// Encoding, or rotation on the service-return path. Either way the
		// chip goes back to anonymous stock with fresh material.
		chip.SecretSalt = ev.Salt
		chip.Checksum = ev.Checksum
		chip.EncodedAt = &now
		chip.CustomerRef = ""
		chip.OrderRef = ""
		chip.ControlPointRef = ""
	case model.StatusAssignedInactive:
		chip.CustomerRef = ev.CustomerRef
		chip.OrderRef = ev.OrderRef
		if chip.FirstScanAt == nil {
			chip.FirstScanAt = &now
		}
		chip.LastScanAt = &now
	case model.StatusActive:
		chip.ControlPointRef = ev.ControlPointRef
		chip.LastScanAt = &now
	case model.StatusReturnedForService:
		chip.ReturnedAt = &now
	case model.StatusReceivedForService:
		chip.ServiceReceivedAt = &now
	case model.StatusReplaced:
		chip.ReplacementRef = ev.ReplacementID
	}
}

// checkReplacement enforces the replacement precondition inside the commit
// transaction: the successor must exist, carry fresh encoding material, and
// not itself be replaced or archived.
func checkReplacement(ctx context.Context, tx store.Store, chipID, replacementID string) error {
	if replacementID == chipID {
		return &PreconditionError{
			From: model.StatusReceivedForService, To: model.StatusReplaced,
			Missing: "replacement must be a different chip",
		}
	}
	repl, err := tx.GetChip(ctx, replacementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &PreconditionError{
				From: model.StatusReceivedForService, To: model.StatusReplaced,
				Missing: fmt.Sprintf("replacement chip %s not found", replacementID),
			}
		}
		return fmt.Errorf("get replacement chip: %w", err)
	}
	if !repl.Status.Encoded() || !repl.HasSecret() {
		return &PreconditionError{
			From: model.StatusReceivedForService, To: model.StatusReplaced,
			Missing: fmt.Sprintf("replacement chip %s is not encoded", replacementID),
		}
	}
	if repl.Status == model.StatusReplaced || repl.Status == model.StatusArchived {
		return &PreconditionError{
			From: model.StatusReceivedForService, To: model.StatusReplaced,
			Missing: fmt.Sprintf("replacement chip %s is out of circulation", replacementID),
		}
	}
	return nil
}
