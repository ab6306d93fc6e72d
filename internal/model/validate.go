package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateChip checks a Chip for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the chip is valid.
func ValidateChip(c *Chip) error {
	var ve ValidationError

	if strings.TrimSpace(c.ID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "id", Message: "is required"})
	}
	if strings.TrimSpace(c.UID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "uid", Message: "is required"})
	}

	if !c.Status.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "status",
			Message: fmt.Sprintf("invalid value %q", c.Status),
		})
	}

	// Secret material is all-or-nothing, and present exactly from encoding on.
	if (c.SecretSalt == "") != (c.Checksum == "") {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "secret_salt",
			Message: "salt and checksum must be set together",
		})
	}
	if c.Status.IsValid() {
		if c.Status.Encoded() && !c.HasSecret() {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "checksum",
				Message: fmt.Sprintf("required in status %q", c.Status),
			})
		}
		if !c.Status.Encoded() && c.HasSecret() {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "checksum",
				Message: fmt.Sprintf("must be absent in status %q", c.Status),
			})
		}

		// Customer binding follows assignment.
		if c.CustomerRef != "" && !c.Status.Assigned() {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "customer_ref",
				Message: fmt.Sprintf("must be absent in status %q", c.Status),
			})
		}
		if c.Status.Assigned() && c.CustomerRef == "" {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "customer_ref",
				Message: fmt.Sprintf("required in status %q", c.Status),
			})
		}

		// A replacement link appears when the chip is replaced and survives
		// archival.
		if c.ReplacementRef != "" && c.Status != StatusReplaced && c.Status != StatusArchived {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "replacement_ref",
				Message: fmt.Sprintf("must be absent in status %q", c.Status),
			})
		}
		if c.Status == StatusReplaced && c.ReplacementRef == "" {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "replacement_ref",
				Message: "required when status is replaced",
			})
		}
		if c.ReplacementRef == c.ID && c.ReplacementRef != "" {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "replacement_ref",
				Message: "must not point to the chip itself",
			})
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateWindow checks an ExecutionWindow for constraint violations.
func ValidateWindow(w *ExecutionWindow) error {
	var ve ValidationError

	if strings.TrimSpace(w.ID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "id", Message: "is required"})
	}
	if strings.TrimSpace(w.SchedulableRef) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "schedulable_ref", Message: "is required"})
	}
	if strings.TrimSpace(w.ChipID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "chip_id", Message: "is required"})
	}
	if !w.Status.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "status",
			Message: fmt.Sprintf("invalid value %q", w.Status),
		})
	}
	if w.FirstScanAt.IsZero() {
		ve.Errors = append(ve.Errors, FieldError{Field: "first_scan_at", Message: "is required"})
	}

	switch w.Status {
	case WindowOpen:
		if w.SecondScanAt != nil {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "second_scan_at",
				Message: "must be absent while open",
			})
		}
	case WindowClosed:
		if w.SecondScanAt == nil {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "second_scan_at",
				Message: "required when closed",
			})
		} else if w.SecondScanAt.Before(w.FirstScanAt) {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "second_scan_at",
				Message: "must not precede first_scan_at",
			})
		}
	case WindowAbandoned:
		if strings.TrimSpace(w.AbandonReason) == "" {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "abandon_reason",
				Message: "required when abandoned",
			})
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
