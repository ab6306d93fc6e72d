package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tagwerk/chiptrace/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanChip scans a single row into a model.Chip.
// The row must contain columns in the order defined by chipColumns.
func scanChip(row scannable) (*model.Chip, error) {
	var c model.Chip
	var (
		customerRef       sql.NullString
		orderRef          sql.NullString
		controlPointRef   sql.NullString
		replacementRef    sql.NullString
		secretSalt        sql.NullString
		checksum          sql.NullString
		createdBy         sql.NullString
		receivedAt        sql.NullTime
		encodedAt         sql.NullTime
		shippedAt         sql.NullTime
		deliveredAt       sql.NullTime
		firstScanAt       sql.NullTime
		lastScanAt        sql.NullTime
		returnedAt        sql.NullTime
		serviceReceivedAt sql.NullTime
	)

	err := row.Scan(
		&c.ID,
		&c.UID,
		&c.Status,
		&customerRef,
		&orderRef,
		&controlPointRef,
		&replacementRef,
		&secretSalt,
		&checksum,
		&c.CreatedAt,
		&createdBy,
		&c.UpdatedAt,
		&receivedAt,
		&encodedAt,
		&shippedAt,
		&deliveredAt,
		&firstScanAt,
		&lastScanAt,
		&returnedAt,
		&serviceReceivedAt,
	)
	if err != nil {
		return nil, err
	}

	c.CustomerRef = customerRef.String
	c.OrderRef = orderRef.String
	c.ControlPointRef = controlPointRef.String
	c.ReplacementRef = replacementRef.String
	c.SecretSalt = secretSalt.String
	c.Checksum = checksum.String
	c.CreatedBy = createdBy.String

	c.ReceivedAt = timePtr(receivedAt)
	c.EncodedAt = timePtr(encodedAt)
	c.ShippedAt = timePtr(shippedAt)
	c.DeliveredAt = timePtr(deliveredAt)
	c.FirstScanAt = timePtr(firstScanAt)
	c.LastScanAt = timePtr(lastScanAt)
	c.ReturnedAt = timePtr(returnedAt)
	c.ServiceReceivedAt = timePtr(serviceReceivedAt)

	return &c, nil
}

// scanChipWithTotal scans a row that has a leading total_count column
// followed by the standard chip columns. Used by queryListChips with
// COUNT(*) OVER().
func scanChipWithTotal(rows *sql.Rows) (*model.Chip, int, error) {
	var total int
	dest := make([]any, 0, 21)
	dest = append(dest, &total)

	var c model.Chip
	var (
		customerRef       sql.NullString
		orderRef          sql.NullString
		controlPointRef   sql.NullString
		replacementRef    sql.NullString
		secretSalt        sql.NullString
		checksum          sql.NullString
		createdBy         sql.NullString
		receivedAt        sql.NullTime
		encodedAt         sql.NullTime
		shippedAt         sql.NullTime
		deliveredAt       sql.NullTime
		firstScanAt       sql.NullTime
		lastScanAt        sql.NullTime
		returnedAt        sql.NullTime
		serviceReceivedAt sql.NullTime
	)
	dest = append(dest,
		&c.ID, &c.UID, &c.Status,
		&customerRef, &orderRef, &controlPointRef, &replacementRef,
		&secretSalt, &checksum,
		&c.CreatedAt, &createdBy, &c.UpdatedAt,
		&receivedAt, &encodedAt, &shippedAt, &deliveredAt,
		&firstScanAt, &lastScanAt, &returnedAt, &serviceReceivedAt,
	)

	if err := rows.Scan(dest...); err != nil {
		return nil, 0, err
	}

	c.CustomerRef = customerRef.String
	c.OrderRef = orderRef.String
	c.ControlPointRef = controlPointRef.String
	c.ReplacementRef = replacementRef.String
	c.SecretSalt = secretSalt.String
	c.Checksum = checksum.String
	c.CreatedBy = createdBy.String

	c.ReceivedAt = timePtr(receivedAt)
	c.EncodedAt = timePtr(encodedAt)
	c.ShippedAt = timePtr(shippedAt)
	c.DeliveredAt = timePtr(deliveredAt)
	c.FirstScanAt = timePtr(firstScanAt)
	c.LastScanAt = timePtr(lastScanAt)
	c.ReturnedAt = timePtr(returnedAt)
	c.ServiceReceivedAt = timePtr(serviceReceivedAt)

	return &c, total, nil
}

// scanWindow scans a single row into a model.ExecutionWindow.
func scanWindow(row scannable) (*model.ExecutionWindow, error) {
	var w model.ExecutionWindow
	var (
		openedBy      sql.NullString
		secondScanAt  sql.NullTime
		payload       []byte
		flags         []byte
		abandonReason sql.NullString
	)

	err := row.Scan(
		&w.ID,
		&w.SchedulableRef,
		&w.ChipID,
		&openedBy,
		&w.Status,
		&w.FirstScanAt,
		&secondScanAt,
		&payload,
		&flags,
		&abandonReason,
	)
	if err != nil {
		return nil, err
	}

	w.OpenedBy = openedBy.String
	w.AbandonReason = abandonReason.String
	w.SecondScanAt = timePtr(secondScanAt)

	if len(payload) > 0 {
		var p model.Payload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("decode window payload: %w", err)
		}
		w.Payload = &p
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &w.Flags); err != nil {
			return nil, fmt.Errorf("decode window flags: %w", err)
		}
	}

	return &w, nil
}

// scanLedgerEntry scans a single row into a model.LedgerEntry.
func scanLedgerEntry(row scannable) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var (
		actor sql.NullString
		notes sql.NullString
	)
	err := row.Scan(&e.ID, &e.ChipID, &e.FromStatus, &e.ToStatus, &actor, &notes, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Actor = actor.String
	e.Notes = notes.String
	return &e, nil
}

// scanLedgerEntries scans multiple rows into a slice of ledger entry pointers.
func scanLedgerEntries(rows *sql.Rows) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// scanPayloads scans rows of single JSONB payload columns.
func scanPayloads(rows *sql.Rows) ([]model.Payload, error) {
	var payloads []model.Payload
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var p model.Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		payloads = append(payloads, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payloads, nil
}

// timePtr converts a sql.NullTime to a *time.Time.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// payloadBytes marshals a payload for a JSONB column; nil stays NULL.
func payloadBytes(p *model.Payload) []byte {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return b
}

// flagsBytes marshals the flag set for a JSONB column. Flags exist only on
// closed windows; open and abandoned windows keep NULL.
func flagsBytes(f model.FlagSet, status model.WindowStatus) []byte {
	if status != model.WindowClosed {
		return nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return b
}
