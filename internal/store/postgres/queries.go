package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/store"
)

// chipColumns is the column list used for SELECT statements on the chips table.
const chipColumns = `id, uid, status, customer_ref, order_ref, control_point_ref,
	replacement_ref, secret_salt, checksum, created_at, created_by, updated_at,
	received_at, encoded_at, shipped_at, delivered_at, first_scan_at, last_scan_at,
	returned_at, service_received_at`

// windowColumns is the column list for SELECT statements on the windows table.
const windowColumns = `id, schedulable_ref, chip_id, opened_by, status,
	first_scan_at, second_scan_at, payload, flags, abandon_reason`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateChip(ctx context.Context, db executor, c *model.Chip) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chips (
			id, uid, status, customer_ref, order_ref, control_point_ref,
			replacement_ref, secret_salt, checksum, created_at, created_by, updated_at,
			received_at, encoded_at, shipped_at, delivered_at, first_scan_at, last_scan_at,
			returned_at, service_received_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18,
			$19, $20
		)`,
		chipArgs(c)...,
	)
	return err
}

// chipArgs returns the 20 insert/update values in chipColumns order.
func chipArgs(c *model.Chip) []any {
	return []any{
		c.ID,
		c.UID,
		string(c.Status),
		nullString(c.CustomerRef),
		nullString(c.OrderRef),
		nullString(c.ControlPointRef),
		nullString(c.ReplacementRef),
		nullString(c.SecretSalt),
		nullString(c.Checksum),
		c.CreatedAt,
		nullString(c.CreatedBy),
		c.UpdatedAt,
		nullTimePtr(c.ReceivedAt),
		nullTimePtr(c.EncodedAt),
		nullTimePtr(c.ShippedAt),
		nullTimePtr(c.DeliveredAt),
		nullTimePtr(c.FirstScanAt),
		nullTimePtr(c.LastScanAt),
		nullTimePtr(c.ReturnedAt),
		nullTimePtr(c.ServiceReceivedAt),
	}
}

func queryGetChip(ctx context.Context, db executor, id string) (*model.Chip, error) {
	row := db.QueryRowContext(ctx, `SELECT `+chipColumns+` FROM chips WHERE id = $1`, id)
	return scanChip(row)
}

func queryGetChipByUID(ctx context.Context, db executor, uid string) (*model.Chip, error) {
	row := db.QueryRowContext(ctx, `SELECT `+chipColumns+` FROM chips WHERE uid = $1`, uid)
	return scanChip(row)
}

func queryListChips(ctx context.Context, db executor, filter model.ChipFilter) ([]*model.Chip, int, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = nextArg()
			args = append(args, string(s))
		}
		whereClauses = append(whereClauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.CustomerRef != "" {
		whereClauses = append(whereClauses, "customer_ref = "+nextArg())
		args = append(args, filter.CustomerRef)
	}

	if filter.OrderRef != "" {
		whereClauses = append(whereClauses, "order_ref = "+nextArg())
		args = append(args, filter.OrderRef)
	}

	if filter.ControlPointRef != "" {
		whereClauses = append(whereClauses, "control_point_ref = "+nextArg())
		args = append(args, filter.ControlPointRef)
	}

	if filter.UID != "" {
		whereClauses = append(whereClauses, "uid = "+nextArg())
		args = append(args, filter.UID)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	// Single query with COUNT(*) OVER() to get total and rows atomically.
	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + chipColumns + " FROM chips" + whereSQL + " ORDER BY " + parseSortClause(filter.Sort)

	if filter.Limit > 0 {
		dataQuery += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		dataQuery += " OFFSET " + nextArg()
		args = append(args, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list chips: %w", err)
	}
	defer rows.Close()

	var chips []*model.Chip
	var total int
	for rows.Next() {
		c, t, err := scanChipWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan chips: %w", err)
		}
		total = t
		chips = append(chips, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan chips: %w", err)
	}

	return chips, total, nil
}

// queryStampChipScan touches only the scan timestamp columns. Lifecycle
// fields are deliberately left alone; a transition committed after the chip
// was read stays intact.
func queryStampChipScan(ctx context.Context, db executor, chipID string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE chips SET
			first_scan_at = COALESCE(first_scan_at, $2),
			last_scan_at = $2,
			updated_at = $2
		WHERE id = $1`,
		chipID, now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// queryUpdateChipStatus writes the full chip row guarded by the expected
// current status. Zero rows affected means a concurrent transition won.
func queryUpdateChipStatus(ctx context.Context, db executor, c *model.Chip, from model.ChipStatus) error {
	res, err := db.ExecContext(ctx, `
		UPDATE chips SET
			uid = $3,
			status = $4,
			customer_ref = $5,
			order_ref = $6,
			control_point_ref = $7,
			replacement_ref = $8,
			secret_salt = $9,
			checksum = $10,
			updated_at = $11,
			received_at = $12,
			encoded_at = $13,
			shipped_at = $14,
			delivered_at = $15,
			first_scan_at = $16,
			last_scan_at = $17,
			returned_at = $18,
			service_received_at = $19
		WHERE id = $1 AND status = $2`,
		c.ID,
		string(from),
		c.UID,
		string(c.Status),
		nullString(c.CustomerRef),
		nullString(c.OrderRef),
		nullString(c.ControlPointRef),
		nullString(c.ReplacementRef),
		nullString(c.SecretSalt),
		nullString(c.Checksum),
		c.UpdatedAt,
		nullTimePtr(c.ReceivedAt),
		nullTimePtr(c.EncodedAt),
		nullTimePtr(c.ShippedAt),
		nullTimePtr(c.DeliveredAt),
		nullTimePtr(c.FirstScanAt),
		nullTimePtr(c.LastScanAt),
		nullTimePtr(c.ReturnedAt),
		nullTimePtr(c.ServiceReceivedAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrStale
	}
	return nil
}

// queryAllocateChips claims count in-stock chips in one conditional update.
// SKIP LOCKED keeps concurrent allocators from ever selecting the same row;
// a short result set fails the whole claim so the enclosing transaction
// rolls back untouched.
func queryAllocateChips(ctx context.Context, db executor, customerRef, orderRef string, count int, now time.Time) ([]*model.Chip, error) {
	rows, err := db.QueryContext(ctx, `
		UPDATE chips SET
			status = $1,
			customer_ref = $2,
			order_ref = $3,
			first_scan_at = COALESCE(first_scan_at, $4),
			last_scan_at = $4,
			updated_at = $4
		WHERE id IN (
			SELECT id FROM chips
			WHERE status = $5
			ORDER BY encoded_at, id
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+chipColumns,
		string(model.StatusAssignedInactive),
		customerRef,
		orderRef,
		now,
		string(model.StatusInStock),
		count,
	)
	if err != nil {
		return nil, fmt.Errorf("allocate chips: %w", err)
	}
	defer rows.Close()

	var chips []*model.Chip
	for rows.Next() {
		c, err := scanChip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocated chip: %w", err)
		}
		chips = append(chips, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("allocate chips: %w", err)
	}

	if len(chips) < count {
		return nil, &store.InsufficientStockError{Want: count, Have: len(chips)}
	}
	return chips, nil
}

func queryAppendLedger(ctx context.Context, db executor, e *model.LedgerEntry) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO ledger (chip_id, from_status, to_status, actor, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		e.ChipID, string(e.FromStatus), string(e.ToStatus),
		nullString(e.Actor), nullString(e.Notes), e.CreatedAt,
	).Scan(&e.ID)
}

func queryGetLedger(ctx context.Context, db executor, chipID string) ([]*model.LedgerEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, chip_id, from_status, to_status, actor, notes, created_at
		FROM ledger
		WHERE chip_id = $1
		ORDER BY id ASC`,
		chipID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

func queryCreateWindow(ctx context.Context, db executor, w *model.ExecutionWindow) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO windows (
			id, schedulable_ref, chip_id, opened_by, status,
			first_scan_at, second_scan_at, payload, flags, abandon_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID,
		w.SchedulableRef,
		w.ChipID,
		nullString(w.OpenedBy),
		string(w.Status),
		w.FirstScanAt,
		nullTimePtr(w.SecondScanAt),
		payloadBytes(w.Payload),
		flagsBytes(w.Flags, w.Status),
		nullString(w.AbandonReason),
	)
	if err != nil {
		// The partial unique index on (schedulable_ref) WHERE status='open'
		// enforces at-most-one-open; surface the loss as a typed error.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return store.ErrWindowExists
		}
		return err
	}
	return nil
}

func queryGetWindow(ctx context.Context, db executor, id string) (*model.ExecutionWindow, error) {
	row := db.QueryRowContext(ctx, `SELECT `+windowColumns+` FROM windows WHERE id = $1`, id)
	return scanWindow(row)
}

func queryGetOpenWindow(ctx context.Context, db executor, schedulableRef string) (*model.ExecutionWindow, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+windowColumns+` FROM windows
		WHERE schedulable_ref = $1 AND status = 'open'`,
		schedulableRef,
	)
	return scanWindow(row)
}

// queryUpdateWindowStatus writes the full window row guarded on the window
// still being open. Zero rows affected means a concurrent close or abandon won.
func queryUpdateWindowStatus(ctx context.Context, db executor, w *model.ExecutionWindow) error {
	res, err := db.ExecContext(ctx, `
		UPDATE windows SET
			status = $2,
			second_scan_at = $3,
			payload = $4,
			flags = $5,
			abandon_reason = $6
		WHERE id = $1 AND status = 'open'`,
		w.ID,
		string(w.Status),
		nullTimePtr(w.SecondScanAt),
		payloadBytes(w.Payload),
		flagsBytes(w.Flags, w.Status),
		nullString(w.AbandonReason),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrStale
	}
	return nil
}

func queryExpireWindows(ctx context.Context, db executor, cutoff time.Time, reason string) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE windows SET status = 'abandoned', abandon_reason = $2
		WHERE status = 'open' AND first_scan_at < $1`,
		cutoff, reason,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func queryGetSchedulable(ctx context.Context, db executor, ref string) (*model.Schedulable, error) {
	var s model.Schedulable
	err := db.QueryRowContext(ctx, `
		SELECT ref, control_point_ref, task_type, scheduled_at
		FROM schedulables WHERE ref = $1`, ref,
	).Scan(&s.Ref, &s.ControlPointRef, &s.TaskType, &s.ScheduledAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func queryGetControlPointBounds(ctx context.Context, db executor, controlPointRef string) (map[string]model.Bounds, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT field, min_value, max_value
		FROM control_point_bounds
		WHERE control_point_ref = $1`,
		controlPointRef,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bounds := make(map[string]model.Bounds)
	for rows.Next() {
		var field string
		var b model.Bounds
		if err := rows.Scan(&field, &b.Min, &b.Max); err != nil {
			return nil, err
		}
		bounds[field] = b
	}
	return bounds, rows.Err()
}

// queryGetRecentPayloads returns the payloads of the most recently closed
// windows for chips bound to the control point, newest first.
func queryGetRecentPayloads(ctx context.Context, db executor, controlPointRef string, n int) ([]model.Payload, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT w.payload
		FROM windows w
		JOIN chips c ON w.chip_id = c.id
		WHERE c.control_point_ref = $1
		  AND w.status = 'closed'
		  AND w.payload IS NOT NULL
		ORDER BY w.second_scan_at DESC
		LIMIT $2`,
		controlPointRef, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayloads(rows)
}

func queryCountByStatus(ctx context.Context, db executor) (map[model.ChipStatus]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM chips GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.ChipStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.ChipStatus(status)] = n
	}
	return counts, rows.Err()
}

func parseSortClause(sort string) string {
	if sort == "" {
		return "created_at DESC"
	}
	desc := strings.HasPrefix(sort, "-")
	col := strings.TrimPrefix(sort, "-")
	allowed := map[string]bool{
		"created_at": true, "updated_at": true, "status": true,
		"uid": true, "encoded_at": true, "last_scan_at": true,
	}
	if !allowed[col] {
		return "created_at DESC"
	}
	if desc {
		return col + " DESC"
	}
	return col + " ASC"
}
