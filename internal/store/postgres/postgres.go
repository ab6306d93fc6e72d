// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateChip(ctx context.Context, chip *model.Chip) error {
	return queryCreateChip(ctx, s.db, chip)
}

func (s *PostgresStore) GetChip(ctx context.Context, id string) (*model.Chip, error) {
	return queryGetChip(ctx, s.db, id)
}

func (s *PostgresStore) GetChipByUID(ctx context.Context, uid string) (*model.Chip, error) {
	return queryGetChipByUID(ctx, s.db, uid)
}

func (s *PostgresStore) ListChips(ctx context.Context, filter model.ChipFilter) ([]*model.Chip, int, error) {
	return queryListChips(ctx, s.db, filter)
}

func (s *PostgresStore) StampChipScan(ctx context.Context, chipID string, now time.Time) error {
	return queryStampChipScan(ctx, s.db, chipID, now)
}

func (s *PostgresStore) UpdateChipStatus(ctx context.Context, chip *model.Chip, from model.ChipStatus) error {
	return queryUpdateChipStatus(ctx, s.db, chip, from)
}

// AllocateChips on the root store wraps the claim in its own transaction so
// the all-or-nothing contract holds even outside RunInTransaction.
func (s *PostgresStore) AllocateChips(ctx context.Context, customerRef, orderRef string, count int, now time.Time) ([]*model.Chip, error) {
	var chips []*model.Chip
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		chips, err = tx.AllocateChips(ctx, customerRef, orderRef, count, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chips, nil
}

func (s *PostgresStore) AppendLedger(ctx context.Context, entry *model.LedgerEntry) error {
	return queryAppendLedger(ctx, s.db, entry)
}

func (s *PostgresStore) GetLedger(ctx context.Context, chipID string) ([]*model.LedgerEntry, error) {
	return queryGetLedger(ctx, s.db, chipID)
}

func (s *PostgresStore) CreateWindow(ctx context.Context, w *model.ExecutionWindow) error {
	return queryCreateWindow(ctx, s.db, w)
}

func (s *PostgresStore) GetWindow(ctx context.Context, id string) (*model.ExecutionWindow, error) {
	return queryGetWindow(ctx, s.db, id)
}

func (s *PostgresStore) GetOpenWindow(ctx context.Context, schedulableRef string) (*model.ExecutionWindow, error) {
	return queryGetOpenWindow(ctx, s.db, schedulableRef)
}

func (s *PostgresStore) UpdateWindowStatus(ctx context.Context, w *model.ExecutionWindow) error {
	return queryUpdateWindowStatus(ctx, s.db, w)
}

func (s *PostgresStore) ExpireWindows(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	return queryExpireWindows(ctx, s.db, cutoff, reason)
}

func (s *PostgresStore) GetSchedulable(ctx context.Context, ref string) (*model.Schedulable, error) {
	return queryGetSchedulable(ctx, s.db, ref)
}

func (s *PostgresStore) GetControlPointBounds(ctx context.Context, controlPointRef string) (map[string]model.Bounds, error) {
	return queryGetControlPointBounds(ctx, s.db, controlPointRef)
}

func (s *PostgresStore) GetRecentPayloads(ctx context.Context, controlPointRef string, n int) ([]model.Payload, error) {
	return queryGetRecentPayloads(ctx, s.db, controlPointRef, n)
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.ChipStatus]int, error) {
	return queryCountByStatus(ctx, s.db)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) CreateChip(ctx context.Context, chip *model.Chip) error {
	return queryCreateChip(ctx, s.tx, chip)
}

func (s *txStore) GetChip(ctx context.Context, id string) (*model.Chip, error) {
	return queryGetChip(ctx, s.tx, id)
}

func (s *txStore) GetChipByUID(ctx context.Context, uid string) (*model.Chip, error) {
	return queryGetChipByUID(ctx, s.tx, uid)
}

func (s *txStore) ListChips(ctx context.Context, filter model.ChipFilter) ([]*model.Chip, int, error) {
	return queryListChips(ctx, s.tx, filter)
}

func (s *txStore) StampChipScan(ctx context.Context, chipID string, now time.Time) error {
	return queryStampChipScan(ctx, s.tx, chipID, now)
}

func (s *txStore) UpdateChipStatus(ctx context.Context, chip *model.Chip, from model.ChipStatus) error {
	return queryUpdateChipStatus(ctx, s.tx, chip, from)
}

func (s *txStore) AllocateChips(ctx context.Context, customerRef, orderRef string, count int, now time.Time) ([]*model.Chip, error) {
	return queryAllocateChips(ctx, s.tx, customerRef, orderRef, count, now)
}

func (s *txStore) AppendLedger(ctx context.Context, entry *model.LedgerEntry) error {
	return queryAppendLedger(ctx, s.tx, entry)
}

func (s *txStore) GetLedger(ctx context.Context, chipID string) ([]*model.LedgerEntry, error) {
	return queryGetLedger(ctx, s.tx, chipID)
}

func (s *txStore) CreateWindow(ctx context.Context, w *model.ExecutionWindow) error {
	return queryCreateWindow(ctx, s.tx, w)
}

func (s *txStore) GetWindow(ctx context.Context, id string) (*model.ExecutionWindow, error) {
	return queryGetWindow(ctx, s.tx, id)
}

func (s *txStore) GetOpenWindow(ctx context.Context, schedulableRef string) (*model.ExecutionWindow, error) {
	return queryGetOpenWindow(ctx, s.tx, schedulableRef)
}

func (s *txStore) UpdateWindowStatus(ctx context.Context, w *model.ExecutionWindow) error {
	return queryUpdateWindowStatus(ctx, s.tx, w)
}

func (s *txStore) ExpireWindows(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	return queryExpireWindows(ctx, s.tx, cutoff, reason)
}

func (s *txStore) GetSchedulable(ctx context.Context, ref string) (*model.Schedulable, error) {
	return queryGetSchedulable(ctx, s.tx, ref)
}

func (s *txStore) GetControlPointBounds(ctx context.Context, controlPointRef string) (map[string]model.Bounds, error) {
	return queryGetControlPointBounds(ctx, s.tx, controlPointRef)
}

func (s *txStore) GetRecentPayloads(ctx context.Context, controlPointRef string, n int) ([]model.Payload, error) {
	return queryGetRecentPayloads(ctx, s.tx, controlPointRef, n)
}

func (s *txStore) CountByStatus(ctx context.Context) (map[model.ChipStatus]int, error) {
	return queryCountByStatus(ctx, s.tx)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
