// Package storage is the persistent store for ledger records: transactions,
// categories and per-user settings, all scoped by user identifier.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"bilancio/internal/core"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InsertTransaction stores a transaction and returns its assigned identifier.
// The store supplies both the identifier and CreatedAt, mirroring how a hosted
// document store stamps new records.
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, type, amount_cents, category, date_ns, created_at_ns, description, roll_over)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, string(tx.Type), tx.Amount.Cents, tx.Category,
		tx.Date.UnixNano(), tx.CreatedAt.UnixNano(), tx.Description, boolToInt(tx.RollOver))
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved",
		"id", tx.ID,
		"user_id", tx.UserID,
		"type", tx.Type,
		"category", tx.Category,
		"amount_cents", tx.Amount.Cents,
		"roll_over", tx.RollOver)

	return tx.ID, nil
}

// GetTransaction returns a single transaction owned by the user.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, type, amount_cents, category, date_ns, created_at_ns, description, roll_over
		 FROM transactions WHERE user_id = ? AND id = ?`, userID, id)
	tx, err := scanTransaction(row)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

// DeleteTransaction removes a transaction and returns the deleted record so
// callers can reverse the category accumulators.
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	tx, err := r.GetTransaction(ctx, userID, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE user_id = ? AND id = ?`, userID, id); err != nil {
		return core.Transaction{}, fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return tx, nil
}

// ListTransactions returns all of a user's transactions sorted newest-first by
// transaction date, then insertion time.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, type, amount_cents, category, date_ns, created_at_ns, description, roll_over
		 FROM transactions WHERE user_id = ?
		 ORDER BY date_ns DESC, created_at_ns DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// HasRollOverOut reports whether a forwarder outflow already exists for the
// category at the given cycle end instant. Used as the idempotency guard
// before re-forwarding a completed cycle.
func (r *SQLiteRepository) HasRollOverOut(ctx context.Context, userID, category string, cycleEnd time.Time) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions
		 WHERE user_id = ? AND category = ? AND type = 'expense' AND roll_over = 1 AND date_ns = ?`,
		userID, category, cycleEnd.UnixNano()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check roll-over outflow: %w", err)
	}
	return n > 0, nil
}

// InsertCategory stores a category and returns its assigned identifier.
// The UNIQUE(user_id, name) constraint backstops the duplicate-name check the
// ledger performs before calling this.
func (r *SQLiteRepository) InsertCategory(ctx context.Context, c core.Category) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (id, user_id, name, type, budget_cents, spent_cents, created_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, string(c.Type), c.BudgetCents, c.SpentCents, time.Now().UTC().UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", core.ErrDuplicateName
		}
		return "", fmt.Errorf("insert category: %w", err)
	}
	return c.ID, nil
}

// DeleteCategory removes a category by id. Transactions that reference the
// category's name are left untouched.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, userID, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM categories WHERE user_id = ? AND id = ?`, userID, id); err != nil {
		return fmt.Errorf("delete category %s: %w", id, err)
	}
	return nil
}

// GetCategoryByName is the equality lookup the ledger uses for duplicate
// checks and accumulator routing.
func (r *SQLiteRepository) GetCategoryByName(ctx context.Context, userID, name string) (core.Category, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, type, budget_cents, spent_cents
		 FROM categories WHERE user_id = ? AND name = ?`, userID, name)
	var c core.Category
	var typ string
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &typ, &c.BudgetCents, &c.SpentCents); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Category{}, err
		}
		return core.Category{}, fmt.Errorf("get category %q: %w", name, err)
	}
	c.Type = core.TransactionType(typ)
	return c, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, type, budget_cents, spent_cents
		 FROM categories WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []core.Category
	for rows.Next() {
		var c core.Category
		var typ string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &typ, &c.BudgetCents, &c.SpentCents); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Type = core.TransactionType(typ)
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (r *SQLiteRepository) CountCategories(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM categories WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count categories: %w", err)
	}
	return n, nil
}

// AddToAccumulators bumps the denormalized running totals by name. The
// increment runs inside the database, so concurrent sessions cannot lose
// updates the way the original's read-then-write merge could. A transaction
// whose category has no matching record is a no-op by design.
func (r *SQLiteRepository) AddToAccumulators(ctx context.Context, userID, name string, budgetDelta, spentDelta int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE categories
		 SET budget_cents = budget_cents + ?, spent_cents = spent_cents + ?
		 WHERE user_id = ? AND name = ?`,
		budgetDelta, spentDelta, userID, name)
	if err != nil {
		return fmt.Errorf("update accumulators for %q: %w", name, err)
	}
	return nil
}

// GetSetting reads a per-user preference. Returns ok=false when unset.
func (r *SQLiteRepository) GetSetting(ctx context.Context, userID, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE user_id = ? AND key = ?`, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, true, nil
}

// PutSetting upserts a per-user preference.
func (r *SQLiteRepository) PutSetting(ctx context.Context, userID, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (user_id, key, value, updated_at_ns) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value, updated_at_ns = excluded.updated_at_ns`,
		userID, key, value, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("put setting %q: %w", key, err)
	}
	return nil
}

const maxMirrorAttempts = 5

// ListUnmirroredTransactions returns transactions not yet written to the
// spreadsheet mirror, oldest first. Rows that failed too many times are
// excluded so a poison row cannot starve the batch.
func (r *SQLiteRepository) ListUnmirroredTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, type, amount_cents, category, date_ns, created_at_ns, description, roll_over
		 FROM transactions WHERE mirrored = 0 AND mirror_attempts < ?
		 ORDER BY created_at_ns LIMIT ?`, maxMirrorAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list unmirrored transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// MarkMirrored flags a transaction as written to the mirror sheet.
func (r *SQLiteRepository) MarkMirrored(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET mirrored = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark mirrored %s: %w", id, err)
	}
	return nil
}

// MarkMirrorError counts a failed mirror attempt against the transaction.
func (r *SQLiteRepository) MarkMirrorError(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET mirror_attempts = mirror_attempts + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark mirror error %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx          core.Transaction
		typ         string
		dateNS      int64
		createdNS   int64
		rollOverInt int
	)
	if err := row.Scan(&tx.ID, &tx.UserID, &typ, &tx.Amount.Cents, &tx.Category,
		&dateNS, &createdNS, &tx.Description, &rollOverInt); err != nil {
		return core.Transaction{}, err
	}
	tx.Type = core.TransactionType(typ)
	tx.Date = time.Unix(0, dateNS).UTC()
	tx.CreatedAt = time.Unix(0, createdNS).UTC()
	tx.RollOver = rollOverInt != 0
	return tx, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
