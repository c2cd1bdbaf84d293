package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const transactionColumns = `id, user_id, kind, amount, status, counterparty_id, correlation_id,
        COALESCE(intent_ref, ''), method, description, created_at, updated_at`

const walletColumns = `user_id, balance, reserved, created_at, updated_at`

// pgQuerier is satisfied by both the pool and an open transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresStore persists wallets and the transaction log in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the wallets and transactions tables when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, m := range postgresMigrations {
		if _, err := tx.Exec(ctx, m.up); err != nil {
			return fmt.Errorf("ledger/postgres: migration %s: %w", m.name, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetOrCreateWallet(ctx context.Context, userID string) (Wallet, error) {
	return getOrCreateWallet(ctx, s.db, userID, false)
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (s *PostgresStore) GetTransactionByIntent(ctx context.Context, intentRef string) (Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE intent_ref = $1`, intentRef)
	return scanTransaction(row)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, q ListQuery) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []any{userID}
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (s *PostgresStore) SumCompleted(ctx context.Context, userID string, kind Kind, w Window) (int64, error) {
	const query = `
        SELECT COALESCE(SUM(amount), 0)
        FROM transactions
        WHERE user_id = $1 AND kind = $2 AND status = 'COMPLETED'
          AND ($3::timestamptz IS NULL OR created_at >= $3)
          AND ($4::timestamptz IS NULL OR created_at < $4)`
	var sum int64
	if err := s.db.QueryRow(ctx, query, userID, string(kind), nullTime(w.Start), nullTime(w.End)).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

func (s *PostgresStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
        WHERE status = 'PENDING' AND kind IN ('DEPOSIT', 'WITHDRAWAL') AND created_at < $1
        ORDER BY created_at`
	args := []any{before.UTC()}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// WithinTx runs fn inside a READ COMMITTED transaction. Row locks taken by the
// Tx methods serialize concurrent writers; serialization failures surface as
// ErrConflict.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return translatePgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return translatePgError(err)
	}
	return translatePgError(tx.Commit(ctx))
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetOrCreateWallet(ctx context.Context, userID string) (Wallet, error) {
	return getOrCreateWallet(ctx, t.tx, userID, true)
}

func (t *pgTx) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	return scanTransaction(row)
}

func (t *pgTx) AppendTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	if txn.UserID == "" || !txn.Kind.Valid() {
		return Transaction{}, fmt.Errorf("%w: transaction needs a user and a known kind", ErrInvalidOperation)
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if err := ensureWallet(ctx, t.tx, txn.UserID); err != nil {
		return Transaction{}, err
	}

	txn.Status = StatusPending
	const query = `
        INSERT INTO transactions (id, user_id, kind, amount, status, counterparty_id, correlation_id,
            intent_ref, method, description)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING created_at, updated_at`
	err := t.tx.QueryRow(ctx, query,
		txn.ID, txn.UserID, string(txn.Kind), txn.Amount, string(txn.Status), txn.CounterpartyID,
		txn.CorrelationID, nullString(txn.IntentRef), txn.Method, txn.Description,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return Transaction{}, translatePgError(err)
	}
	txn.CreatedAt = txn.CreatedAt.UTC()
	txn.UpdatedAt = txn.UpdatedAt.UTC()
	return txn, nil
}

func (t *pgTx) TransitionTransaction(ctx context.Context, id string, expected, next Status) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE transactions SET status = $3, updated_at = NOW()
        WHERE id = $1 AND status = $2`, id, string(expected), string(next))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}

	var current string
	if err := t.tx.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return err
	}
	return fmt.Errorf("%w: transaction %s is %s, expected %s", ErrInvalidStateTransition, id, current, expected)
}

func (t *pgTx) AdjustBalance(ctx context.Context, userID string, delta int64) (Wallet, error) {
	if err := ensureWallet(ctx, t.tx, userID); err != nil {
		return Wallet{}, err
	}
	lo, hi := balanceBounds(delta)
	row := t.tx.QueryRow(ctx, `UPDATE wallets SET balance = balance + $2, updated_at = NOW()
        WHERE user_id = $1 AND balance >= $3 AND balance <= $4
        RETURNING `+walletColumns, userID, delta, lo, hi)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, adjustError(userID, delta)
	}
	return w, err
}

func (t *pgTx) AdjustReserved(ctx context.Context, userID string, delta int64) (Wallet, error) {
	if err := ensureWallet(ctx, t.tx, userID); err != nil {
		return Wallet{}, err
	}
	row := t.tx.QueryRow(ctx, `UPDATE wallets SET reserved = reserved + $2, updated_at = NOW()
        WHERE user_id = $1 AND reserved + $2 >= 0
        RETURNING `+walletColumns, userID, delta)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, fmt.Errorf("%w: reservation of %s would go negative", ErrInvalidOperation, userID)
	}
	return w, err
}

func ensureWallet(ctx context.Context, q pgQuerier, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidOperation)
	}
	_, err := q.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	return err
}

func getOrCreateWallet(ctx context.Context, q pgQuerier, userID string, forUpdate bool) (Wallet, error) {
	if err := ensureWallet(ctx, q, userID); err != nil {
		return Wallet{}, err
	}
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanWallet(q.QueryRow(ctx, query, userID))
}

func scanWallet(row rowScanner) (Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.UserID, &w.Balance, &w.Reserved, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		t            Transaction
		kind, status string
	)
	err := row.Scan(&t.ID, &t.UserID, &kind, &t.Amount, &status, &t.CounterpartyID, &t.CorrelationID,
		&t.IntentRef, &t.Method, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	t.Kind = Kind(kind)
	t.Status = Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	out := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// translatePgError maps Postgres conditions onto ledger errors.
func translatePgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	case "22003":
		return fmt.Errorf("%w: %s", ErrInvalidAmount, pgErr.Message)
	case "23505":
		if pgErr.ConstraintName == "idx_transactions_intent_ref" {
			return ErrDuplicateIntent
		}
	}
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
