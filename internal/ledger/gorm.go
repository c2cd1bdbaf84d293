package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type walletRecord struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Balance   int64  `gorm:"not null;default:0"`
	Reserved  int64  `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (walletRecord) TableName() string {
	return "wallets"
}

type transactionRecord struct {
	ID             string    `gorm:"primaryKey;size:64"`
	UserID         string    `gorm:"size:64;not null;index:idx_transactions_user_created,priority:1"`
	Kind           string    `gorm:"size:16;not null"`
	Amount         int64     `gorm:"not null"`
	Status         string    `gorm:"size:16;not null;index"`
	CounterpartyID string    `gorm:"size:64"`
	CorrelationID  string    `gorm:"size:64"`
	IntentRef      *string   `gorm:"size:64;uniqueIndex:idx_transactions_intent_ref"`
	Method         string    `gorm:"size:64"`
	Description    string    `gorm:"size:1024"`
	CreatedAt      time.Time `gorm:"index:idx_transactions_user_created,priority:2"`
	UpdatedAt      time.Time
}

func (transactionRecord) TableName() string {
	return "transactions"
}

func (r transactionRecord) toTransaction() Transaction {
	t := Transaction{
		ID:             r.ID,
		UserID:         r.UserID,
		Kind:           Kind(r.Kind),
		Amount:         r.Amount,
		Status:         Status(r.Status),
		CounterpartyID: r.CounterpartyID,
		CorrelationID:  r.CorrelationID,
		Method:         r.Method,
		Description:    r.Description,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.IntentRef != nil {
		t.IntentRef = *r.IntentRef
	}
	return t
}

func (r walletRecord) toWallet() Wallet {
	return Wallet{
		UserID:    r.UserID,
		Balance:   r.Balance,
		Reserved:  r.Reserved,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// GormStore keeps the ledger in any gorm dialect; sqlite and mysql are wired.
// Row locks come from clause.Locking, which the sqlite dialector drops since
// sqlite serializes writers itself.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore constructs a gorm-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates or updates the wallets and transactions tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&walletRecord{}, &transactionRecord{})
}

func (s *GormStore) GetOrCreateWallet(ctx context.Context, userID string) (Wallet, error) {
	return gormWallet(s.db.WithContext(ctx), userID, s.now(), false)
}

func (s *GormStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	return gormTransaction(s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *GormStore) GetTransactionByIntent(ctx context.Context, intentRef string) (Transaction, error) {
	return gormTransaction(s.db.WithContext(ctx).Where("intent_ref = ?", intentRef))
}

func (s *GormStore) ListTransactions(ctx context.Context, userID string, q ListQuery) ([]Transaction, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if q.Kind != "" {
		query = query.Where("kind = ?", string(q.Kind))
	}
	query = query.Order("created_at DESC").Order("id DESC")
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}

	var records []transactionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(records))
	for _, r := range records {
		out = append(out, r.toTransaction())
	}
	return out, nil
}

func (s *GormStore) SumCompleted(ctx context.Context, userID string, kind Kind, w Window) (int64, error) {
	query := s.db.WithContext(ctx).Model(&transactionRecord{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND kind = ? AND status = ?", userID, string(kind), string(StatusCompleted))
	if !w.Start.IsZero() {
		query = query.Where("created_at >= ?", w.Start.UTC())
	}
	if !w.End.IsZero() {
		query = query.Where("created_at < ?", w.End.UTC())
	}
	var sum int64
	if err := query.Scan(&sum).Error; err != nil {
		return 0, err
	}
	return sum, nil
}

func (s *GormStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]Transaction, error) {
	query := s.db.WithContext(ctx).
		Where("status = ? AND kind IN ? AND created_at < ?",
			string(StatusPending), []string{string(KindDeposit), string(KindWithdrawal)}, before.UTC()).
		Order("created_at")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []transactionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(records))
	for _, r := range records {
		out = append(out, r.toTransaction())
	}
	return out, nil
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db, now: s.now})
	})
	return translateGormError(err)
}

type gormTx struct {
	db  *gorm.DB
	now func() time.Time
}

func (t *gormTx) GetOrCreateWallet(_ context.Context, userID string) (Wallet, error) {
	return gormWallet(t.db, userID, t.now(), true)
}

func (t *gormTx) GetTransaction(_ context.Context, id string) (Transaction, error) {
	return gormTransaction(t.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (t *gormTx) AppendTransaction(_ context.Context, txn Transaction) (Transaction, error) {
	if txn.UserID == "" || !txn.Kind.Valid() {
		return Transaction{}, fmt.Errorf("%w: transaction needs a user and a known kind", ErrInvalidOperation)
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	now := t.now()
	if err := ensureGormWallet(t.db, txn.UserID, now); err != nil {
		return Transaction{}, err
	}

	txn.Status = StatusPending
	txn.CreatedAt = now
	txn.UpdatedAt = now
	rec := transactionRecord{
		ID:             txn.ID,
		UserID:         txn.UserID,
		Kind:           string(txn.Kind),
		Amount:         txn.Amount,
		Status:         string(txn.Status),
		CounterpartyID: txn.CounterpartyID,
		CorrelationID:  txn.CorrelationID,
		Method:         txn.Method,
		Description:    txn.Description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if txn.IntentRef != "" {
		ref := txn.IntentRef
		rec.IntentRef = &ref
	}
	if err := t.db.Create(&rec).Error; err != nil {
		return Transaction{}, translateGormError(err)
	}
	return txn, nil
}

func (t *gormTx) TransitionTransaction(_ context.Context, id string, expected, next Status) error {
	res := t.db.Model(&transactionRecord{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(map[string]any{"status": string(next), "updated_at": t.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	current, err := gormTransaction(t.db.Where("id = ?", id))
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: transaction %s is %s, expected %s", ErrInvalidStateTransition, id, current.Status, expected)
}

func (t *gormTx) AdjustBalance(_ context.Context, userID string, delta int64) (Wallet, error) {
	now := t.now()
	if err := ensureGormWallet(t.db, userID, now); err != nil {
		return Wallet{}, err
	}
	lo, hi := balanceBounds(delta)
	res := t.db.Model(&walletRecord{}).
		Where("user_id = ? AND balance >= ? AND balance <= ?", userID, lo, hi).
		Updates(map[string]any{"balance": gorm.Expr("balance + ?", delta), "updated_at": now})
	if res.Error != nil {
		return Wallet{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Wallet{}, adjustError(userID, delta)
	}
	return gormWallet(t.db, userID, now, false)
}

func (t *gormTx) AdjustReserved(_ context.Context, userID string, delta int64) (Wallet, error) {
	now := t.now()
	if err := ensureGormWallet(t.db, userID, now); err != nil {
		return Wallet{}, err
	}
	res := t.db.Model(&walletRecord{}).
		Where("user_id = ? AND reserved + ? >= 0", userID, delta).
		Updates(map[string]any{"reserved": gorm.Expr("reserved + ?", delta), "updated_at": now})
	if res.Error != nil {
		return Wallet{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Wallet{}, fmt.Errorf("%w: reservation of %s would go negative", ErrInvalidOperation, userID)
	}
	return gormWallet(t.db, userID, now, false)
}

func ensureGormWallet(db *gorm.DB, userID string, now time.Time) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidOperation)
	}
	rec := walletRecord{UserID: userID, CreatedAt: now, UpdatedAt: now}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

func gormWallet(db *gorm.DB, userID string, now time.Time, forUpdate bool) (Wallet, error) {
	if err := ensureGormWallet(db, userID, now); err != nil {
		return Wallet{}, err
	}
	if forUpdate {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rec walletRecord
	if err := db.Where("user_id = ?", userID).First(&rec).Error; err != nil {
		return Wallet{}, err
	}
	return rec.toWallet(), nil
}

func gormTransaction(query *gorm.DB) (Transaction, error) {
	var rec transactionRecord
	if err := query.First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return rec.toTransaction(), nil
}

// translateGormError maps driver level lock and uniqueness failures onto
// ledger errors.
func translateGormError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateIntent
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213:
			return fmt.Errorf("%w: %s", ErrConflict, myErr.Message)
		case 1062:
			return ErrDuplicateIntent
		}
		return err
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.Code == sqlite3.ErrBusy, liteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %s", ErrConflict, liteErr.Error())
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			return ErrDuplicateIntent
		}
	}
	return err
}
