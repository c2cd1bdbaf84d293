package ledger

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
)

type memWallet struct {
	Wallet
	version int64
}

type memTransaction struct {
	Transaction
	version int64
}

// logKey orders a user's log newest first, id descending on ties.
type logKey struct {
	createdAt time.Time
	id        string
}

func newestFirst(a, b logKey) bool {
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.After(b.createdAt)
	}
	return a.id > b.id
}

type inMemoryStore struct {
	mu       sync.RWMutex
	wallets  map[string]memWallet
	txs      map[string]memTransaction
	byIntent map[string]string
	byUser   map[string]*btree.BTreeG[logKey]
	now      func() time.Time
}

// MemoryOption customizes the in-memory store.
type MemoryOption func(*inMemoryStore)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *inMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemory creates a concurrency-safe in-memory store. Writes are staged per
// transaction and validated against row versions at commit, so readers never
// observe a half-applied unit.
func NewInMemory(opts ...MemoryOption) Store {
	s := &inMemoryStore{
		wallets:  make(map[string]memWallet),
		txs:      make(map[string]memTransaction),
		byIntent: make(map[string]string),
		byUser:   make(map[string]*btree.BTreeG[logKey]),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *inMemoryStore) GetOrCreateWallet(_ context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, fmt.Errorf("%w: user id is required", ErrInvalidOperation)
	}
	s.mu.RLock()
	w, ok := s.wallets[userID]
	s.mu.RUnlock()
	if ok {
		return w.Wallet, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[userID]; ok {
		return w.Wallet, nil
	}
	now := s.now()
	w = memWallet{Wallet: Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}, version: 1}
	s.wallets[userID] = w
	return w.Wallet, nil
}

func (s *inMemoryStore) GetTransaction(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return t.Transaction, nil
}

func (s *inMemoryStore) GetTransactionByIntent(_ context.Context, intentRef string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIntent[intentRef]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.txs[id].Transaction, nil
}

func (s *inMemoryStore) ListTransactions(_ context.Context, userID string, q ListQuery) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Transaction, 0)
	index, ok := s.byUser[userID]
	if !ok {
		return out, nil
	}
	skipped := 0
	index.Scan(func(k logKey) bool {
		t := s.txs[k.id].Transaction
		if q.Kind != "" && t.Kind != q.Kind {
			return true
		}
		if skipped < q.Offset {
			skipped++
			return true
		}
		out = append(out, t)
		return q.Limit <= 0 || len(out) < q.Limit
	})
	return out, nil
}

func (s *inMemoryStore) SumCompleted(_ context.Context, userID string, kind Kind, w Window) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	index, ok := s.byUser[userID]
	if !ok {
		return 0, nil
	}
	index.Scan(func(k logKey) bool {
		t := s.txs[k.id].Transaction
		if t.Kind == kind && t.Status == StatusCompleted && w.Contains(t.CreatedAt) {
			sum += t.Amount
		}
		return true
	})
	return sum, nil
}

func (s *inMemoryStore) ListStalePending(_ context.Context, before time.Time, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Transaction, 0)
	for _, t := range s.txs {
		if t.Status != StatusPending || !t.CreatedAt.Before(before) {
			continue
		}
		if t.Kind != KindDeposit && t.Kind != KindWithdrawal {
			continue
		}
		out = append(out, t.Transaction)
	}
	slices.SortFunc(out, func(a, b Transaction) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *inMemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store:   s,
		wallets: make(map[string]*stagedWallet),
		txs:     make(map[string]*stagedTransaction),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *inMemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sw := range tx.wallets {
		cur, ok := s.wallets[id]
		if ok != sw.exists || (ok && cur.version != sw.readVersion) {
			return fmt.Errorf("%w: wallet %s changed", ErrConflict, id)
		}
	}
	for id, st := range tx.txs {
		cur, ok := s.txs[id]
		if ok != st.exists || (ok && cur.version != st.readVersion) {
			return fmt.Errorf("%w: transaction %s changed", ErrConflict, id)
		}
		if !st.exists && st.t.IntentRef != "" {
			if _, taken := s.byIntent[st.t.IntentRef]; taken {
				return ErrDuplicateIntent
			}
		}
	}

	for id, sw := range tx.wallets {
		if sw.dirty {
			s.wallets[id] = memWallet{Wallet: sw.w, version: sw.readVersion + 1}
		}
	}
	for _, id := range tx.order {
		st := tx.txs[id]
		if !st.dirty {
			continue
		}
		s.txs[id] = memTransaction{Transaction: st.t, version: st.readVersion + 1}
		if st.exists {
			continue
		}
		index, ok := s.byUser[st.t.UserID]
		if !ok {
			index = btree.NewBTreeG(newestFirst)
			s.byUser[st.t.UserID] = index
		}
		index.Set(logKey{createdAt: st.t.CreatedAt, id: id})
		if st.t.IntentRef != "" {
			s.byIntent[st.t.IntentRef] = id
		}
	}
	return nil
}

type stagedWallet struct {
	w           Wallet
	readVersion int64
	exists      bool
	dirty       bool
}

type stagedTransaction struct {
	t           Transaction
	readVersion int64
	exists      bool
	dirty       bool
}

// memTx buffers reads and writes of one unit of work.
type memTx struct {
	store   *inMemoryStore
	wallets map[string]*stagedWallet
	txs     map[string]*stagedTransaction
	order   []string
}

func (tx *memTx) wallet(userID string) (*stagedWallet, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidOperation)
	}
	if sw, ok := tx.wallets[userID]; ok {
		return sw, nil
	}
	tx.store.mu.RLock()
	cur, ok := tx.store.wallets[userID]
	tx.store.mu.RUnlock()

	var sw *stagedWallet
	if ok {
		sw = &stagedWallet{w: cur.Wallet, readVersion: cur.version, exists: true}
	} else {
		now := tx.store.now()
		sw = &stagedWallet{w: Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}, dirty: true}
	}
	tx.wallets[userID] = sw
	return sw, nil
}

func (tx *memTx) transaction(id string) (*stagedTransaction, error) {
	if st, ok := tx.txs[id]; ok {
		return st, nil
	}
	tx.store.mu.RLock()
	cur, ok := tx.store.txs[id]
	tx.store.mu.RUnlock()
	if !ok {
		return nil, ErrTransactionNotFound
	}
	st := &stagedTransaction{t: cur.Transaction, readVersion: cur.version, exists: true}
	tx.txs[id] = st
	tx.order = append(tx.order, id)
	return st, nil
}

func (tx *memTx) GetOrCreateWallet(_ context.Context, userID string) (Wallet, error) {
	sw, err := tx.wallet(userID)
	if err != nil {
		return Wallet{}, err
	}
	return sw.w, nil
}

func (tx *memTx) GetTransaction(_ context.Context, id string) (Transaction, error) {
	st, err := tx.transaction(id)
	if err != nil {
		return Transaction{}, err
	}
	return st.t, nil
}

func (tx *memTx) AppendTransaction(_ context.Context, t Transaction) (Transaction, error) {
	if t.UserID == "" || !t.Kind.Valid() {
		return Transaction{}, fmt.Errorf("%w: transaction needs a user and a known kind", ErrInvalidOperation)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, staged := tx.txs[t.ID]; staged {
		return Transaction{}, fmt.Errorf("%w: transaction %s already exists", ErrInvalidOperation, t.ID)
	}
	if t.IntentRef != "" {
		for _, st := range tx.txs {
			if st.t.IntentRef == t.IntentRef {
				return Transaction{}, ErrDuplicateIntent
			}
		}
	}

	tx.store.mu.RLock()
	_, exists := tx.store.txs[t.ID]
	_, taken := tx.store.byIntent[t.IntentRef]
	tx.store.mu.RUnlock()
	if exists {
		return Transaction{}, fmt.Errorf("%w: transaction %s already exists", ErrInvalidOperation, t.ID)
	}
	if t.IntentRef != "" && taken {
		return Transaction{}, ErrDuplicateIntent
	}

	now := tx.store.now()
	t.Status = StatusPending
	t.CreatedAt = now
	t.UpdatedAt = now
	tx.txs[t.ID] = &stagedTransaction{t: t, dirty: true}
	tx.order = append(tx.order, t.ID)
	return t, nil
}

func (tx *memTx) TransitionTransaction(_ context.Context, id string, expected, next Status) error {
	st, err := tx.transaction(id)
	if err != nil {
		return err
	}
	if st.t.Status != expected {
		return fmt.Errorf("%w: transaction %s is %s, expected %s", ErrInvalidStateTransition, id, st.t.Status, expected)
	}
	st.t.Status = next
	st.t.UpdatedAt = tx.store.now()
	st.dirty = true
	return nil
}

func (tx *memTx) AdjustBalance(_ context.Context, userID string, delta int64) (Wallet, error) {
	sw, err := tx.wallet(userID)
	if err != nil {
		return Wallet{}, err
	}
	if lo, hi := balanceBounds(delta); sw.w.Balance < lo || sw.w.Balance > hi {
		return Wallet{}, adjustError(userID, delta)
	}
	sw.w.Balance += delta
	sw.w.UpdatedAt = tx.store.now()
	sw.dirty = true
	return sw.w, nil
}

func (tx *memTx) AdjustReserved(_ context.Context, userID string, delta int64) (Wallet, error) {
	sw, err := tx.wallet(userID)
	if err != nil {
		return Wallet{}, err
	}
	reserved := sw.w.Reserved + delta
	if reserved < 0 {
		return Wallet{}, fmt.Errorf("%w: reservation of %s would go negative", ErrInvalidOperation, userID)
	}
	sw.w.Reserved = reserved
	sw.w.UpdatedAt = tx.store.now()
	sw.dirty = true
	return sw.w, nil
}
