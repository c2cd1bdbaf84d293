package ledger

import (
	"slices"
	"sync"
)

// Locker hands out one mutex per wallet. Multi-wallet callers always acquire in
// ascending user id order so opposite transfers cannot deadlock.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*walletLock
}

type walletLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker builds an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*walletLock)}
}

// Lock blocks until every listed wallet is held and returns the release func.
// Duplicate ids are collapsed.
func (l *Locker) Lock(userIDs ...string) (unlock func()) {
	ids := lockOrder(userIDs)
	held := make([]*walletLock, 0, len(ids))
	for _, id := range ids {
		wl := l.acquire(id)
		wl.mu.Lock()
		held = append(held, wl)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(ids[i])
		}
	}
}

func (l *Locker) acquire(id string) *walletLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	wl, ok := l.locks[id]
	if !ok {
		wl = &walletLock{}
		l.locks[id] = wl
	}
	wl.refs++
	return wl
}

func (l *Locker) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	wl, ok := l.locks[id]
	if !ok {
		return
	}
	wl.refs--
	if wl.refs == 0 {
		delete(l.locks, id)
	}
}

// lockOrder returns the sorted, de-duplicated set of ids.
func lockOrder(userIDs []string) []string {
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	return slices.Compact(ids)
}
