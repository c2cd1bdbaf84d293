package ledger

import (
	"sync"
	"testing"
	"time"
)

func TestLocker_OppositeOrderDoesNotDeadlock(t *testing.T) {
	l := NewLocker()
	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := l.Lock("alice", "bob")
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := l.Lock("bob", "alice")
			unlock()
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lockers deadlocked")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.locks) != 0 {
		t.Fatalf("expected idle locks to be released, %d remain", len(l.locks))
	}
}

func TestLocker_DuplicateIDsCollapse(t *testing.T) {
	l := NewLocker()
	unlock := l.Lock("alice", "alice")
	unlock()

	if got := lockOrder([]string{"c", "a", "b", "a"}); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected lock order %v", got)
	}
}

func TestLocker_SerializesSameWallet(t *testing.T) {
	l := NewLocker()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("alice")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Fatalf("expected 100 increments, got %d", counter)
	}
}
