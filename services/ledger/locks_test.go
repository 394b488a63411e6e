package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLockPolicy(t *testing.T) {
	policy, err := ParseLockPolicy(map[string]string{"move": "Pair", "deposit": " account "})
	require.NoError(t, err)
	assert.Equal(t, ScopePair, policy[OpMove])
	assert.Equal(t, ScopeAccount, policy[OpDeposit])
	assert.Equal(t, ScopeAccount, policy[OpFill])
	assert.Equal(t, ScopeGlobal, policy[OpMoveToTreasury])
	assert.Equal(t, Scope(""), policy[OpWithdraw])

	if _, err := ParseLockPolicy(map[string]string{"move": "table"}); err == nil {
		t.Fatalf("expected error for unknown scope")
	}
	if _, err := ParseLockPolicy(map[string]string{"mint": "global"}); err == nil {
		t.Fatalf("expected error for unknown operation")
	}
}

func TestLockRegistryReusesMutex(t *testing.T) {
	r := newLockRegistry()
	if r.forAccount("alice") != r.forAccount("alice") {
		t.Fatalf("expected the same mutex for the same account")
	}
	r.forAccount("bob")
	if got := r.size(); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}
}

func TestLockRegistryAccountScopeExcludes(t *testing.T) {
	r := newLockRegistry()
	release := r.acquire(ScopeAccount, "alice")

	acquired := make(chan struct{})
	go func() {
		defer r.acquire(ScopeAccount, "alice")()
		close(acquired)
	}()

	// a different account is not blocked
	r.acquire(ScopeAccount, "bob")()

	select {
	case <-acquired:
		t.Fatalf("second holder entered while alice was locked")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second holder never entered")
	}
}

func TestLockRegistryPairOrderingAvoidsDeadlock(t *testing.T) {
	r := newLockRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.acquire(ScopePair, "alice", "bob")()
		}()
		go func() {
			defer wg.Done()
			r.acquire(ScopePair, "bob", "alice", "alice")()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("pair locking deadlocked")
	}
}

func TestUniqueSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, uniqueSorted([]string{"b", "", "a", "b"}))
}
