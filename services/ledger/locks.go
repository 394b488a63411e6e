package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Operation names a mutating ledger operation.
type Operation string

const (
	OpFill           Operation = "fill"
	OpDistribute     Operation = "distribute"
	OpMove           Operation = "move"
	OpBuy            Operation = "buy"
	OpWithdraw       Operation = "withdraw"
	OpDeposit        Operation = "deposit"
	OpMoveToTreasury Operation = "moveToTreasury"
)

// Scope is the exclusion domain an operation runs in.
type Scope string

const (
	// ScopeNone takes no lock.
	ScopeNone Scope = "none"
	// ScopeAccount serialises operations on the operation's subject account.
	ScopeAccount Scope = "account"
	// ScopeGlobal serialises every operation configured as global.
	ScopeGlobal Scope = "global"
	// ScopePair locks every account the operation touches, in sorted order.
	ScopePair Scope = "pair"
)

// LockPolicy assigns an exclusion domain per operation. Missing operations
// run unlocked.
type LockPolicy map[Operation]Scope

// DefaultLockPolicy returns the historical assignment: fill and buy lock the
// subject account, move and moveToTreasury share one global lock.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{
		OpFill:           ScopeAccount,
		OpBuy:            ScopeAccount,
		OpMove:           ScopeGlobal,
		OpMoveToTreasury: ScopeGlobal,
	}
}

// ParseLockPolicy overlays overrides (operation -> scope name) on the defaults.
func ParseLockPolicy(overrides map[string]string) (LockPolicy, error) {
	policy := DefaultLockPolicy()
	for op, name := range overrides {
		scope := Scope(strings.ToLower(strings.TrimSpace(name)))
		switch scope {
		case ScopeNone, ScopeAccount, ScopeGlobal, ScopePair:
		default:
			return nil, fmt.Errorf("operation %s: unknown exclusion domain %q", op, name)
		}
		switch Operation(op) {
		case OpFill, OpDistribute, OpMove, OpBuy, OpWithdraw, OpDeposit, OpMoveToTreasury:
		default:
			return nil, fmt.Errorf("unknown operation %q", op)
		}
		policy[Operation(op)] = scope
	}
	return policy, nil
}

// lockRegistry hands out per-account mutexes. Entries are created on first
// use and never evicted.
type lockRegistry struct {
	mu       sync.Mutex
	accounts map[string]*sync.Mutex
	global   sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{accounts: make(map[string]*sync.Mutex)}
}

func (r *lockRegistry) forAccount(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.accounts[id]
	if !ok {
		m = &sync.Mutex{}
		r.accounts[id] = m
	}
	return m
}

// acquire locks according to scope. subject is the account ScopeAccount
// locks; others are the remaining accounts ScopePair adds.
func (r *lockRegistry) acquire(scope Scope, subject string, others ...string) (release func()) {
	switch scope {
	case ScopeGlobal:
		r.global.Lock()
		return r.global.Unlock
	case ScopeAccount:
		m := r.forAccount(subject)
		m.Lock()
		return m.Unlock
	case ScopePair:
		ids := uniqueSorted(append([]string{subject}, others...))
		held := make([]*sync.Mutex, 0, len(ids))
		for _, id := range ids {
			m := r.forAccount(id)
			m.Lock()
			held = append(held, m)
		}
		return func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].Unlock()
			}
		}
	default:
		return func() {}
	}
}

func (r *lockRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
