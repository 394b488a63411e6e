// Package pool reconciles the pre-provisioned chain accounts with the
// internal accounts bound to them and hands out free entries.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/internal/metrics"
	"github.com/R3E-Network/coin_service/internal/storage"
	"github.com/R3E-Network/coin_service/pkg/logger"
)

// Store is the persistence the pool manager needs.
type Store interface {
	ListAccounts(ctx context.Context) ([]coin.Account, error)
	storage.ChainAccountStore
}

// Report summarises one reconciliation run.
type Report struct {
	Bound   int
	Rebound int
	Kept    int
	Removed int
	Free    int
	Unbound int
}

// Changed reports whether the run modified any binding.
func (r Report) Changed() bool {
	return r.Bound > 0 || r.Rebound > 0 || r.Removed > 0
}

// Option configures a Manager.
type Option func(*Manager)

// WithReserved keeps addresses (such as the treasury) out of the pool.
func WithReserved(addresses ...string) Option {
	return func(m *Manager) {
		for _, a := range addresses {
			if a != "" {
				m.reserved[a] = struct{}{}
			}
		}
	}
}

// Manager owns the chain account pool.
type Manager struct {
	store    Store
	log      *logger.Logger
	reserved map[string]struct{}

	// Reconcile takes the write side; binds only need the store's atomic claim.
	mu sync.RWMutex
}

// New creates a pool manager.
func New(store Store, log *logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.NewDefault("pool")
	}
	m := &Manager{store: store, log: log, reserved: make(map[string]struct{})}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reconcile aligns persisted bindings with the provisioning source:
// bindings to vanished addresses are dropped, changed key material is
// refreshed in place, unbound accounts receive the first free entries and
// the remainder is stored as free. Running it twice changes nothing.
func (m *Manager) Reconcile(ctx context.Context, source []coin.ChainAccount) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report Report

	working := newOrderedSet()
	inSource := make(map[string]bool, len(source))
	for _, ca := range source {
		if _, skip := m.reserved[ca.Address]; skip {
			continue
		}
		ca.AccountID = ""
		working.add(ca)
		inSource[ca.Address] = true
	}

	accounts, err := m.store.ListAccounts(ctx)
	if err != nil {
		return report, fmt.Errorf("list accounts: %w", err)
	}

	var unbound []coin.Account
	for _, acct := range accounts {
		if !acct.Bound() {
			unbound = append(unbound, acct)
			continue
		}
		current := *acct.ChainAccount
		desc, ok := working.get(current.Address)
		switch {
		case !ok:
			if err := m.store.DeleteChainAccount(ctx, current.Address); err != nil {
				return report, fmt.Errorf("unbind %s: %w", current.Address, err)
			}
			m.log.WithField("account", acct.ID).WithField("address", current.Address).
				Warn("chain account no longer provisioned; binding removed")
			report.Removed++
			unbound = append(unbound, acct)
		case desc.SameKeys(current):
			working.remove(current.Address)
			report.Kept++
		default:
			desc.AccountID = acct.ID
			if err := m.store.SaveChainAccount(ctx, desc); err != nil {
				return report, fmt.Errorf("rebind %s: %w", desc.Address, err)
			}
			working.remove(current.Address)
			report.Rebound++
		}
	}

	for i, acct := range unbound {
		desc, ok := working.popFirst()
		if !ok {
			report.Unbound = len(unbound) - i
			m.log.WithField("unbound", report.Unbound).Warn("pool exhausted during reconciliation")
			break
		}
		desc.AccountID = acct.ID
		if err := m.store.SaveChainAccount(ctx, desc); err != nil {
			return report, fmt.Errorf("bind %s to %s: %w", desc.Address, acct.ID, err)
		}
		report.Bound++
	}

	for _, desc := range working.items() {
		if err := m.store.SaveChainAccount(ctx, desc); err != nil {
			return report, fmt.Errorf("store free %s: %w", desc.Address, err)
		}
		report.Free++
	}

	persisted, err := m.store.ListChainAccounts(ctx)
	if err != nil {
		return report, fmt.Errorf("list chain accounts: %w", err)
	}
	for _, ca := range persisted {
		if ca.Free() && !inSource[ca.Address] {
			if err := m.store.DeleteChainAccount(ctx, ca.Address); err != nil {
				return report, fmt.Errorf("drop stale %s: %w", ca.Address, err)
			}
			report.Removed++
		}
	}

	metrics.SetPoolAccounts(report.Kept+report.Rebound+report.Bound, report.Free)
	m.log.WithField("bound", report.Bound).
		WithField("rebound", report.Rebound).
		WithField("removed", report.Removed).
		WithField("free", report.Free).
		Info("pool reconciled")
	return report, nil
}

// BindFreeAccount claims the next free chain account for accountID. It fails
// with coin.ErrPoolExhausted when none is left.
func (m *Manager) BindFreeAccount(ctx context.Context, accountID string) (coin.ChainAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ca, err := m.store.ClaimFreeChainAccount(ctx, accountID)
	if errors.Is(err, coin.ErrPoolExhausted) {
		m.log.WithField("account", accountID).Error("no free chain account left")
		return coin.ChainAccount{}, err
	}
	if err != nil {
		return coin.ChainAccount{}, fmt.Errorf("claim chain account for %s: %w", accountID, err)
	}
	m.log.WithField("account", accountID).WithField("address", ca.Address).Info("chain account bound")
	return ca, nil
}

// orderedSet keeps descriptors keyed by address in source order.
type orderedSet struct {
	order []string
	byKey map[string]coin.ChainAccount
}

func newOrderedSet() *orderedSet {
	return &orderedSet{byKey: make(map[string]coin.ChainAccount)}
}

func (s *orderedSet) add(ca coin.ChainAccount) {
	if _, ok := s.byKey[ca.Address]; !ok {
		s.order = append(s.order, ca.Address)
	}
	s.byKey[ca.Address] = ca
}

func (s *orderedSet) get(addr string) (coin.ChainAccount, bool) {
	ca, ok := s.byKey[addr]
	return ca, ok
}

func (s *orderedSet) remove(addr string) {
	delete(s.byKey, addr)
}

func (s *orderedSet) popFirst() (coin.ChainAccount, bool) {
	for len(s.order) > 0 {
		addr := s.order[0]
		s.order = s.order[1:]
		if ca, ok := s.byKey[addr]; ok {
			delete(s.byKey, addr)
			return ca, true
		}
	}
	return coin.ChainAccount{}, false
}

func (s *orderedSet) items() []coin.ChainAccount {
	result := make([]coin.ChainAccount, 0, len(s.byKey))
	for _, addr := range s.order {
		if ca, ok := s.byKey[addr]; ok {
			result = append(result, ca)
		}
	}
	return result
}
