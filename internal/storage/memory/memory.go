package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/internal/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	accounts      map[string]coin.Account
	chainAccounts map[string]coin.ChainAccount
	transactions  []coin.Transaction
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:      make(map[string]coin.Account),
		chainAccounts: make(map[string]coin.ChainAccount),
	}
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct coin.Account) (coin.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		return coin.Account{}, fmt.Errorf("account id required")
	}
	if _, exists := s.accounts[acct.ID]; exists {
		return coin.Account{}, fmt.Errorf("account %s already exists", acct.ID)
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct.ChainAccount = nil
	s.accounts[acct.ID] = acct
	return s.withBinding(acct), nil
}

func (s *Store) UpdateAccount(_ context.Context, acct coin.Account) (coin.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[acct.ID]
	if !ok {
		return coin.Account{}, fmt.Errorf("%w: %s", coin.ErrAccountNotFound, acct.ID)
	}
	acct.CreatedAt = existing.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	acct.ChainAccount = nil
	s.accounts[acct.ID] = acct
	return s.withBinding(acct), nil
}

func (s *Store) GetAccount(_ context.Context, id string) (coin.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return coin.Account{}, fmt.Errorf("%w: %s", coin.ErrAccountNotFound, id)
	}
	return s.withBinding(acct), nil
}

func (s *Store) ListAccounts(_ context.Context) ([]coin.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]coin.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, s.withBinding(acct))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) ListAccountsByType(ctx context.Context, typ coin.AccountType) ([]coin.Account, error) {
	all, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	result := all[:0]
	for _, acct := range all {
		if acct.Type == typ {
			result = append(result, acct)
		}
	}
	return result, nil
}

// withBinding must be called with s.mu held.
func (s *Store) withBinding(acct coin.Account) coin.Account {
	for _, ca := range s.chainAccounts {
		if ca.AccountID == acct.ID {
			bound := ca
			acct.ChainAccount = &bound
			break
		}
	}
	return acct
}

// --- ChainAccountStore ------------------------------------------------------

func (s *Store) ListChainAccounts(_ context.Context) ([]coin.ChainAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedChainAccounts(), nil
}

func (s *Store) SaveChainAccount(_ context.Context, acct coin.ChainAccount) error {
	if acct.Address == "" {
		return fmt.Errorf("chain account address required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.AccountID != "" {
		for addr, other := range s.chainAccounts {
			if addr != acct.Address && other.AccountID == acct.AccountID {
				return fmt.Errorf("account %s already bound to %s", acct.AccountID, addr)
			}
		}
	}
	s.chainAccounts[acct.Address] = acct
	return nil
}

func (s *Store) DeleteChainAccount(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chainAccounts, address)
	return nil
}

func (s *Store) ClaimFreeChainAccount(_ context.Context, accountID string) (coin.ChainAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ca := range s.sortedChainAccounts() {
		if ca.Free() {
			ca.AccountID = accountID
			s.chainAccounts[ca.Address] = ca
			return ca, nil
		}
	}
	return coin.ChainAccount{}, coin.ErrPoolExhausted
}

func (s *Store) sortedChainAccounts() []coin.ChainAccount {
	result := make([]coin.ChainAccount, 0, len(s.chainAccounts))
	for _, ca := range s.chainAccounts {
		result = append(result, ca)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Position != result[j].Position {
			return result[i].Position < result[j].Position
		}
		return result[i].Address < result[j].Address
	})
	return result
}

// --- TransactionStore -------------------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx coin.Transaction) (coin.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.transactions = append(s.transactions, tx)
	return tx, nil
}

// ListTransactions returns the newest records first. An empty accountID
// lists every record; limit <= 0 means no limit.
func (s *Store) ListTransactions(_ context.Context, accountID string, limit int) ([]coin.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []coin.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if accountID != "" && tx.AccountID != accountID && tx.DestinationID != accountID {
			continue
		}
		result = append(result, tx)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}
