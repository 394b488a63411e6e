// Package storage declares the persistence contracts of the coin ledger.
package storage

import (
	"context"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
)

// AccountStore persists internal accounts. Reads populate the account's chain
// binding. GetAccount returns coin.ErrAccountNotFound for unknown ids.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct coin.Account) (coin.Account, error)
	UpdateAccount(ctx context.Context, acct coin.Account) (coin.Account, error)
	GetAccount(ctx context.Context, id string) (coin.Account, error)
	ListAccounts(ctx context.Context) ([]coin.Account, error)
	ListAccountsByType(ctx context.Context, typ coin.AccountType) ([]coin.Account, error)
}

// ChainAccountStore persists the chain account pool.
type ChainAccountStore interface {
	// ListChainAccounts returns every entry in pool order.
	ListChainAccounts(ctx context.Context) ([]coin.ChainAccount, error)
	// SaveChainAccount inserts or replaces the entry keyed by address.
	SaveChainAccount(ctx context.Context, acct coin.ChainAccount) error
	DeleteChainAccount(ctx context.Context, address string) error
	// ClaimFreeChainAccount atomically binds the first free entry to
	// accountID. It returns coin.ErrPoolExhausted when none is left.
	ClaimFreeChainAccount(ctx context.Context, accountID string) (coin.ChainAccount, error)
}

// TransactionStore persists audit records. Records are append-only.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx coin.Transaction) (coin.Transaction, error)
	ListTransactions(ctx context.Context, accountID string, limit int) ([]coin.Transaction, error)
}

// Store groups every persistence contract.
type Store interface {
	AccountStore
	ChainAccountStore
	TransactionStore
}
