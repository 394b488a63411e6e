// Package accounts manages internal accounts and creates them on first reference.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/internal/storage"
	"github.com/R3E-Network/coin_service/pkg/logger"
)

// Binder hands out free chain accounts.
type Binder interface {
	BindFreeAccount(ctx context.Context, accountID string) (coin.ChainAccount, error)
}

// Service resolves, creates and updates accounts.
type Service struct {
	store    storage.AccountStore
	pool     Binder
	identity IdentityProvider
	log      *logger.Logger

	createMu sync.Mutex
}

// New creates an accounts service.
func New(store storage.AccountStore, pool Binder, identity IdentityProvider, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	if identity == nil {
		identity = AnonymousIdentities{}
	}
	return &Service{store: store, pool: pool, identity: identity, log: log}
}

// GetAccount returns the account with id, creating a REGULAR account from
// the identity provider when it does not exist yet.
func (s *Service) GetAccount(ctx context.Context, id string) (coin.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return coin.Account{}, fmt.Errorf("%w: empty id", coin.ErrAccountNotFound)
	}

	acct, err := s.store.GetAccount(ctx, id)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, coin.ErrAccountNotFound) {
		return coin.Account{}, err
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if acct, err := s.store.GetAccount(ctx, id); err == nil {
		return acct, nil
	}

	ident, err := s.identity.Lookup(ctx, id)
	if err != nil {
		return coin.Account{}, err
	}
	image := ident.Image
	if image == "" {
		image = coin.DefaultImage
	}
	return s.create(ctx, coin.Account{
		ID:       id,
		Amount:   decimal.Zero,
		FullName: ident.FullName,
		Image:    image,
		Type:     coin.AccountRegular,
	})
}

// AddMerchant registers a MERCHANT account named name.
func (s *Service) AddMerchant(ctx context.Context, name string) (coin.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return coin.Account{}, fmt.Errorf("merchant name required")
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if _, err := s.store.GetAccount(ctx, name); err == nil {
		return coin.Account{}, fmt.Errorf("merchant %s already exists", name)
	}
	return s.create(ctx, coin.Account{
		ID:       name,
		Amount:   decimal.Zero,
		FullName: name,
		Image:    coin.DefaultImage,
		Type:     coin.AccountMerchant,
	})
}

// ListAccounts returns accounts of typ, or every account when typ is empty.
func (s *Service) ListAccounts(ctx context.Context, typ coin.AccountType) ([]coin.Account, error) {
	if typ == "" {
		return s.store.ListAccounts(ctx)
	}
	return s.store.ListAccountsByType(ctx, typ)
}

// ListAccountsByType satisfies the ledger's account source.
func (s *Service) ListAccountsByType(ctx context.Context, typ coin.AccountType) ([]coin.Account, error) {
	return s.store.ListAccountsByType(ctx, typ)
}

// UpdateAccount persists profile and cached amount changes.
func (s *Service) UpdateAccount(ctx context.Context, acct coin.Account) (coin.Account, error) {
	return s.store.UpdateAccount(ctx, acct)
}

// create stores acct and binds a chain account. The account is kept, unbound,
// when the pool is exhausted. Callers hold createMu.
func (s *Service) create(ctx context.Context, acct coin.Account) (coin.Account, error) {
	created, err := s.store.CreateAccount(ctx, acct)
	if err != nil {
		return coin.Account{}, fmt.Errorf("create account %s: %w", acct.ID, err)
	}

	ca, err := s.pool.BindFreeAccount(ctx, created.ID)
	if err != nil {
		s.log.WithError(err).WithField("account", created.ID).Error("account created without chain account")
		return coin.Account{}, err
	}
	created.ChainAccount = &ca

	s.log.WithField("account", created.ID).
		WithField("type", created.Type).
		WithField("address", ca.Address).
		Info("account created")
	return created, nil
}
