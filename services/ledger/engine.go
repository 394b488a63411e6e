// Package ledger moves coins between accounts through the token and vault
// contracts.
package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/R3E-Network/coin_service/internal/chain"
	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/pkg/logger"
)

// DefaultCallTimeout bounds a single contract call.
const DefaultCallTimeout = 30 * time.Second

// qrSize is the edge length in pixels of rendered cheques.
const qrSize = 256

// Accounts resolves and updates internal accounts.
type Accounts interface {
	GetAccount(ctx context.Context, id string) (coin.Account, error)
	ListAccountsByType(ctx context.Context, typ coin.AccountType) ([]coin.Account, error)
	UpdateAccount(ctx context.Context, acct coin.Account) (coin.Account, error)
}

// Token is the coin contract.
type Token interface {
	Hash() util.Uint160
	BalanceOf(ctx context.Context, addr string) (*big.Int, error)
	Transfer(ctx context.Context, from chain.Signer, to string, amount *big.Int) (chain.Receipt, error)
	Distribute(ctx context.Context, from chain.Signer, to []string, amount *big.Int) (chain.Receipt, error)
	Approve(ctx context.Context, from chain.Signer, spender util.Uint160, amount *big.Int) (chain.Receipt, error)
}

// Vault is the offline cheque contract.
type Vault interface {
	Hash() util.Uint160
	Withdraw(ctx context.Context, from chain.Signer, token util.Uint160, amount *big.Int) ([]byte, string, error)
	Deposit(ctx context.Context, from chain.Signer, chequeHash []byte, token util.Uint160) (chain.Receipt, error)
}

// Config configures an Engine.
type Config struct {
	Treasury    chain.Signer
	CallTimeout time.Duration
	Locks       LockPolicy
}

// Engine executes ledger operations. It does not write audit records; see
// Audited.
type Engine struct {
	accounts Accounts
	token    Token
	vault    Vault
	treasury chain.Signer
	timeout  time.Duration
	policy   LockPolicy
	locks    *lockRegistry
	log      *logger.Logger
}

// NewEngine creates an engine. vault may be nil when cheques are disabled.
func NewEngine(cfg Config, accounts Accounts, token Token, vault Vault, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Locks == nil {
		cfg.Locks = DefaultLockPolicy()
	}
	return &Engine{
		accounts: accounts,
		token:    token,
		vault:    vault,
		treasury: cfg.Treasury,
		timeout:  cfg.CallTimeout,
		policy:   cfg.Locks,
		locks:    newLockRegistry(),
		log:      log,
	}
}

// FillAccount credits destination from the treasury.
func (e *Engine) FillAccount(ctx context.Context, destination string, amount decimal.Decimal, comment string) (*coin.Transaction, error) {
	destination = CanonicalID(destination)
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	defer e.locks.acquire(e.policy[OpFill], destination)()

	dst, err := e.boundAccount(ctx, destination)
	if err != nil {
		return nil, err
	}

	cctx, cancel := e.callContext(ctx)
	defer cancel()
	receipt, err := e.token.Transfer(cctx, e.treasury, dst.ChainAccount.Address, toChainAmount(amount))
	if err != nil {
		return nil, coin.Processing(chain.MethodTransfer, dst.ChainAccount.Address, err)
	}
	if !receipt.Accepted {
		return nil, fmt.Errorf("%w: cannot fill %s with %s", coin.ErrInsufficientTreasury, destination, amount)
	}

	e.log.WithField("account", destination).WithField("amount", amount.String()).Info("account filled")
	return coin.NewChainTransaction(receipt.TxID), nil
}

// Distribute credits amount to every bound REGULAR account from the treasury.
func (e *Engine) Distribute(ctx context.Context, amount decimal.Decimal, comment string) (*coin.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	defer e.locks.acquire(e.policy[OpDistribute], "")()

	regular, err := e.accounts.ListAccountsByType(ctx, coin.AccountRegular)
	if err != nil {
		return nil, fmt.Errorf("list regular accounts: %w", err)
	}
	addresses := make([]string, 0, len(regular))
	for _, acct := range regular {
		if !acct.Bound() {
			e.log.WithField("account", acct.ID).Debug("skipping unbound account in distribution")
			continue
		}
		addresses = append(addresses, acct.ChainAccount.Address)
	}

	cctx, cancel := e.callContext(ctx)
	defer cancel()
	receipt, err := e.token.Distribute(cctx, e.treasury, addresses, toChainAmount(amount))
	if err != nil {
		return nil, coin.Processing(chain.MethodDistribute, e.treasury.Address, err)
	}
	if !receipt.Accepted {
		return nil, fmt.Errorf("%w: cannot distribute %s to %d accounts", coin.ErrInsufficientTreasury, amount, len(addresses))
	}

	e.log.WithField("accounts", len(addresses)).WithField("amount", amount.String()).Info("coins distributed")
	return coin.NewChainTransaction(receipt.TxID), nil
}

// Move transfers amount from source to destination.
func (e *Engine) Move(ctx context.Context, source, destination string, amount decimal.Decimal, comment string) (*coin.Transaction, error) {
	return e.transferBetween(ctx, OpMove, source, destination, amount)
}

// Buy pays destination (a merchant) from source.
func (e *Engine) Buy(ctx context.Context, destination, source string, amount decimal.Decimal, comment string) (*coin.Transaction, error) {
	return e.transferBetween(ctx, OpBuy, source, destination, amount)
}

func (e *Engine) transferBetween(ctx context.Context, op Operation, source, destination string, amount decimal.Decimal) (*coin.Transaction, error) {
	source, destination = CanonicalID(source), CanonicalID(destination)
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	defer e.locks.acquire(e.policy[op], source, destination)()

	src, err := e.boundAccount(ctx, source)
	if err != nil {
		return nil, err
	}
	dst, err := e.boundAccount(ctx, destination)
	if err != nil {
		return nil, err
	}

	txID, err := e.transferFrom(ctx, src, dst.ChainAccount.Address, amount)
	if err != nil {
		return nil, err
	}

	e.log.WithField("operation", op).
		WithField("source", source).
		WithField("destination", destination).
		WithField("amount", amount.String()).
		Info("coins moved")
	return coin.NewChainTransaction(txID), nil
}

// MoveToTreasury returns amount from source to the treasury.
func (e *Engine) MoveToTreasury(ctx context.Context, source string, amount decimal.Decimal, comment string) (*coin.Transaction, error) {
	source = CanonicalID(source)
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	defer e.locks.acquire(e.policy[OpMoveToTreasury], source)()

	src, err := e.boundAccount(ctx, source)
	if err != nil {
		return nil, err
	}
	txID, err := e.transferFrom(ctx, src, e.treasury.Address, amount)
	if err != nil {
		return nil, err
	}

	e.log.WithField("source", source).WithField("amount", amount.String()).Info("coins moved to treasury")
	return coin.NewChainTransaction(txID), nil
}

// transferFrom checks src's live balance and sends the transfer signed by src.
func (e *Engine) transferFrom(ctx context.Context, src coin.Account, to string, amount decimal.Decimal) (string, error) {
	if err := e.ensureBalance(ctx, src, amount); err != nil {
		return "", err
	}

	cctx, cancel := e.callContext(ctx)
	defer cancel()
	receipt, err := e.token.Transfer(cctx, chain.SignerFor(*src.ChainAccount), to, toChainAmount(amount))
	if err != nil {
		return "", coin.Processing(chain.MethodTransfer, src.ChainAccount.Address, err)
	}
	if !receipt.Accepted {
		return "", coin.InsufficientFunds(src.ID, "unknown", amount.String())
	}
	return receipt.TxID, nil
}

// Withdraw locks amount of source's coins in the vault and returns the cheque
// as JSON, or as a PNG QR code when wantsImage is set.
func (e *Engine) Withdraw(ctx context.Context, source string, amount decimal.Decimal, comment string, wantsImage bool) ([]byte, error) {
	source = CanonicalID(source)
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if e.vault == nil {
		return nil, coin.Processing(chain.MethodWithdraw, source, errors.New("vault contract not configured"))
	}
	defer e.locks.acquire(e.policy[OpWithdraw], source)()

	src, err := e.boundAccount(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := e.ensureBalance(ctx, src, amount); err != nil {
		return nil, err
	}

	signer := chain.SignerFor(*src.ChainAccount)
	chainAmount := toChainAmount(amount)

	cctx, cancel := e.callContext(ctx)
	defer cancel()
	approval, err := e.token.Approve(cctx, signer, e.vault.Hash(), chainAmount)
	if err != nil {
		return nil, coin.Processing(chain.MethodApprove, src.ChainAccount.Address, err)
	}
	if !approval.Accepted {
		return nil, coin.InsufficientFunds(source, "unknown", amount.String())
	}

	wctx, wcancel := e.callContext(ctx)
	defer wcancel()
	hash, _, err := e.vault.Withdraw(wctx, signer, e.token.Hash(), chainAmount)
	if err != nil {
		return nil, coin.Processing(chain.MethodWithdraw, src.ChainAccount.Address, err)
	}

	cheque := coin.Cheque{
		TokenContractAddress:   chain.FormatHash(e.token.Hash()),
		OfflineContractAddress: chain.FormatHash(e.vault.Hash()),
		ChequeHash:             hex.EncodeToString(hash),
		Amount:                 amount,
	}
	payload, err := json.Marshal(cheque)
	if err != nil {
		return nil, coin.Processing(chain.MethodWithdraw, source, err)
	}

	e.log.WithField("account", source).WithField("amount", amount.String()).Info("cheque issued")
	if !wantsImage {
		return payload, nil
	}
	png, err := qrcode.Encode(string(payload), qrcode.Medium, qrSize)
	if err != nil {
		return nil, coin.Processing("render cheque", source, err)
	}
	return png, nil
}

// Deposit redeems cheque into source's balance.
func (e *Engine) Deposit(ctx context.Context, cheque coin.Cheque, source, comment string) (*coin.Transaction, error) {
	source = CanonicalID(source)
	if e.vault == nil {
		return nil, coin.Processing("deposit", source, errors.New("vault contract not configured"))
	}
	hash, err := hex.DecodeString(cheque.ChequeHash)
	if err != nil {
		return nil, coin.Processing("deposit", source, fmt.Errorf("decode cheque hash: %w", err))
	}
	token, err := chain.ParseContractHash(cheque.TokenContractAddress)
	if err != nil {
		return nil, coin.Processing("deposit", source, fmt.Errorf("decode token contract: %w", err))
	}
	defer e.locks.acquire(e.policy[OpDeposit], source)()

	src, err := e.boundAccount(ctx, source)
	if err != nil {
		return nil, err
	}

	cctx, cancel := e.callContext(ctx)
	defer cancel()
	receipt, err := e.vault.Deposit(cctx, chain.SignerFor(*src.ChainAccount), hash, token)
	if err != nil {
		return nil, coin.Processing("deposit", src.ChainAccount.Address, err)
	}
	if !receipt.Accepted {
		return nil, coin.Processing("deposit", src.ChainAccount.Address, errors.New("cheque rejected by vault"))
	}

	amount := cheque.Amount
	tx := coin.NewChainTransaction(receipt.TxID)
	tx.Amount = &amount

	e.log.WithField("account", source).WithField("amount", amount.String()).Info("cheque deposited")
	return tx, nil
}

// GetAmount returns the live balance of account id.
func (e *Engine) GetAmount(ctx context.Context, id string) (decimal.Decimal, error) {
	acct, err := e.boundAccount(ctx, CanonicalID(id))
	if err != nil {
		return decimal.Decimal{}, err
	}
	return e.balance(ctx, acct.ChainAccount.Address)
}

// GetTreasuryAmount returns the live treasury balance.
func (e *Engine) GetTreasuryAmount(ctx context.Context) (decimal.Decimal, error) {
	return e.balance(ctx, e.treasury.Address)
}

// GetAmountByAccountType sums live balances of bound accounts of typ and
// refreshes their cached amounts.
func (e *Engine) GetAmountByAccountType(ctx context.Context, typ coin.AccountType) (decimal.Decimal, error) {
	accounts, err := e.accounts.ListAccountsByType(ctx, typ)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("list %s accounts: %w", typ, err)
	}

	total := decimal.Zero
	for _, acct := range accounts {
		if !acct.Bound() {
			continue
		}
		bal, err := e.balance(ctx, acct.ChainAccount.Address)
		if err != nil {
			return decimal.Decimal{}, err
		}
		total = total.Add(bal)

		if !acct.Amount.Equal(bal) {
			acct.Amount = bal
			if _, err := e.accounts.UpdateAccount(ctx, acct); err != nil {
				e.log.WithError(err).WithField("account", acct.ID).Warn("failed to refresh cached amount")
			}
		}
	}
	return total, nil
}

func (e *Engine) ensureBalance(ctx context.Context, src coin.Account, amount decimal.Decimal) error {
	bal, err := e.balance(ctx, src.ChainAccount.Address)
	if err != nil {
		return err
	}
	if bal.LessThan(amount) {
		return coin.InsufficientFunds(src.ID, bal.String(), amount.String())
	}
	return nil
}

func (e *Engine) balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	cctx, cancel := e.callContext(ctx)
	defer cancel()

	n, err := e.token.BalanceOf(cctx, addr)
	if err != nil {
		return decimal.Decimal{}, coin.Processing(chain.MethodBalanceOf, addr, err)
	}
	return decimal.NewFromBigInt(n, 0), nil
}

func (e *Engine) boundAccount(ctx context.Context, id string) (coin.Account, error) {
	acct, err := e.accounts.GetAccount(ctx, id)
	if err != nil {
		return coin.Account{}, err
	}
	if !acct.Bound() {
		return coin.Account{}, fmt.Errorf("%w: %s", coin.ErrAccountNotBound, id)
	}
	return acct, nil
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// CanonicalID normalises an account id. Lock keys, lookups and audit records
// all use the canonical form.
func CanonicalID(id string) string {
	return strings.TrimSpace(id)
}

func validateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", coin.ErrInvalidAmount, amount)
	}
	return nil
}

// toChainAmount truncates to the contract's integer unit.
func toChainAmount(amount decimal.Decimal) *big.Int {
	return amount.BigInt()
}
