package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Contract method names.
const (
	MethodTransfer   = "transfer"
	MethodDistribute = "distribute"
	MethodBalanceOf  = "balanceOf"
	MethodApprove    = "approve"
	MethodWithdraw   = "withdraw"
)

// Receipt is the result of a state-changing call that returned a boolean.
type Receipt struct {
	TxID     string
	Accepted bool
}

// TokenContract wraps the NEP-17 coin contract.
type TokenContract struct {
	invoker Invoker
	hash    util.Uint160
}

// NewTokenContract binds the coin contract at hash.
func NewTokenContract(invoker Invoker, hash util.Uint160) *TokenContract {
	return &TokenContract{invoker: invoker, hash: hash}
}

// Hash returns the contract script hash.
func (t *TokenContract) Hash() util.Uint160 { return t.hash }

// BalanceOf returns the on-chain balance of addr.
func (t *TokenContract) BalanceOf(ctx context.Context, addr string) (*big.Int, error) {
	h, err := ScriptHash(addr)
	if err != nil {
		return nil, err
	}
	resp, err := t.invoker.Call(ctx, t.hash, MethodBalanceOf, h)
	if err != nil {
		return nil, err
	}
	item, err := FirstValue(resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MethodBalanceOf, err)
	}
	return ParseInteger(item)
}

// Transfer moves amount from the signer to addr.
func (t *TokenContract) Transfer(ctx context.Context, from Signer, to string, amount *big.Int) (Receipt, error) {
	fromHash, err := ScriptHash(from.Address)
	if err != nil {
		return Receipt{}, err
	}
	toHash, err := ScriptHash(to)
	if err != nil {
		return Receipt{}, err
	}
	return t.sendBool(ctx, from, MethodTransfer, fromHash, toHash, amount, nil)
}

// Distribute credits amount to every address from the signer's balance.
func (t *TokenContract) Distribute(ctx context.Context, from Signer, to []string, amount *big.Int) (Receipt, error) {
	targets := make([]any, 0, len(to))
	for _, addr := range to {
		h, err := ScriptHash(addr)
		if err != nil {
			return Receipt{}, err
		}
		targets = append(targets, h)
	}
	return t.sendBool(ctx, from, MethodDistribute, targets, amount)
}

// Approve lets spender draw amount from the signer's balance.
func (t *TokenContract) Approve(ctx context.Context, from Signer, spender util.Uint160, amount *big.Int) (Receipt, error) {
	return t.sendBool(ctx, from, MethodApprove, spender, amount)
}

func (t *TokenContract) sendBool(ctx context.Context, from Signer, method string, args ...any) (Receipt, error) {
	resp, err := t.invoker.Send(ctx, from, t.hash, method, args...)
	if err != nil {
		return Receipt{}, err
	}
	return boolReceipt(method, resp)
}

// VaultContract wraps the offline cheque vault.
type VaultContract struct {
	invoker       Invoker
	hash          util.Uint160
	depositMethod string
}

// NewVaultContract binds the vault at hash. depositMethod names the
// contract's deposit entry point.
func NewVaultContract(invoker Invoker, hash util.Uint160, depositMethod string) *VaultContract {
	if depositMethod == "" {
		depositMethod = "deposit"
	}
	return &VaultContract{invoker: invoker, hash: hash, depositMethod: depositMethod}
}

// Hash returns the contract script hash.
func (v *VaultContract) Hash() util.Uint160 { return v.hash }

// Withdraw locks amount of token into the vault and returns the cheque hash.
func (v *VaultContract) Withdraw(ctx context.Context, from Signer, token util.Uint160, amount *big.Int) ([]byte, string, error) {
	resp, err := v.invoker.Send(ctx, from, v.hash, MethodWithdraw, token, amount)
	if err != nil {
		return nil, "", err
	}
	item, err := FirstValue(resp)
	if err != nil {
		return nil, resp.TxID, fmt.Errorf("%s: %w", MethodWithdraw, err)
	}
	hash, err := ParseByteArray(item)
	if err != nil {
		return nil, resp.TxID, fmt.Errorf("%s: %w", MethodWithdraw, err)
	}
	return hash, resp.TxID, nil
}

// Deposit redeems a cheque into the signer's balance.
func (v *VaultContract) Deposit(ctx context.Context, from Signer, chequeHash []byte, token util.Uint160) (Receipt, error) {
	resp, err := v.invoker.Send(ctx, from, v.hash, v.depositMethod, chequeHash, token)
	if err != nil {
		return Receipt{}, err
	}
	return boolReceipt(v.depositMethod, resp)
}

func boolReceipt(method string, resp *Response) (Receipt, error) {
	receipt := Receipt{TxID: resp.TxID}
	item, err := FirstValue(resp)
	if err != nil {
		return receipt, fmt.Errorf("%s: %w", method, err)
	}
	ok, err := ParseBoolean(item)
	if err != nil {
		return receipt, fmt.Errorf("%s: %w", method, err)
	}
	receipt.Accepted = ok
	return receipt, nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown transaction") ||
		strings.Contains(msg, "unknown script container") ||
		strings.Contains(msg, "not found")
}
