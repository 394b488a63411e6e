package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/services/audit"
)

// Comments recorded when the caller supplies none.
const (
	FillComment           = "Moving money to user."
	DistributeComment     = "Distributing money."
	MoveToTreasuryComment = "Move money from merchant account to treasury."
)

var (
	fillDescriptor = audit.Descriptor{
		Operation: string(OpFill), Account: 0, Destination: audit.NoArg, Amount: 1, Comment: 2,
		FixedComment: FillComment,
	}
	distributeDescriptor = audit.Descriptor{
		Operation: string(OpDistribute), Account: audit.NoArg, Destination: audit.NoArg, Amount: 0, Comment: 1,
		FixedComment: DistributeComment,
	}
	moveDescriptor = audit.Descriptor{
		Operation: string(OpMove), Account: 0, Destination: 1, Amount: 2, Comment: 3,
	}
	buyDescriptor = audit.Descriptor{
		Operation: string(OpBuy), Account: 1, Destination: 0, Amount: 2, Comment: 3,
	}
	withdrawDescriptor = audit.Descriptor{
		Operation: string(OpWithdraw), Account: 0, Destination: audit.NoArg, Amount: 1, Comment: 2,
	}
	depositDescriptor = audit.Descriptor{
		Operation: string(OpDeposit), Account: 0, Destination: audit.NoArg, Amount: audit.NoArg, Comment: 1,
	}
	moveToTreasuryDescriptor = audit.Descriptor{
		Operation: string(OpMoveToTreasury), Account: 0, Destination: audit.NoArg, Amount: 1, Comment: 2,
		FixedComment: MoveToTreasuryComment,
	}
)

// Audited runs engine operations through the auditor so that every attempt
// leaves a Transaction record. Reads pass straight through.
type Audited struct {
	engine  *Engine
	auditor *audit.Auditor
}

// NewAudited wraps engine. The auditor reads remaining balances from engine.
func NewAudited(engine *Engine, auditor *audit.Auditor) *Audited {
	auditor.SetBalanceReader(engine)
	return &Audited{engine: engine, auditor: auditor}
}

// FillAccount credits destination from the treasury.
func (a *Audited) FillAccount(ctx context.Context, destination string, amount decimal.Decimal, comment string) (coin.Transaction, error) {
	destination = CanonicalID(destination)
	return a.record(ctx, fillDescriptor, audit.Args{destination, amount, comment}, func(ctx context.Context) (*coin.Transaction, error) {
		return a.engine.FillAccount(ctx, destination, amount, comment)
	})
}

// Distribute credits every bound REGULAR account from the treasury.
func (a *Audited) Distribute(ctx context.Context, amount decimal.Decimal, comment string) error {
	_, err := a.record(ctx, distributeDescriptor, audit.Args{amount, comment}, func(ctx context.Context) (*coin.Transaction, error) {
		return a.engine.Distribute(ctx, amount, comment)
	})
	return err
}

// Move transfers between two accounts.
func (a *Audited) Move(ctx context.Context, source, destination string, amount decimal.Decimal, comment string) (coin.Transaction, error) {
	source, destination = CanonicalID(source), CanonicalID(destination)
	return a.record(ctx, moveDescriptor, audit.Args{source, destination, amount, comment}, func(ctx context.Context) (*coin.Transaction, error) {
		return a.engine.Move(ctx, source, destination, amount, comment)
	})
}

// Buy pays a merchant.
func (a *Audited) Buy(ctx context.Context, destination, source string, amount decimal.Decimal, comment string) (coin.Transaction, error) {
	destination, source = CanonicalID(destination), CanonicalID(source)
	return a.record(ctx, buyDescriptor, audit.Args{destination, source, amount, comment}, func(ctx context.Context) (*coin.Transaction, error) {
		return a.engine.Buy(ctx, destination, source, amount, comment)
	})
}

// MoveToTreasury returns coins to the treasury.
func (a *Audited) MoveToTreasury(ctx context.Context, source string, amount decimal.Decimal, comment string) (coin.Transaction, error) {
	source = CanonicalID(source)
	return a.record(ctx, moveToTreasuryDescriptor, audit.Args{source, amount, comment}, func(ctx context.Context) (*coin.Transaction, error) {
		return a.engine.MoveToTreasury(ctx, source, amount, comment)
	})
}

// Deposit redeems a cheque.
func (a *Audited) Deposit(ctx context.Context, cheque coin.Cheque, source, comment string) (coin.Transaction, error) {
	source = CanonicalID(source)
	return a.record(ctx, depositDescriptor, audit.Args{source, comment}, func(ctx context.Context) (*coin.Transaction, error) {
		return a.engine.Deposit(ctx, cheque, source, comment)
	})
}

// Withdraw issues a cheque.
func (a *Audited) Withdraw(ctx context.Context, source string, amount decimal.Decimal, comment string, wantsImage bool) ([]byte, error) {
	source = CanonicalID(source)
	out, err := a.auditor.Run(ctx, withdrawDescriptor, audit.Args{source, amount, comment}, func(ctx context.Context) (audit.Outcome, error) {
		payload, err := a.engine.Withdraw(ctx, source, amount, comment, wantsImage)
		if err != nil {
			return nil, err
		}
		return audit.BareValue{Value: payload}, nil
	})
	if err != nil {
		return nil, err
	}
	payload, _ := out.(audit.BareValue).Value.([]byte)
	return payload, nil
}

func (a *Audited) GetAmount(ctx context.Context, id string) (decimal.Decimal, error) {
	return a.engine.GetAmount(ctx, id)
}

func (a *Audited) GetTreasuryAmount(ctx context.Context) (decimal.Decimal, error) {
	return a.engine.GetTreasuryAmount(ctx)
}

func (a *Audited) GetAmountByAccountType(ctx context.Context, typ coin.AccountType) (decimal.Decimal, error) {
	return a.engine.GetAmountByAccountType(ctx, typ)
}

func (a *Audited) record(ctx context.Context, d audit.Descriptor, args audit.Args, op func(context.Context) (*coin.Transaction, error)) (coin.Transaction, error) {
	out, err := a.auditor.Run(ctx, d, args, func(ctx context.Context) (audit.Outcome, error) {
		tx, err := op(ctx)
		if err != nil {
			return nil, err
		}
		return audit.FreshRecord{Tx: tx}, nil
	})
	if err != nil {
		return coin.Transaction{}, err
	}
	fresh := out.(audit.FreshRecord)
	if fresh.Tx == nil {
		return coin.Transaction{}, nil
	}
	return *fresh.Tx, nil
}
