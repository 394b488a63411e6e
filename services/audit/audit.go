// Package audit records one Transaction row for every ledger operation
// attempt, successful or not.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/internal/metrics"
	"github.com/R3E-Network/coin_service/pkg/logger"
)

// NoArg marks a descriptor role that no argument supplies.
const NoArg = -1

// Descriptor tells the auditor which positional argument plays which role.
type Descriptor struct {
	Operation   string
	Account     int
	Destination int
	Amount      int
	Comment     int
	// FixedComment is recorded when neither the result nor the arguments
	// carry a comment.
	FixedComment string
}

// Args are the positional arguments of an audited call.
type Args []any

// String returns argument i as a string, or "" when absent.
func (a Args) String(i int) string {
	if i < 0 || i >= len(a) {
		return ""
	}
	switch v := a[i].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

// Decimal returns argument i as an amount.
func (a Args) Decimal(i int) (decimal.Decimal, bool) {
	if i < 0 || i >= len(a) {
		return decimal.Decimal{}, false
	}
	switch v := a[i].(type) {
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v != nil {
			return *v, true
		}
	}
	return decimal.Decimal{}, false
}

// Outcome is what an audited operation produced.
type Outcome interface {
	outcome()
}

// FreshRecord is a partially filled record the operation built itself.
type FreshRecord struct {
	Tx *coin.Transaction
}

// BareValue is any other result; a record is synthesised from the arguments.
type BareValue struct {
	Value any
}

func (FreshRecord) outcome() {}
func (BareValue) outcome()   {}

// State of an invocation.
type State int

const (
	Started State = iota
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	default:
		return "STARTED"
	}
}

// Store persists records.
type Store interface {
	CreateTransaction(ctx context.Context, tx coin.Transaction) (coin.Transaction, error)
}

// AccountLookup resolves account ids without creating accounts.
type AccountLookup interface {
	GetAccount(ctx context.Context, id string) (coin.Account, error)
}

// BalanceReader reads live balances.
type BalanceReader interface {
	GetAmount(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// Auditor wraps operations and writes their audit records.
type Auditor struct {
	store    Store
	accounts AccountLookup
	balances BalanceReader
	log      *logger.Logger
	now      func() time.Time
}

// New creates an auditor. balances may be set later with SetBalanceReader.
func New(store Store, accounts AccountLookup, balances BalanceReader, log *logger.Logger) *Auditor {
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &Auditor{
		store:    store,
		accounts: accounts,
		balances: balances,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetBalanceReader installs the source of remaining balances.
func (a *Auditor) SetBalanceReader(balances BalanceReader) {
	a.balances = balances
}

// Run executes op and persists exactly one record describing it. On failure
// the record is FAILED and op's error is returned unchanged. A FreshRecord
// outcome is returned with the persisted record.
func (a *Auditor) Run(ctx context.Context, d Descriptor, args Args, op func(ctx context.Context) (Outcome, error)) (out Outcome, err error) {
	inv := &invocation{auditor: a, desc: d, args: args, state: Started}
	// The record must land even when the caller's context is already done.
	actx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			inv.fail(actx, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	out, err = op(ctx)
	if err != nil {
		inv.fail(actx, err)
		return nil, err
	}
	return inv.complete(actx, out), nil
}

type invocation struct {
	auditor *Auditor
	desc    Descriptor
	args    Args
	state   State
}

func (inv *invocation) complete(ctx context.Context, out Outcome) Outcome {
	var rec coin.Transaction
	if fresh, ok := out.(FreshRecord); ok && fresh.Tx != nil {
		rec = *fresh.Tx
	}
	inv.merge(ctx, &rec)
	rec.Status = coin.StatusSuccess
	rec.Error = ""

	if rec.AccountID != "" && inv.auditor.balances != nil {
		remain, err := inv.auditor.balances.GetAmount(ctx, rec.AccountID)
		if err != nil {
			inv.auditor.log.WithError(err).
				WithField("operation", inv.desc.Operation).
				WithField("account", rec.AccountID).
				Warn("remaining balance unavailable")
		} else {
			rec.Remain = &remain
		}
	}

	inv.state = Completed
	saved, ok := inv.persist(ctx, rec)
	if fresh, isFresh := out.(FreshRecord); isFresh && ok {
		fresh.Tx = &saved
		return fresh
	}
	return out
}

func (inv *invocation) fail(ctx context.Context, cause error) {
	if inv.state != Started {
		return
	}
	var rec coin.Transaction
	inv.merge(ctx, &rec)
	rec.Status = coin.StatusFailed
	rec.Error = cause.Error()

	inv.state = Failed
	inv.auditor.log.WithError(cause).
		WithField("operation", inv.desc.Operation).
		WithField("account", rec.AccountID).
		Warn("ledger operation failed")
	inv.persist(ctx, rec)
}

// merge fills fields still empty on rec from the descriptor and arguments.
func (inv *invocation) merge(ctx context.Context, rec *coin.Transaction) {
	d := inv.desc
	if rec.AccountID == "" {
		rec.AccountID = inv.resolve(ctx, inv.args.String(d.Account))
	}
	if rec.DestinationID == "" {
		rec.DestinationID = inv.resolve(ctx, inv.args.String(d.Destination))
	}
	if rec.Amount == nil {
		if amount, ok := inv.args.Decimal(d.Amount); ok {
			rec.Amount = &amount
		}
	}
	if rec.Comment == "" {
		rec.Comment = inv.args.String(d.Comment)
	}
	if rec.Comment == "" {
		rec.Comment = d.FixedComment
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = inv.auditor.now()
	}
}

// resolve keeps id only when it names a stored account.
func (inv *invocation) resolve(ctx context.Context, id string) string {
	id = strings.TrimSpace(id)
	if id == "" || inv.auditor.accounts == nil {
		return id
	}
	if _, err := inv.auditor.accounts.GetAccount(ctx, id); err != nil {
		if !errors.Is(err, coin.ErrAccountNotFound) {
			inv.auditor.log.WithError(err).WithField("account", id).Warn("account lookup failed while auditing")
		}
		return ""
	}
	return id
}

func (inv *invocation) persist(ctx context.Context, rec coin.Transaction) (coin.Transaction, bool) {
	metrics.RecordOperation(inv.desc.Operation, string(rec.Status))

	saved, err := inv.auditor.store.CreateTransaction(ctx, rec)
	if err != nil {
		inv.auditor.log.WithError(err).
			WithField("operation", inv.desc.Operation).
			WithField("status", rec.Status).
			Error("failed to persist audit record")
		return rec, false
	}
	return saved, true
}
