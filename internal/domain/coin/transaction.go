package coin

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the terminal outcome of an audited operation.
type TransactionStatus string

const (
	StatusSuccess TransactionStatus = "SUCCESS"
	StatusFailed  TransactionStatus = "FAILED"
)

// Transaction is the durable audit record of one ledger operation attempt.
type Transaction struct {
	ID            string            `json:"id" db:"id"`
	AccountID     string            `json:"account,omitempty" db:"account_id"`
	DestinationID string            `json:"destination,omitempty" db:"destination_id"`
	Amount        *decimal.Decimal  `json:"amount,omitempty" db:"amount"`
	Remain        *decimal.Decimal  `json:"remain,omitempty" db:"remain"`
	Comment       string            `json:"comment,omitempty" db:"comment"`
	Status        TransactionStatus `json:"status" db:"status"`
	Error         string            `json:"error,omitempty" db:"error"`
	ChainTxID     string            `json:"transactionId,omitempty" db:"chain_tx_id"`
	CreatedAt     time.Time         `json:"created" db:"created_at"`
}

// NewChainTransaction returns an unfinished record for a submitted chain transaction.
func NewChainTransaction(chainTxID string) *Transaction {
	return &Transaction{ChainTxID: chainTxID}
}

// Failed builds a FAILED record carrying err's message.
func Failed(accountID string, amount decimal.Decimal, err error) Transaction {
	tx := Transaction{
		AccountID: accountID,
		Amount:    &amount,
		Status:    StatusFailed,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		tx.Error = err.Error()
	}
	return tx
}
