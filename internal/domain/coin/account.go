// Package coin holds the ledger's domain types and error taxonomy.
package coin

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies internal accounts.
type AccountType string

const (
	AccountRegular  AccountType = "REGULAR"
	AccountMerchant AccountType = "MERCHANT"
)

// DefaultImage is assigned to accounts created without an avatar.
const DefaultImage = "images/default.png"

// ParseAccountType accepts the type name in any case.
func ParseAccountType(s string) (AccountType, bool) {
	switch AccountType(strings.ToUpper(strings.TrimSpace(s))) {
	case AccountRegular:
		return AccountRegular, true
	case AccountMerchant:
		return AccountMerchant, true
	}
	return "", false
}

// Account is an internal participant of the coin economy. Amount is a cached
// display value; the chain balance is authoritative.
type Account struct {
	ID           string          `json:"id" db:"id"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	FullName     string          `json:"fullName" db:"full_name"`
	Image        string          `json:"image" db:"image"`
	Type         AccountType     `json:"type" db:"type"`
	ChainAccount *ChainAccount   `json:"-" db:"-"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

// Bound reports whether the account holds a chain account.
func (a Account) Bound() bool {
	return a.ChainAccount != nil && a.ChainAccount.Address != ""
}

// Name is the first word of the full name.
func (a Account) Name() string {
	parts := strings.Fields(a.FullName)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// Surname is everything after the first word of the full name.
func (a Account) Surname() string {
	parts := strings.Fields(a.FullName)
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[1:], " ")
}

// ChainAccountType is the role of a pooled chain account.
type ChainAccountType string

const (
	ChainAccountRoot        ChainAccountType = "ROOT"
	ChainAccountParticipant ChainAccountType = "PARTICIPANT"
)

// ChainAccount is a pre-provisioned chain identity. AccountID is empty while
// the entry is free.
type ChainAccount struct {
	Address    string           `json:"address" db:"address"`
	PublicKey  string           `json:"pubKey" db:"public_key"`
	PrivateKey string           `json:"-" db:"private_key"`
	Type       ChainAccountType `json:"type" db:"type"`
	AccountID  string           `json:"accountId,omitempty" db:"account_id"`
	Position   int              `json:"position" db:"position"`
}

// Free reports whether the entry is available for binding.
func (c ChainAccount) Free() bool {
	return c.AccountID == ""
}

// SameKeys reports whether two descriptors carry identical key material and role.
func (c ChainAccount) SameKeys(other ChainAccount) bool {
	return c.Address == other.Address &&
		c.PublicKey == other.PublicKey &&
		c.PrivateKey == other.PrivateKey &&
		c.Type == other.Type
}
