package coin

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cheque is an offline claim on coins locked in the vault contract.
type Cheque struct {
	TokenContractAddress   string          `json:"tokenContractAddress"`
	OfflineContractAddress string          `json:"offlineContractAddress"`
	ChequeHash             string          `json:"chequeHash"`
	Amount                 decimal.Decimal `json:"amount"`
}

// ParseCheque decodes the JSON form produced by a withdrawal.
func ParseCheque(data []byte) (Cheque, error) {
	var c Cheque
	if err := json.Unmarshal(data, &c); err != nil {
		return Cheque{}, fmt.Errorf("decode cheque: %w", err)
	}
	if c.ChequeHash == "" || c.TokenContractAddress == "" {
		return Cheque{}, fmt.Errorf("decode cheque: missing hash or token contract")
	}
	return c, nil
}
