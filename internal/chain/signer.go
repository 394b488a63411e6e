package chain

import (
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/wallet"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
)

// Signer identifies the chain account a transaction is sent from.
type Signer struct {
	Address    string
	PrivateKey string
}

// SignerFor returns the signer of a pooled chain account.
func SignerFor(acct coin.ChainAccount) Signer {
	return Signer{Address: acct.Address, PrivateKey: acct.PrivateKey}
}

// Account decodes the private key (hex or WIF) into a wallet account and
// checks it matches the declared address.
func (s Signer) Account() (*wallet.Account, error) {
	key := strings.TrimPrefix(strings.TrimSpace(s.PrivateKey), "0x")
	if key == "" {
		return nil, fmt.Errorf("signer %s: missing private key", s.Address)
	}

	priv, err := keys.NewPrivateKeyFromHex(key)
	if err != nil {
		priv, err = keys.NewPrivateKeyFromWIF(key)
		if err != nil {
			return nil, fmt.Errorf("signer %s: decode private key: %w", s.Address, err)
		}
	}

	acc := wallet.NewAccountFromPrivateKey(priv)
	if s.Address != "" && acc.Address != s.Address {
		return nil, fmt.Errorf("signer %s: private key belongs to %s", s.Address, acc.Address)
	}
	return acc, nil
}

// ScriptHash parses a Neo N3 address into its script hash.
func ScriptHash(addr string) (util.Uint160, error) {
	h, err := address.StringToUint160(addr)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("parse address %q: %w", addr, err)
	}
	return h, nil
}

// ParseContractHash accepts a 0x-prefixed big-endian hash, a bare
// little-endian hash or a Neo address.
func ParseContractHash(s string) (util.Uint160, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "0x"):
		return util.Uint160DecodeStringBE(strings.TrimPrefix(s, "0x"))
	case len(s) == 2*util.Uint160Size:
		return util.Uint160DecodeStringLE(s)
	default:
		return ScriptHash(s)
	}
}

// FormatHash renders a script hash in the 0x big-endian display form.
func FormatHash(h util.Uint160) string {
	return "0x" + h.StringBE()
}
