package pool

import (
	"fmt"
	"os"
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
)

var (
	rootPattern        = regexp.MustCompile(`.*_root_.*`)
	participantPattern = regexp.MustCompile(`.*_participant_.*`)
)

// Classify derives the account role from its provisioning key.
func Classify(name string) (coin.ChainAccountType, bool) {
	switch {
	case rootPattern.MatchString(name):
		return coin.ChainAccountRoot, true
	case participantPattern.MatchString(name):
		return coin.ChainAccountParticipant, true
	}
	return "", false
}

// Source is the parsed provisioning file.
type Source struct {
	Accounts []coin.ChainAccount
	// Skipped lists keys whose role could not be derived.
	Skipped []string
}

// LoadSource reads the provisioning file at path.
func LoadSource(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("read pool source: %w", err)
	}
	return ParseSource(data)
}

// ParseSource decodes a JSON object of name -> {address, pubKey, privKey}.
// Accounts keep the document order as their pool position.
func ParseSource(data []byte) (Source, error) {
	if !gjson.ValidBytes(data) {
		return Source{}, fmt.Errorf("pool source is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Source{}, fmt.Errorf("pool source must be a JSON object")
	}

	var (
		src  Source
		seen = make(map[string]string)
		err  error
	)
	root.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		typ, ok := Classify(name)
		if !ok {
			src.Skipped = append(src.Skipped, name)
			return true
		}

		addr := value.Get("address").String()
		if addr == "" {
			err = fmt.Errorf("pool source entry %s: missing address", name)
			return false
		}
		if prev, dup := seen[addr]; dup {
			err = fmt.Errorf("pool source entries %s and %s share address %s", prev, name, addr)
			return false
		}
		seen[addr] = name

		src.Accounts = append(src.Accounts, coin.ChainAccount{
			Address:    addr,
			PublicKey:  value.Get("pubKey").String(),
			PrivateKey: value.Get("privKey").String(),
			Type:       typ,
			Position:   len(src.Accounts),
		})
		return true
	})
	if err != nil {
		return Source{}, err
	}
	return src, nil
}
