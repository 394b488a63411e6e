package pool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
)

const sampleSource = `{
  "coin_participant_002": {"address": "Nzz", "pubKey": "p2", "privKey": "k2"},
  "coin_root_000":        {"address": "Nmm", "pubKey": "p0", "privKey": "k0"},
  "coin_validator_000":   {"address": "Nvv", "pubKey": "pv", "privKey": "kv"},
  "coin_participant_001": {"address": "Naa", "pubKey": "p1", "privKey": "k1"}
}`

func TestParseSourceKeepsDocumentOrder(t *testing.T) {
	src, err := ParseSource([]byte(sampleSource))
	require.NoError(t, err)

	require.Len(t, src.Accounts, 3)
	assert.Equal(t, []string{"Nzz", "Nmm", "Naa"}, []string{src.Accounts[0].Address, src.Accounts[1].Address, src.Accounts[2].Address})
	assert.Equal(t, coin.ChainAccountRoot, src.Accounts[1].Type)
	assert.Equal(t, coin.ChainAccountParticipant, src.Accounts[0].Type)
	assert.Equal(t, 2, src.Accounts[2].Position)
	assert.Equal(t, "k1", src.Accounts[2].PrivateKey)
	assert.Equal(t, []string{"coin_validator_000"}, src.Skipped)
}

func TestParseSourceRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":    `{"a":`,
		"array":       `[1,2]`,
		"no address":  `{"x_root_1": {"pubKey": "p"}}`,
		"dup address": `{"x_root_1": {"address": "N1"}, "x_participant_1": {"address": "N1"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSource([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestLoadSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleSource), 0o600))

	src, err := LoadSource(path)
	require.NoError(t, err)
	assert.Len(t, src.Accounts, 3)

	_, err = LoadSource(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	typ, ok := Classify("eris_root_000")
	require.True(t, ok)
	assert.Equal(t, coin.ChainAccountRoot, typ)

	_, ok = Classify("eris_full_000")
	assert.False(t, ok)
}
