package signing

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeypair(t *testing.T) (privHex, pubHex string) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return hex.EncodeToString(priv.Serialize()), hex.EncodeToString(priv.PubKey().SerializeCompressed())
}

func TestSignVerifyRoundTrip(t *testing.T) {
	privHex, pubHex := newTestKeypair(t)
	hash := big.NewInt(123456789)

	sig, err := Sign(privHex, hash)
	require.NoError(t, err)

	ok, err := Verify(pubHex, hash, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsTamperedHash(t *testing.T) {
	privHex, pubHex := newTestKeypair(t)
	hash := big.NewInt(42)
	sig, err := Sign(privHex, hash)
	require.NoError(t, err)

	ok, err := Verify(pubHex, big.NewInt(43), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShortStringOverflow(t *testing.T) {
	_, err := ShortString(strings.Repeat("a", 32))
	assert.ErrorIs(t, err, ErrConversion)
}

func TestShortStringRejectsNonASCII(t *testing.T) {
	_, err := ShortString("caf\xc3\xa9")
	assert.ErrorIs(t, err, ErrConversion)
}

func TestHashTickDeterministic(t *testing.T) {
	h1, err := HashTick("PRAGMA", "ETH/USD", 1739688964, big.NewInt(2705530000))
	require.NoError(t, err)
	h2, err := HashTick("PRAGMA", "ETH/USD", 1739688964, big.NewInt(2705530000))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestAssetIDGlobalDeterministic(t *testing.T) {
	a1, err := AssetIDGlobal("BTC/USD")
	require.NoError(t, err)
	a2, err := AssetIDGlobal("BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}

// TestAssetIDGlobalStripsSeparators pins get_global_asset_it's test vectors
// from original_source/pragma-node/src/utils/signing/starkex.rs: the
// separator-bearing and separator-free spellings of a pair must encode to
// the same felt, and the packed hex must start with that felt's hex digits
// (spec §8 scenario 3: "global_asset_id starts with 0x425443555344" for
// BTC/USD).
func TestAssetIDGlobalStripsSeparators(t *testing.T) {
	cases := []struct {
		pairID   string
		expected string
	}{
		{"BTCUSD", "425443555344"},
		{"BTC/USD", "425443555344"},
		{"ETHUSD", "455448555344"},
		{"ETH/USD", "455448555344"},
		{"DOGEUSD", "444f4745555344"},
		{"DOGE/USD", "444f4745555344"},
		{"SOLUSD", "534f4c555344"},
		{"SOLUSDT", "534f4c55534454"},
	}
	for _, tc := range cases {
		t.Run(tc.pairID, func(t *testing.T) {
			got, err := AssetIDGlobal(tc.pairID)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got.Text(16), tc.expected),
				"AssetIDGlobal(%q) = 0x%s, want prefix 0x%s", tc.pairID, got.Text(16), tc.expected)
		})
	}
}

// TestAssetIDOracleStripsSeparators mirrors get_oracle_asset_id's separator
// handling: the "/"-bearing and stripped spellings of a pair must pack to
// the same asset id.
func TestAssetIDOracleStripsSeparators(t *testing.T) {
	withSlash, err := AssetIDOracle("PRAGMA", "BTC/USD")
	require.NoError(t, err)
	stripped, err := AssetIDOracle("PRAGMA", "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, stripped, withSlash)
}

func TestHashTypedDeterministic(t *testing.T) {
	domain := Domain{Name: "pragma", Version: "1", ChainID: "SN_MAIN", Revision: "1"}
	msg := Message{PrimaryType: "Request", Fields: []*big.Int{big.NewInt(1), big.NewInt(2)}}
	account := big.NewInt(0xABCDEF)

	h1, err := HashTyped(domain, msg, account)
	require.NoError(t, err)
	h2, err := HashTyped(domain, msg, account)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
