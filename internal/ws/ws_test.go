package ws

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pragma-node/oracle-node/internal/store"
)

func wsTestKeyPair(t *testing.T) (privHex, pubHex string) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return hex.EncodeToString(priv.Serialize()), hex.EncodeToString(priv.PubKey().SerializeCompressed())
}

func TestStateSubscribeFiltersUnknownPairs(t *testing.T) {
	s := newState()
	known := func(pairID string, perp bool) bool { return pairID == "BTC/USD" }

	pairs := s.apply("subscribe", []string{"BTC/USD", "ETH/USD"}, known)
	assert.Equal(t, []string{"BTC/USD"}, pairs)
}

func TestStateSubscribePerpSuffix(t *testing.T) {
	s := newState()
	known := func(pairID string, perp bool) bool { return true }

	pairs := s.apply("subscribe", []string{"BTC/USD:MARK"}, known)
	require.Len(t, pairs, 1)
	assert.Equal(t, "BTC/USD:MARK", pairs[0])
	assert.Empty(t, s.spotPairs)
	assert.True(t, s.perpPairs["BTC/USD"])
}

func TestStateUnsubscribeRemovesFromBothSets(t *testing.T) {
	s := newState()
	known := func(pairID string, perp bool) bool { return true }
	s.apply("subscribe", []string{"BTC/USD"}, known)
	s.apply("subscribe", []string{"ETH/USD:MARK"}, known)

	pairs := s.apply("unsubscribe", []string{"BTC/USD", "ETH/USD:MARK"}, known)
	assert.Empty(t, pairs)
}

func TestToAssetOraclePriceUnsignedWhenNoKey(t *testing.T) {
	c := &connection{hub: &Hub{oracleName: "PRAGMA"}}
	entry := store.MedianEntry{
		MedianPrice: decimal.New(3000, 8),
		Components: []store.Component{
			{PairID: "ETH/USD", Price: decimal.New(3000, 8), Timestamp: time.Now(), Publisher: "P", PublisherAddress: "0xabc", PublisherSignature: "0xsig"},
		},
	}

	price, err := c.toAssetOraclePrice("ETH/USD", entry)
	require.NoError(t, err)
	assert.Empty(t, price.Signature, "unsigned feed must not carry an outer signature")
	require.Len(t, price.SignedPrices, 1)
	assert.Equal(t, "0xabc", price.SignedPrices[0].SigningKey)
	assert.Contains(t, price.GlobalAssetID, "0x")
}

func TestToAssetOraclePriceSignedWhenKeyPresent(t *testing.T) {
	privHex, _ := wsTestKeyPair(t)
	c := &connection{hub: &Hub{oracleName: "PRAGMA", signerPrivateKey: privHex}}
	entry := store.MedianEntry{MedianPrice: decimal.New(3000, 8)}

	price, err := c.toAssetOraclePrice("ETH/USD", entry)
	require.NoError(t, err)
	assert.NotEmpty(t, price.Signature)
}
