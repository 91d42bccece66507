package ingest

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pragma-node/oracle-node/internal/registry"
	"github.com/pragma-node/oracle-node/internal/signing"
	"github.com/pragma-node/oracle-node/internal/store"
)

type fakeRegistryStore struct {
	publishers map[string]registry.Publisher
}

func (f *fakeRegistryStore) GetPublisher(name string) (registry.Publisher, error) {
	p, ok := f.publishers[name]
	if !ok {
		return registry.Publisher{}, registry.ErrNotFound
	}
	return p, nil
}

type fakeSink struct {
	rows []store.Row
}

func (f *fakeSink) Enqueue(_ context.Context, row store.Row) error {
	f.rows = append(f.rows, row)
	return nil
}

func testDomain() signing.Domain {
	return signing.Domain{Name: "pragma", Version: "1", ChainID: "SN_MAIN", Revision: "1"}
}

// signValidRequest signs the exact message buildMessage would construct,
// mirroring a well-behaved client.
func signValidRequest(t *testing.T, v *Validator, privHex, accountAddr string, entries []RawEntry) PublishRequest {
	t.Helper()
	msg, err := v.buildMessage(entries)
	require.NoError(t, err)
	accountFelt, err := signing.ShortString(accountAddr)
	require.NoError(t, err)
	hash, err := signing.HashTyped(v.domain, msg, accountFelt)
	require.NoError(t, err)
	sig, err := signing.Sign(privHex, hash)
	require.NoError(t, err)
	return PublishRequest{SignatureR: sig.R, SignatureS: sig.S, Entries: entries}
}

func setup(t *testing.T) (privHex, pubHex string) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return hex.EncodeToString(priv.Serialize()), hex.EncodeToString(priv.PubKey().SerializeCompressed())
}

func TestPublishEmptyEntriesIsNoop(t *testing.T) {
	reg, err := registry.New(&fakeRegistryStore{publishers: map[string]registry.Publisher{}}, 4)
	require.NoError(t, err)
	sink := &fakeSink{}
	v := NewSpotValidator(reg, sink, testDomain())

	res, err := v.Publish(context.Background(), PublishRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Empty(t, sink.rows)
}

func TestPublishHappyPath(t *testing.T) {
	privHex, pubHex := setup(t)
	store_ := &fakeRegistryStore{publishers: map[string]registry.Publisher{
		"P": {Name: "P", ActiveKey: pubHex, AccountAddress: "acct", Active: true},
	}}
	reg, err := registry.New(store_, 4)
	require.NoError(t, err)
	sink := &fakeSink{}
	v := NewSpotValidator(reg, sink, testDomain())

	entries := []RawEntry{{
		Publisher: "P", Source: "BINANCE", Timestamp: 1739688964,
		PairID: "ETH/USD", Price: decimal.NewFromInt(2705530000000000000), Volume: decimal.Zero,
	}}
	req := signValidRequest(t, v, privHex, "acct", entries)

	res, err := v.Publish(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, sink.rows, 1)
	assert.Equal(t, "ETH/USD", sink.rows[0].PairID)
}

func TestPublishRejectsBadSignature(t *testing.T) {
	_, pubHex := setup(t)
	otherPriv, _ := setup(t)
	store_ := &fakeRegistryStore{publishers: map[string]registry.Publisher{
		"P": {Name: "P", ActiveKey: pubHex, AccountAddress: "acct", Active: true},
	}}
	reg, err := registry.New(store_, 4)
	require.NoError(t, err)
	v := NewSpotValidator(reg, &fakeSink{}, testDomain())

	entries := []RawEntry{{Publisher: "P", Source: "BINANCE", Timestamp: 1739688964, PairID: "ETH/USD", Price: decimal.NewFromInt(1), Volume: decimal.Zero}}
	req := signValidRequest(t, v, otherPriv, "acct", entries)

	_, err = v.Publish(context.Background(), req)
	assert.Error(t, err)
}

func TestPublishRejectsInactivePublisher(t *testing.T) {
	privHex, pubHex := setup(t)
	store_ := &fakeRegistryStore{publishers: map[string]registry.Publisher{
		"P": {Name: "P", ActiveKey: pubHex, AccountAddress: "acct", Active: false},
	}}
	reg, err := registry.New(store_, 4)
	require.NoError(t, err)
	v := NewSpotValidator(reg, &fakeSink{}, testDomain())

	entries := []RawEntry{{Publisher: "P", Source: "BINANCE", Timestamp: 1739688964, PairID: "ETH/USD", Price: decimal.NewFromInt(1), Volume: decimal.Zero}}
	req := signValidRequest(t, v, privHex, "acct", entries)

	_, err = v.Publish(context.Background(), req)
	assert.Error(t, err)
}

func TestPublishRejectsFutureTimestamp(t *testing.T) {
	privHex, pubHex := setup(t)
	store_ := &fakeRegistryStore{publishers: map[string]registry.Publisher{
		"P": {Name: "P", ActiveKey: pubHex, AccountAddress: "acct", Active: true},
	}}
	reg, err := registry.New(store_, 4)
	require.NoError(t, err)
	v := NewSpotValidator(reg, &fakeSink{}, testDomain())

	future := time.Now().Add(time.Hour).Unix()
	entries := []RawEntry{{Publisher: "P", Source: "BINANCE", Timestamp: future, PairID: "ETH/USD", Price: decimal.NewFromInt(1), Volume: decimal.Zero}}
	req := signValidRequest(t, v, privHex, "acct", entries)

	_, err = v.Publish(context.Background(), req)
	assert.Error(t, err)
}

func TestPublishFutureEntryPerpetualSentinel(t *testing.T) {
	privHex, pubHex := setup(t)
	store_ := &fakeRegistryStore{publishers: map[string]registry.Publisher{
		"P": {Name: "P", ActiveKey: pubHex, AccountAddress: "acct", Active: true},
	}}
	reg, err := registry.New(store_, 4)
	require.NoError(t, err)
	sink := &fakeSink{}
	v := NewFutureValidator(reg, sink, testDomain())

	entries := []RawEntry{{
		Publisher: "P", Source: "BINANCE", Timestamp: 1739688964,
		PairID: "ETH/USD", Price: decimal.NewFromInt(1), Volume: decimal.Zero, ExpirationTimestamp: 0,
	}}
	req := signValidRequest(t, v, privHex, "acct", entries)

	_, err = v.Publish(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, sink.rows, 1)
	assert.Nil(t, sink.rows[0].Expiration, "sentinel 0 must normalize to perpetual (absent expiration)")
}

var _ = big.NewInt // keep math/big imported for future-proof test additions
