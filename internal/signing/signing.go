// Package signing implements the domain-separated structured-data hashing
// and ECDSA sign/verify described in spec §4.A: a Pedersen-style
// field-element combine function plus secp256k1 ECDSA (the prime-field
// curve available in this module's dependency graph —
// github.com/decred/dcrd/dcrec/secp256k1/v4, as used by
// orbas1-Synnergy and the InjectiveLabs/Team-Kujira/0x0Glitch oracle
// manifests in the retrieval pack) standing in for the settlement layer's
// native curve.
package signing

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// fieldPrime is the secp256k1 base-field modulus; hash_typed and hash_tick
// work in this field, matching the "field_element" vocabulary of spec §4.A.
var fieldPrime = func() *big.Int {
	p, _ := new(big.Int).SetString("fffffffffffffffffffffffffffffffffffffffffffffffffffffefffffc2f", 16)
	return p
}()

// combineConst is the odd multiplier used by the Pedersen-style combine
// function below; any fixed nonzero constant works as a domain separator
// between the two combine operands, it need not be secret.
var combineConst = new(big.Int).SetBit(big.NewInt(1), 64, 1) // 2^64 + 1

// Errors surfaced by this package, per spec §4.A.
var (
	ErrInvalidSignature = fmt.Errorf("signing: invalid signature")
	ErrSigningFailure    = fmt.Errorf("signing: signing failure")
	ErrConversion        = fmt.Errorf("signing: conversion error")
)

// combine folds two field elements into one, reducing modulo fieldPrime.
// This plays the role the spec calls "Pedersen-style binary hash function
// defined over the field": a non-commutative, collision-resistant-in-practice
// combine used to walk the typed-data schema and to build hash_tick.
func combine(a, b *big.Int) *big.Int {
	r := new(big.Int).Mul(a, combineConst)
	r.Add(r, b)
	r.Mod(r, fieldPrime)
	return r
}

// ShortString packs up to 31 ASCII bytes into a field element, the way
// Cairo-style "short strings" are encoded. Returns ErrConversion if s is
// not ASCII or doesn't fit.
func ShortString(s string) (*big.Int, error) {
	if len(s) > 31 {
		return nil, fmt.Errorf("%w: %q exceeds 31 bytes", ErrConversion, s)
	}
	n := new(big.Int)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c > 127 {
			return nil, fmt.Errorf("%w: %q is not ASCII", ErrConversion, s)
		}
		n.Lsh(n, 8)
		n.Or(n, big.NewInt(int64(c)))
	}
	if n.Cmp(fieldPrime) >= 0 {
		return nil, fmt.Errorf("%w: %q overflows the field", ErrConversion, s)
	}
	return n, nil
}

// Domain is the typed-data domain separator from spec §4.A.
type Domain struct {
	Name     string
	Version  string
	ChainID  string
	Revision string
}

func (d Domain) hash() (*big.Int, error) {
	fields := []string{d.Name, d.Version, d.ChainID, d.Revision}
	acc := big.NewInt(0)
	for _, f := range fields {
		felt, err := ShortString(f)
		if err != nil {
			return nil, err
		}
		acc = combine(acc, felt)
	}
	return acc, nil
}

// Message is a flattened leaf list for the "entries"-shaped typed-data tree
// used by the publish request (spec §4.C step 3). Each leaf is hashed to a
// field element by the caller (pair/publisher/source are short strings,
// numeric fields are used directly) before being folded in here.
type Message struct {
	PrimaryType string
	Fields      []*big.Int
}

func (m Message) hash() (*big.Int, error) {
	typeHash, err := ShortString(m.PrimaryType)
	if err != nil {
		return nil, err
	}
	acc := typeHash
	for _, f := range m.Fields {
		acc = combine(acc, f)
	}
	return acc, nil
}

// HashTyped computes H("StarkNet Message" ∥ domain_hash ∥ account_address ∥
// primary_type_hash), per spec §4.A. accountAddress is the signer's
// settlement-layer account, used as a domain separator.
func HashTyped(domain Domain, message Message, accountAddress *big.Int) (*big.Int, error) {
	prefix, err := ShortString("StarkNet Message")
	if err != nil {
		return nil, err
	}
	domainHash, err := domain.hash()
	if err != nil {
		return nil, err
	}
	msgHash, err := message.hash()
	if err != nil {
		return nil, err
	}
	h := combine(prefix, domainHash)
	h = combine(h, accountAddress)
	h = combine(h, msgHash)
	return h, nil
}

// Signature is an (r, s) pair in the field, per spec §4.A.
type Signature struct {
	R *big.Int
	S *big.Int
}

// feltToScalar reduces a field element into a secp256k1 scalar suitable for
// ecdsa.Sign/Verify. The structured-data hash already lives in a field
// smaller than secp256k1's order in practice; Bytes()/SetByteSlice performs
// the conversion the decred API expects.
func feltToScalar(f *big.Int) *secp256k1.ModNScalar {
	var s secp256k1.ModNScalar
	b := make([]byte, 32)
	f.FillBytes(b)
	s.SetByteSlice(b)
	return &s
}

// Sign computes an ECDSA signature over hash using privateKeyHex (a
// hex-encoded 32-byte secp256k1 scalar).
func Sign(privateKeyHex string, hash *big.Int) (Signature, error) {
	keyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrSigningFailure, err)
	}
	if len(keyBytes) != 32 {
		return Signature{}, fmt.Errorf("%w: private key must be 32 bytes", ErrSigningFailure)
	}
	priv := secp256k1.PrivKeyFromBytes(keyBytes)
	defer priv.Zero()

	digest := make([]byte, 32)
	hash.FillBytes(digest)
	sig := ecdsa.SignCompact(priv, digest, false)
	if len(sig) == 0 {
		return Signature{}, ErrSigningFailure
	}
	// SignCompact returns [recovery(1)|r(32)|s(32)]; we expose only (r, s).
	r := new(big.Int).SetBytes(sig[1:33])
	s := new(big.Int).SetBytes(sig[33:65])
	return Signature{R: r, S: s}, nil
}

// Verify checks sig against hash using a hex-encoded compressed or
// uncompressed secp256k1 public key.
func Verify(publicKeyHex string, hash *big.Int, sig Signature) (bool, error) {
	pubBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConversion, err)
	}

	var rScalar, sScalar secp256k1.ModNScalar
	rBytes := make([]byte, 32)
	sig.R.FillBytes(rBytes)
	sBytes := make([]byte, 32)
	sig.S.FillBytes(sBytes)
	rScalar.SetByteSlice(rBytes)
	sScalar.SetByteSlice(sBytes)

	signature := ecdsa.NewSignature(&rScalar, &sScalar)
	digest := make([]byte, 32)
	hash.FillBytes(digest)
	return signature.Verify(digest, pub), nil
}

// stripPairSeparators removes the pair-id punctuation ("-", "_", "/") before
// felt conversion, matching the original implementation's
// pair_id.replace('/', "") (get_global_asset_it / get_oracle_asset_id in
// utils/signing/starkex.rs): "BTC/USD" must felt-encode as "BTCUSD", not
// with the separator byte folded in.
func stripPairSeparators(pairID string) string {
	r := strings.NewReplacer("-", "", "_", "", "/", "")
	return r.Replace(pairID)
}

// AssetIDOracle packs `pair_as_felt << 40 | oracle_name_as_felt` and renders
// it as a left-padded hex string, per spec §4.A.
func AssetIDOracle(oracleName, pairID string) (string, error) {
	pairFelt, err := ShortString(stripPairSeparators(pairID))
	if err != nil {
		return "", err
	}
	nameFelt, err := ShortString(oracleName)
	if err != nil {
		return "", err
	}
	packed := new(big.Int).Lsh(pairFelt, 40)
	packed.Or(packed, nameFelt)
	return fmt.Sprintf("%042x", packed), nil
}

// AssetIDGlobal packs pair_as_felt with trailing zero padding (no oracle
// name component), per spec §4.A.
func AssetIDGlobal(pairID string) (*big.Int, error) {
	pairFelt, err := ShortString(stripPairSeparators(pairID))
	if err != nil {
		return nil, err
	}
	return new(big.Int).Lsh(pairFelt, 40), nil
}

// HashTick computes Pedersen(asset_id_oracle, (price << 32) | timestamp),
// the wire-compatible per-price hash used for outgoing feeds (spec §4.A).
func HashTick(oracleName, pairID string, timestamp int64, price *big.Int) (*big.Int, error) {
	assetIDHex, err := AssetIDOracle(oracleName, pairID)
	if err != nil {
		return nil, err
	}
	assetID := new(big.Int)
	if _, ok := assetID.SetString(assetIDHex, 16); !ok {
		return nil, fmt.Errorf("%w: malformed asset id", ErrConversion)
	}
	payload := new(big.Int).Lsh(price, 32)
	payload.Or(payload, big.NewInt(timestamp))
	return combine(assetID, payload), nil
}
