// Package ingest implements the publish validator of spec §4.C: resolves
// the publisher, verifies the structured-data signature over the whole
// batch, converts entries to storable rows and hands them to the buffered
// writer.
package ingest

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pragma-node/oracle-node/internal/apierr"
	"github.com/pragma-node/oracle-node/internal/entry"
	"github.com/pragma-node/oracle-node/internal/registry"
	"github.com/pragma-node/oracle-node/internal/signing"
	"github.com/pragma-node/oracle-node/internal/store"
)

// RawEntry is one wire entry before validation/conversion (spec §6
// `Entry`/`FutureEntry`). ExpirationTimestamp is 0 for spot entries.
type RawEntry struct {
	Publisher           string
	Source              string
	Timestamp           int64 // seconds or milliseconds, heuristic per §4.C step 6
	PairID              string
	Price               decimal.Decimal
	Volume              decimal.Decimal
	ExpirationTimestamp int64 // milliseconds, 0 == absent (spot or perpetual)
}

// PublishRequest mirrors the §6 wire shape.
type PublishRequest struct {
	SignatureR *big.Int
	SignatureS *big.Int
	Entries    []RawEntry
}

// PublishResult mirrors the §6 response.
type PublishResult struct {
	Created int
}

// Sink receives validated rows for one instrument type, implemented by
// buffer.Writer.Enqueue in production.
type Sink interface {
	Enqueue(ctx context.Context, row store.Row) error
}

// Validator implements the §4.C publish operation for one instrument type
// (spot or future); the HTTP layer constructs two instances, one per
// endpoint, since "the core never mixes types in a single request".
type Validator struct {
	registry   *registry.Registry
	sink       Sink
	isFuture   bool
	domain     signing.Domain
	nowFunc    func() time.Time
}

// Option customizes a Validator.
type Option func(*Validator)

// WithClock overrides the wall-clock function; used by tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.nowFunc = now }
}

// NewSpotValidator builds a Validator for the /publish endpoint.
func NewSpotValidator(reg *registry.Registry, sink Sink, domain signing.Domain, opts ...Option) *Validator {
	v := &Validator{registry: reg, sink: sink, isFuture: false, domain: domain, nowFunc: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// NewFutureValidator builds a Validator for the /publish_future endpoint.
func NewFutureValidator(reg *registry.Registry, sink Sink, domain signing.Domain, opts ...Option) *Validator {
	v := &Validator{registry: reg, sink: sink, isFuture: true, domain: domain, nowFunc: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Publish runs the §4.C steps in order, failing fast on the first error.
func (v *Validator) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if len(req.Entries) == 0 {
		return PublishResult{Created: 0}, nil
	}

	publisherName := req.Entries[0].Publisher
	publicKey, accountAddr, err := v.registry.Validate(publisherName)
	if err != nil {
		return PublishResult{}, err
	}

	message, err := v.buildMessage(req.Entries)
	if err != nil {
		return PublishResult{}, apierr.Wrap(apierr.KindBadRequest, "building publish message", err)
	}

	accountFelt, err := signing.ShortString(accountAddr)
	if err != nil {
		return PublishResult{}, apierr.Wrap(apierr.KindPublisherError, "invalid account address", err)
	}

	hash, err := signing.HashTyped(v.domain, message, accountFelt)
	if err != nil {
		return PublishResult{}, apierr.Wrap(apierr.KindInternal, "hashing publish message", err)
	}

	ok, err := signing.Verify(publicKey, hash, signing.Signature{R: req.SignatureR, S: req.SignatureS})
	if err != nil {
		return PublishResult{}, apierr.Wrap(apierr.KindInvalidSignature, "verifying signature", err)
	}
	if !ok {
		return PublishResult{}, apierr.New(apierr.KindUnauthorized, fmt.Sprintf("invalid signature for publisher %q", publisherName))
	}

	now := v.nowFunc()
	for _, e := range req.Entries {
		row, err := v.toRow(e, now)
		if err != nil {
			return PublishResult{}, err
		}
		if err := v.sink.Enqueue(ctx, row); err != nil {
			return PublishResult{}, apierr.Wrap(apierr.KindUpstream, "enqueueing entry", err)
		}
	}

	return PublishResult{Created: len(req.Entries)}, nil
}

// buildMessage builds the canonical typed-data tree described in spec
// §4.C step 3: primary type "Request", action "Publish", the flattened
// entry list, plus expiration_timestamp for future entries.
func (v *Validator) buildMessage(entries []RawEntry) (signing.Message, error) {
	actionFelt, err := signing.ShortString("Publish")
	if err != nil {
		return signing.Message{}, err
	}
	fields := []*big.Int{actionFelt}

	for _, e := range entries {
		pairFelt, err := signing.ShortString(e.PairID)
		if err != nil {
			return signing.Message{}, err
		}
		pubFelt, err := signing.ShortString(e.Publisher)
		if err != nil {
			return signing.Message{}, err
		}
		srcFelt, err := signing.ShortString(e.Source)
		if err != nil {
			return signing.Message{}, err
		}
		fields = append(fields, pairFelt, pubFelt, srcFelt,
			big.NewInt(e.Timestamp), e.Price.BigInt(), e.Volume.BigInt())
		if v.isFuture {
			fields = append(fields, big.NewInt(e.ExpirationTimestamp))
		}
	}

	return signing.Message{PrimaryType: "Request", Fields: fields}, nil
}

// toRow converts one RawEntry to a store.Row, applying the timestamp unit
// heuristic and the not-in-the-future invariant (spec §4.C step 6, §3).
func (v *Validator) toRow(e RawEntry, now time.Time) (store.Row, error) {
	ts, err := entry.NormalizeTimestamp(e.Timestamp)
	if err != nil {
		return store.Row{}, apierr.Wrap(apierr.KindInvalidTimestamp, "normalizing timestamp", err)
	}
	if err := entry.ValidateNotFuture(ts, now); err != nil {
		return store.Row{}, apierr.Wrap(apierr.KindInvalidTimestamp, "entry is in the future", err)
	}

	row := store.Row{
		PairID:    e.PairID,
		Publisher: e.Publisher,
		Source:    e.Source,
		Timestamp: ts,
		Price:     e.Price,
		Volume:    e.Volume,
	}

	if v.isFuture {
		expiry, err := entry.NormalizeExpiration(e.ExpirationTimestamp)
		if err != nil {
			return store.Row{}, apierr.Wrap(apierr.KindInvalidExpiry, "normalizing expiration", err)
		}
		row.Expiration = expiry
	}

	return row, nil
}
