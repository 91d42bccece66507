// Package ws implements the websocket subscription core of spec §4.H: one
// actor per connection, a JSON subscribe/unsubscribe control protocol, and
// periodic signed-frame emission for the on-chain-consumable feed (or plain
// unsigned frames for the lightweight feed).
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/pragma-node/oracle-node/internal/aggregation"
	"github.com/pragma-node/oracle-node/internal/apierr"
	"github.com/pragma-node/oracle-node/internal/signing"
	"github.com/pragma-node/oracle-node/internal/store"
)

// perpSuffix marks a pair subscribed on the perpetual-futures channel,
// per spec §4.H ("suffixed \":MARK\"").
const perpSuffix = ":MARK"

// controlMessage is the client->server wire shape.
type controlMessage struct {
	MsgType string   `json:"msg_type"`
	Pairs   []string `json:"pairs"`
}

// ackMessage is the server->client acknowledgement sent after every
// subscribe/unsubscribe.
type ackMessage struct {
	MsgType string   `json:"msg_type"`
	Pairs   []string `json:"pairs"`
}

// AssetOraclePrice is one per-pair element of an outbound frame: the
// aggregate price plus its per-source signed components.
type AssetOraclePrice struct {
	GlobalAssetID string `json:"global_asset_id"`
	MedianPrice   string `json:"median_price"`
	SignedPrices  []SignedPrice `json:"signed_prices"`
	Signature     string `json:"signature"`
}

// SignedPrice is one publisher's re-signed contribution, per spec §4.H.
type SignedPrice struct {
	OracleAssetID string `json:"oracle_asset_id"`
	OraclePrice   string `json:"oracle_price"`
	Timestamp     int64  `json:"timestamp"`
	SigningKey    string `json:"signing_key"`
	Signature     string `json:"signature"`
}

// SubscribeToEntryResponse is the §6 periodic frame shape.
type SubscribeToEntryResponse struct {
	OraclePrices []AssetOraclePrice `json:"oracle_prices"`
	TimestampMs  int64              `json:"timestamp_ms"`
}

// state is the per-connection subscription set, guarded by an RWMutex per
// spec §4.H: reads happen on the periodic tick, writes on control messages,
// never shared across connections.
type state struct {
	mu        sync.RWMutex
	spotPairs map[string]bool
	perpPairs map[string]bool
}

func newState() *state {
	return &state{spotPairs: map[string]bool{}, perpPairs: map[string]bool{}}
}

func (s *state) apply(msgType string, pairs []string, known func(pairID string, perp bool) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, raw := range pairs {
		perp := strings.HasSuffix(raw, perpSuffix)
		id := strings.TrimSuffix(raw, perpSuffix)
		if !known(id, perp) {
			continue
		}
		switch msgType {
		case "subscribe":
			if perp {
				s.perpPairs[id] = true
			} else {
				s.spotPairs[id] = true
			}
		case "unsubscribe":
			delete(s.spotPairs, id)
			delete(s.perpPairs, id)
		}
	}
	return s.snapshotLocked()
}

func (s *state) snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *state) snapshotLocked() []string {
	out := make([]string, 0, len(s.spotPairs)+len(s.perpPairs))
	for id := range s.spotPairs {
		out = append(out, id)
	}
	for id := range s.perpPairs {
		out = append(out, id+perpSuffix)
	}
	return out
}

// Limits bundles the per-IP rate limiting and message-size knobs of §4.H.
type Limits struct {
	BytesPerSecond     int
	MessagesPerSecond  int
	MaxInboundBytes    int64
	InactivityTimeout  time.Duration
	UpdateInterval     time.Duration
}

// ipLimiters owns the two rate limiters keyed by client IP, matching
// spec §4.H's "two rate limiters keyed by IP".
type ipLimiters struct {
	mu    sync.Mutex
	bytes map[string]*rate.Limiter
	msgs  map[string]*rate.Limiter
	cfg   Limits
}

func newIPLimiters(cfg Limits) *ipLimiters {
	return &ipLimiters{bytes: map[string]*rate.Limiter{}, msgs: map[string]*rate.Limiter{}, cfg: cfg}
}

func (l *ipLimiters) forIP(ip string) (bytesLimiter, msgLimiter *rate.Limiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bytes[ip]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.cfg.BytesPerSecond), l.cfg.BytesPerSecond)
		l.bytes[ip] = b
	}
	m, ok := l.msgs[ip]
	if !ok {
		m = rate.NewLimiter(rate.Limit(l.cfg.MessagesPerSecond), l.cfg.MessagesPerSecond)
		l.msgs[ip] = m
	}
	return b, m
}

// Hub owns the shared dependencies every connection's actor needs: the
// aggregation engine, the known-pairs lookup, per-IP limiters and the
// signing key for the signed feed.
type Hub struct {
	engine   *aggregation.Engine
	reader   store.AggregateReader
	limiters *ipLimiters
	limits   Limits
	upgrader websocket.Upgrader
	log      *logrus.Logger

	oracleName       string
	signerPrivateKey string // hex; empty means the plain, unsigned feed
}

// NewHub builds a Hub shared across all connections of one feed kind.
func NewHub(engine *aggregation.Engine, reader store.AggregateReader, limits Limits, oracleName, signerPrivateKeyHex string, log *logrus.Logger) *Hub {
	return &Hub{
		engine:           engine,
		reader:           reader,
		limiters:         newIPLimiters(limits),
		upgrader:         websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		log:              log,
		oracleName:       oracleName,
		signerPrivateKey: signerPrivateKeyHex,
		limits:           limits,
	}
}

// connection is the per-socket actor described in spec §4.H.
type connection struct {
	id           uuid.UUID
	ip           string
	conn         *websocket.Conn
	hub          *Hub
	state        *state
	lastActivity time.Time
	activityMu   sync.Mutex
	minPublishers int
	dataType     store.DataType
}

// ServeHTTP upgrades the request and runs one connection's actor loop until
// it terminates, per spec §4.H's concurrency and shutdown model.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, minPublishers int, dataType store.DataType) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	ip := clientIP(r)
	c := &connection{
		id:            uuid.New(),
		ip:            ip,
		conn:          conn,
		hub:           h,
		state:         newState(),
		lastActivity:  time.Now(),
		minPublishers: minPublishers,
		dataType:      dataType,
	}
	conn.SetReadLimit(h.limits.MaxInboundBytes)
	c.run()
}

// run implements the outer select loop of §4.H: inbound frames, the
// periodic tick, the inactivity tick, and cancellation on socket close.
func (c *connection) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer c.conn.Close()

	inbound := make(chan controlMessage)
	readErrs := make(chan error, 1)
	go c.readLoop(ctx, inbound, readErrs)

	ticker := time.NewTicker(c.hub.limits.UpdateInterval)
	defer ticker.Stop()
	inactivity := time.NewTicker(time.Second)
	defer inactivity.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readErrs:
			if err != nil {
				c.hub.log.WithError(err).WithField("conn", c.id).Debug("websocket read loop ended")
			}
			return

		case msg := <-inbound:
			c.touch()
			c.handleControl(msg)

		case <-ticker.C:
			c.tick(ctx)

		case <-inactivity.C:
			if time.Since(c.activitySnapshot()) > c.hub.limits.InactivityTimeout {
				c.sendError(apierr.New(apierr.KindUpstream, "connection timed out due to inactivity"))
				return
			}
		}
	}
}

func (c *connection) touch() {
	c.activityMu.Lock()
	c.lastActivity = time.Now()
	c.activityMu.Unlock()
}

func (c *connection) activitySnapshot() time.Time {
	c.activityMu.Lock()
	defer c.activityMu.Unlock()
	return c.lastActivity
}

// readLoop bridges the socket into the inbound channel; a message larger
// than the configured limit or a per-IP message-rate violation never
// reaches the control handler.
func (c *connection) readLoop(ctx context.Context, inbound chan<- controlMessage, errs chan<- error) {
	_, msgLimiter := c.hub.limiters.forIP(c.ip)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		if !msgLimiter.Allow() {
			c.sendError(apierr.New(apierr.KindRateLimited, "message rate exceeded, message dropped"))
			continue
		}

		var msg controlMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.sendError(apierr.New(apierr.KindBadRequest, "malformed control message"))
			continue
		}
		select {
		case inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// handleControl processes one subscribe/unsubscribe message and replies
// with the ack §4.H describes.
func (c *connection) handleControl(msg controlMessage) {
	switch msg.MsgType {
	case "subscribe", "unsubscribe":
		known := func(pairID string, perp bool) bool {
			dt := c.dataType
			if perp {
				dt = store.DataTypePerp
			}
			set, err := c.hub.reader.KnownPairs(context.Background(), dt)
			if err != nil {
				return false
			}
			return set[pairID]
		}
		pairs := c.state.apply(msg.MsgType, msg.Pairs, known)
		c.send(ackMessage{MsgType: msg.MsgType, Pairs: pairs})
	default:
		c.sendError(apierr.New(apierr.KindBadRequest, fmt.Sprintf("unrecognized msg_type %q", msg.MsgType)))
	}
}

// tick builds and sends one SubscribeToEntryResponse covering both the spot
// and perpetual-futures subscriptions, per spec §4.H.
func (c *connection) tick(ctx context.Context) {
	subscribed := c.state.snapshot()
	if len(subscribed) == 0 {
		return
	}

	var spot, perp []string
	for _, id := range subscribed {
		if base, ok := strings.CutSuffix(id, perpSuffix); ok {
			perp = append(perp, base)
		} else {
			spot = append(spot, id)
		}
	}

	prices := make([]AssetOraclePrice, 0, len(spot)+len(perp))
	prices = append(prices, c.resolveLeg(ctx, spot, c.dataType)...)
	prices = append(prices, c.resolveLeg(ctx, perp, store.DataTypePerp)...)
	if len(prices) == 0 {
		return
	}

	c.send(SubscribeToEntryResponse{OraclePrices: prices, TimestampMs: time.Now().UnixMilli()})
}

// resolveLeg resolves one subscription leg (spot or perp) and signs each
// resulting entry. pairIDs are always bare (un-suffixed): the ":MARK" marker
// is display-only in the control protocol and never enters asset-id
// derivation, matching subscribe_to_entry.rs's get_subscribed_perp_pairs
// (un-suffixed) feeding straight into get_global_asset_id/get_oracle_asset_id.
func (c *connection) resolveLeg(ctx context.Context, pairIDs []string, dataType store.DataType) []AssetOraclePrice {
	if len(pairIDs) == 0 {
		return nil
	}

	result, err := c.hub.engine.GetPriceWithComponents(ctx, pairIDs, dataType, c.minPublishers, time.Now())
	if err != nil {
		c.sendError(err)
		return nil
	}

	prices := make([]AssetOraclePrice, 0, len(result))
	for pairID, entry := range result {
		price, err := c.toAssetOraclePrice(pairID, entry)
		if err != nil {
			c.hub.log.WithError(err).WithField("pair", pairID).Warn("failed to sign outbound price, pair dropped")
			continue
		}
		prices = append(prices, price)
	}
	return prices
}

// toAssetOraclePrice builds one outbound element, signing each component
// and the aggregate via hash_tick, per spec §4.H.
func (c *connection) toAssetOraclePrice(pairID string, entry store.MedianEntry) (AssetOraclePrice, error) {
	globalID, err := signing.AssetIDGlobal(pairID)
	if err != nil {
		return AssetOraclePrice{}, err
	}

	now := time.Now().Unix()
	signedPrices := make([]SignedPrice, 0, len(entry.Components))
	for _, comp := range entry.Components {
		assetID, err := signing.AssetIDOracle(c.hub.oracleName, comp.PairID)
		if err != nil {
			continue
		}
		signedPrices = append(signedPrices, SignedPrice{
			OracleAssetID: "0x" + assetID,
			OraclePrice:   "0x" + comp.Price.BigInt().Text(16),
			Timestamp:     comp.Timestamp.Unix(),
			SigningKey:    comp.PublisherAddress,
			Signature:     comp.PublisherSignature,
		})
	}

	result := AssetOraclePrice{
		GlobalAssetID: "0x" + globalID.Text(16),
		MedianPrice:   entry.MedianPrice.String(),
		SignedPrices:  signedPrices,
	}

	if c.hub.signerPrivateKey == "" {
		return result, nil
	}

	hash, err := signing.HashTick(c.hub.oracleName, pairID, now, entry.MedianPrice.BigInt())
	if err != nil {
		return AssetOraclePrice{}, err
	}
	sig, err := signing.Sign(c.hub.signerPrivateKey, hash)
	if err != nil {
		return AssetOraclePrice{}, err
	}
	result.Signature = fmt.Sprintf("%s,%s", sig.R.Text(16), sig.S.Text(16))
	return result, nil
}

// send marshals payload and writes it, consuming bytes from the per-IP
// byte-rate limiter first; exhaustion sends one error frame then closes.
func (c *connection) send(payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.hub.log.WithError(err).Error("failed to marshal outbound frame")
		return
	}
	bytesLimiter, _ := c.hub.limiters.forIP(c.ip)
	if !bytesLimiter.AllowN(time.Now(), len(body)) {
		c.sendError(apierr.New(apierr.KindRateLimited, "outbound byte rate exceeded"))
		c.conn.Close()
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		c.hub.log.WithError(err).Debug("failed to write outbound frame")
	}
}

func (c *connection) sendError(err error) {
	body, marshalErr := json.Marshal(apierr.NewWSError(err))
	if marshalErr != nil {
		return
	}
	_ = c.conn.WriteMessage(websocket.TextMessage, body)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
