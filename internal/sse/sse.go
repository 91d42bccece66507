// Package sse implements the SSE streamer of spec §4.G: a single-pair and
// a multi-pair server-sent-events endpoint over the aggregation engine.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pragma-node/oracle-node/internal/aggregation"
	"github.com/pragma-node/oracle-node/internal/apierr"
	"github.com/pragma-node/oracle-node/internal/pair"
	"github.com/pragma-node/oracle-node/internal/store"
)

// GetEntryResponse is the §6 wire shape emitted on every tick.
type GetEntryResponse struct {
	PairID              string `json:"pair_id"`
	Price               string `json:"price"`
	TimestampMs         int64  `json:"timestamp_ms"`
	NumSourcesAggregated int   `json:"num_sources_aggregated"`
	Decimals            int    `json:"decimals"`
}

// Request carries the query parameters the boundary must validate, per
// spec §4.G: aggregation must be Median and timestamp must be absent.
type Request struct {
	Pair             pair.Pair
	HistoricalPrices int
	Interval         time.Duration
	Routing          bool
	Aggregation      store.AggregationMode
	HasTimestamp     bool
	DataType         store.DataType
}

// Streamer serves the single- and multi-pair SSE endpoints.
type Streamer struct {
	engine       *aggregation.Engine
	keepAlive    time.Duration
	log          *logrus.Entry
}

// New builds a Streamer.
func New(engine *aggregation.Engine, keepAlive time.Duration, log *logrus.Logger) *Streamer {
	return &Streamer{engine: engine, keepAlive: keepAlive, log: log.WithField("component", "sse")}
}

// validate enforces the boundary rules of §4.G: Median-only, no
// point-in-time timestamp.
func validate(req Request) error {
	if req.Aggregation != store.AggregationMedian {
		return apierr.New(apierr.KindBadRequest, "sse streams only support aggregation=median")
	}
	if req.HasTimestamp {
		return apierr.New(apierr.KindBadRequest, "sse streams do not accept a point-in-time timestamp")
	}
	return nil
}

// Single serves the single-pair SSE stream: a historical prefix on connect,
// then one GetEntryResponse every req.Interval, with a keep-alive comment
// every Streamer.keepAlive. If the request fails boundary validation, one
// error event is sent and the connection is kept open but idle, per §4.G.
func (s *Streamer) Single(ctx context.Context, w http.ResponseWriter, req Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		apierr.WriteHTTP(w, "sse", apierr.New(apierr.KindInternal, "response writer does not support flushing"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := validate(req); err != nil {
		writeEvent(w, "error", apierr.NewWSError(err))
		flusher.Flush()
		<-ctx.Done()
		return
	}

	s.writeHistoricalPrefix(ctx, w, flusher, req)

	ticker := time.NewTicker(req.Interval)
	defer ticker.Stop()
	keepAlive := time.NewTicker(s.keepAliveOrDefault())
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ticker.C:
			entry, err := s.resolve(ctx, req)
			if err != nil {
				s.log.WithError(err).Warn("sse tick resolution failed")
				continue
			}
			writeEvent(w, "message", entry)
			flusher.Flush()
		}
	}
}

// Multi serves the multi-pair SSE stream: every tick, one JSON array with
// one entry per pair that resolved; failing pairs are silently dropped.
// The stream terminates with an error event only when every pair fails.
func (s *Streamer) Multi(ctx context.Context, w http.ResponseWriter, pairs []pair.Pair, req Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		apierr.WriteHTTP(w, "sse", apierr.New(apierr.KindInternal, "response writer does not support flushing"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := validate(req); err != nil {
		writeEvent(w, "error", apierr.NewWSError(err))
		flusher.Flush()
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(req.Interval)
	defer ticker.Stop()
	keepAlive := time.NewTicker(s.keepAliveOrDefault())
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ticker.C:
			responses := make([]GetEntryResponse, 0, len(pairs))
			for _, p := range pairs {
				perPair := req
				perPair.Pair = p
				entry, err := s.resolve(ctx, perPair)
				if err != nil {
					s.log.WithError(err).WithField("pair", p.ID()).Debug("sse multi tick: pair dropped")
					continue
				}
				responses = append(responses, entry)
			}
			if len(responses) == 0 {
				writeEvent(w, "error", apierr.NewWSError(apierr.New(apierr.KindNotFound, "every requested pair failed to resolve")))
				flusher.Flush()
				return
			}
			writeEvent(w, "message", responses)
			flusher.Flush()
		}
	}
}

func (s *Streamer) keepAliveOrDefault() time.Duration {
	if s.keepAlive <= 0 {
		return 30 * time.Second
	}
	return s.keepAlive
}

// writeHistoricalPrefix emits one "historical" event with up to
// req.HistoricalPrices entries computed by re-querying the median view over
// the preceding window, per §4.G.
func (s *Streamer) writeHistoricalPrefix(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, req Request) {
	if req.HistoricalPrices <= 0 {
		return
	}
	entries := make([]GetEntryResponse, 0, req.HistoricalPrices)
	now := time.Now()
	for i := req.HistoricalPrices; i >= 1; i-- {
		at := now.Add(-time.Duration(i) * req.Interval)
		historical := req
		historical.HasTimestamp = false
		entry, decimals, err := s.engine.Route(ctx, req.Pair, aggregation.Params{
			Interval: req.Interval,
			AtTime:   at,
			Mode:     req.Aggregation,
			DataType: req.DataType,
			Routing:  req.Routing,
		})
		if err != nil {
			continue
		}
		entries = append(entries, ToGetEntryResponse(req.Pair.ID(), entry, decimals))
	}
	writeEvent(w, "historical", entries)
	flusher.Flush()
}

// resolve fetches the current price for one pair at "now", per §4.G's
// periodic tick behavior.
func (s *Streamer) resolve(ctx context.Context, req Request) (GetEntryResponse, error) {
	entry, decimals, err := s.engine.Route(ctx, req.Pair, aggregation.Params{
		Interval: req.Interval,
		AtTime:   time.Now(),
		Mode:     req.Aggregation,
		DataType: req.DataType,
		Routing:  req.Routing,
	})
	if err != nil {
		return GetEntryResponse{}, err
	}
	return ToGetEntryResponse(req.Pair.ID(), entry, decimals), nil
}

// ToGetEntryResponse builds the §6 GetEntryResponse wire shape for one
// resolved entry; exported so the plain (non-streaming) data endpoint can
// render the same shape.
func ToGetEntryResponse(pairID string, entry store.MedianEntry, decimals int) GetEntryResponse {
	return GetEntryResponse{
		PairID:               pairID,
		Price:                "0x" + entry.MedianPrice.BigInt().Text(16),
		TimestampMs:          entry.Time.UnixMilli(),
		NumSourcesAggregated: entry.NumSources,
		Decimals:             decimals,
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: {\"status\":\"error\",\"error\":%q}\n\n", err.Error())
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
}
