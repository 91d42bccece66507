package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/pragma-node/oracle-node/internal/aggregation"
	"github.com/pragma-node/oracle-node/internal/apierr"
	"github.com/pragma-node/oracle-node/internal/candles"
	"github.com/pragma-node/oracle-node/internal/history"
	"github.com/pragma-node/oracle-node/internal/ingest"
	"github.com/pragma-node/oracle-node/internal/onchain"
	"github.com/pragma-node/oracle-node/internal/pair"
	"github.com/pragma-node/oracle-node/internal/sse"
	"github.com/pragma-node/oracle-node/internal/store"
	"github.com/pragma-node/oracle-node/internal/volatility"
)

// requestPair resolves the {base}/{quote} route variables into a pair.Pair.
func requestPair(r *http.Request) pair.Pair {
	vars := mux.Vars(r)
	return pair.New(vars["base"], vars["quote"])
}

func queryBool(r *http.Request, name string, def bool) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func queryDuration(r *http.Request, name string, def time.Duration) time.Duration {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(secs) * time.Second
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryTime(r *http.Request, name string, def time.Time) time.Time {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return time.UnixMilli(ms)
}

func queryAggregationMode(r *http.Request) store.AggregationMode {
	if r.URL.Query().Get("aggregation") == string(store.AggregationTwap) {
		return store.AggregationTwap
	}
	return store.AggregationMedian
}

func queryDataType(r *http.Request) store.DataType {
	switch r.URL.Query().Get("data_type") {
	case string(store.DataTypeFuture):
		return store.DataTypeFuture
	case string(store.DataTypePerp):
		return store.DataTypePerp
	default:
		return store.DataTypeSpot
	}
}

// --- publish --------------------------------------------------------------

func (s *Server) handlePublishSpot(w http.ResponseWriter, r *http.Request) {
	s.handlePublish(w, r, s.spotValidator)
}

func (s *Server) handlePublishFuture(w http.ResponseWriter, r *http.Request) {
	s.handlePublish(w, r, s.futureValidator)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, v *ingest.Validator) {
	var wire wirePublishRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		apierr.WriteHTTP(w, "publish", apierr.Wrap(apierr.KindBadRequest, "decoding publish request", err))
		return
	}

	sigR, err := parseSignatureComponent(wire.Signature[0])
	if err != nil {
		apierr.WriteHTTP(w, "publish", apierr.Wrap(apierr.KindBadRequest, "parsing signature", err))
		return
	}
	sigS, err := parseSignatureComponent(wire.Signature[1])
	if err != nil {
		apierr.WriteHTTP(w, "publish", apierr.Wrap(apierr.KindBadRequest, "parsing signature", err))
		return
	}

	entries := make([]ingest.RawEntry, len(wire.Entries))
	for i, e := range wire.Entries {
		entries[i] = ingest.RawEntry{
			Publisher:           e.Base.Publisher,
			Source:              e.Base.Source,
			Timestamp:           e.Base.Timestamp,
			PairID:              e.PairID,
			Price:               e.Price.Decimal,
			Volume:              e.Volume.Decimal,
			ExpirationTimestamp: e.ExpirationTimestamp,
		}
	}

	result, err := v.Publish(r.Context(), ingest.PublishRequest{
		SignatureR: sigR,
		SignatureS: sigS,
		Entries:    entries,
	})
	if err != nil {
		apierr.WriteHTTP(w, "publish", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- data query -------------------------------------------------------------

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	p := requestPair(r)
	atTime := queryTime(r, "timestamp", time.Now())
	if atTime.After(time.Now()) {
		apierr.WriteHTTP(w, p.ID(), apierr.New(apierr.KindBadRequest, "timestamp must not be in the future"))
		return
	}

	params := aggregation.Params{
		Interval:       queryDuration(r, "interval", time.Minute),
		AtTime:         atTime,
		Mode:           queryAggregationMode(r),
		DataType:       queryDataType(r),
		Routing:        queryBool(r, "routing", true),
		WithComponents: queryBool(r, "with_components", false),
	}

	entry, decimals, err := s.aggregationEngine.Route(r.Context(), p, params)
	if err != nil {
		apierr.WriteHTTP(w, p.ID(), err)
		return
	}
	writeJSON(w, http.StatusOK, sse.ToGetEntryResponse(p.ID(), entry, decimals))
}

// --- SSE streams ------------------------------------------------------------

func (s *Server) sseRequestFromQuery(r *http.Request, p pair.Pair) sse.Request {
	_, hasTimestamp := r.URL.Query()["timestamp"]
	return sse.Request{
		Pair:             p,
		HistoricalPrices: queryInt(r, "historical_prices", 0),
		Interval:         queryDuration(r, "interval", 2*time.Second),
		Routing:          queryBool(r, "routing", true),
		Aggregation:      queryAggregationMode(r),
		HasTimestamp:     hasTimestamp,
		DataType:         queryDataType(r),
	}
}

func (s *Server) handleSingleStream(w http.ResponseWriter, r *http.Request) {
	p := requestPair(r)
	s.sseStreamer.Single(r.Context(), w, s.sseRequestFromQuery(r, p))
}

func (s *Server) handleMultiStream(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["pair"]
	pairs := make([]pair.Pair, 0, len(ids))
	for _, id := range ids {
		parsed, err := pair.Parse(id)
		if err != nil {
			apierr.WriteHTTP(w, "data/multi/stream", apierr.Wrap(apierr.KindBadRequest, "parsing pair", err))
			return
		}
		pairs = append(pairs, parsed)
	}
	req := s.sseRequestFromQuery(r, pair.Pair{})
	s.sseStreamer.Multi(r.Context(), w, pairs, req)
}

// --- future expiries ----------------------------------------------------------

func (s *Server) handleFutureExpiries(w http.ResponseWriter, r *http.Request) {
	p := requestPair(r)
	expiries, err := s.reader.FutureExpiries(r.Context(), p.ID())
	if err != nil {
		apierr.WriteHTTP(w, p.ID(), apierr.Wrap(apierr.KindUpstream, "future expiries lookup", err))
		return
	}
	ms := make([]int64, len(expiries))
	for i, t := range expiries {
		ms[i] = t.UnixMilli()
	}
	writeJSON(w, http.StatusOK, map[string]any{"pair_id": p.ID(), "expiries": ms})
}

// --- candlestick --------------------------------------------------------------

func (s *Server) handleCandlestick(w http.ResponseWriter, r *http.Request) {
	p := requestPair(r)
	q := candles.Query{
		Pair:     p,
		DataType: queryDataType(r),
		Interval: queryDuration(r, "interval", time.Hour),
		From:     queryTime(r, "from", time.Now().Add(-24*time.Hour)),
		To:       queryTime(r, "to", time.Now()),
		Routing:  queryBool(r, "routing", true),
	}
	id, buckets, err := s.candlesEngine.Range(r.Context(), q)
	if err != nil {
		apierr.WriteHTTP(w, p.ID(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pair_id": id, "buckets": buckets})
}

// --- volatility ---------------------------------------------------------------

func (s *Server) handleVolatility(w http.ResponseWriter, r *http.Request) {
	p := requestPair(r)
	q := history.Query{
		Pair:     p,
		DataType: queryDataType(r),
		Mode:          store.AggregationMedian,
		ChunkInterval: queryDuration(r, "interval", time.Hour),
		From:     queryTime(r, "from", time.Now().Add(-7*24*time.Hour)),
		To:       queryTime(r, "to", time.Now()),
		Routing:  queryBool(r, "routing", true),
	}
	_, series, err := s.historyEngine.Range(r.Context(), q)
	if err != nil {
		apierr.WriteHTTP(w, p.ID(), err)
		return
	}

	points := make([]volatility.Point, len(series))
	for i, e := range series {
		points[i] = volatility.Point{Time: e.Time, Price: e.MedianPrice}
	}

	annualized, err := volatility.Annualized(points)
	if err != nil {
		apierr.WriteHTTP(w, p.ID(), apierr.Wrap(apierr.KindBadRequest, "computing volatility", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pair_id": p.ID(), "annualized_volatility": annualized})
}

// --- on-chain -------------------------------------------------------------

func (s *Server) handleOnchainLastPrice(w http.ResponseWriter, r *http.Request) {
	p := requestPair(r)
	mode := onchain.LastPriceMedian
	if r.URL.Query().Get("mode") == string(onchain.LastPriceMean) {
		mode = onchain.LastPriceMean
	}
	result, err := s.onchainEngine.LastPrice(r.Context(), p, mode)
	if err != nil {
		apierr.WriteHTTP(w, p.ID(), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOnchainHistory(w http.ResponseWriter, r *http.Request) {
	p := requestPair(r)
	from := queryTime(r, "from", time.Now().Add(-7*24*time.Hour))
	to := queryTime(r, "to", time.Now())
	id, rows, err := s.onchainEngine.History(r.Context(), p, from, to)
	if err != nil {
		apierr.WriteHTTP(w, p.ID(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pair_id": id, "checkpoints": rows})
}

func (s *Server) handleOnchainCheckpoints(w http.ResponseWriter, r *http.Request) {
	p := requestPair(r)
	rows, err := s.onchainEngine.Checkpoints(r.Context(), p, queryInt(r, "limit", 100))
	if err != nil {
		apierr.WriteHTTP(w, p.ID(), err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleOnchainPublishers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.onchainEngine.Publishers(r.Context())
	if err != nil {
		apierr.WriteHTTP(w, "onchain/publishers", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
