// Package httpapi wires every component package onto the §6 HTTP surface:
// gorilla/mux for routing, rs/cors for cross-origin access, logrus request
// logging, following the controller/route layering of
// orbas1-Synnergy's walletserver.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/pragma-node/oracle-node/internal/aggregation"
	"github.com/pragma-node/oracle-node/internal/candles"
	"github.com/pragma-node/oracle-node/internal/history"
	"github.com/pragma-node/oracle-node/internal/ingest"
	"github.com/pragma-node/oracle-node/internal/onchain"
	"github.com/pragma-node/oracle-node/internal/sse"
	"github.com/pragma-node/oracle-node/internal/store"
	"github.com/pragma-node/oracle-node/internal/ws"
)

// Server bundles every domain engine the HTTP surface calls into, mirroring
// the teacher's Server{router, aggregator, config} shape generalized to the
// node's larger component set.
type Server struct {
	router *mux.Router
	log    *logrus.Logger

	spotValidator   *ingest.Validator
	futureValidator *ingest.Validator

	aggregationEngine *aggregation.Engine
	historyEngine     *history.Engine
	candlesEngine     *candles.Engine
	onchainEngine     *onchain.Engine

	sseStreamer *sse.Streamer

	signedHub *ws.Hub
	plainHub  *ws.Hub

	reader             store.AggregateReader
	abstractCurrencies []string
	freshnessThreshold time.Duration
	minPublishers      int
}

// Deps bundles every constructed engine/validator NewServer needs; kept as
// one struct so main wiring stays a single call.
type Deps struct {
	Log *logrus.Logger

	SpotValidator   *ingest.Validator
	FutureValidator *ingest.Validator

	AggregationEngine *aggregation.Engine
	HistoryEngine     *history.Engine
	CandlesEngine     *candles.Engine
	OnchainEngine     *onchain.Engine

	SSEStreamer *sse.Streamer

	SignedHub *ws.Hub
	PlainHub  *ws.Hub

	Reader             store.AggregateReader
	AbstractCurrencies []string
	FreshnessThreshold time.Duration
	MinPublishers      int
}

// NewServer builds a Server and registers every §6 route.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:            mux.NewRouter(),
		log:               deps.Log,
		spotValidator:     deps.SpotValidator,
		futureValidator:   deps.FutureValidator,
		aggregationEngine: deps.AggregationEngine,
		historyEngine:     deps.HistoryEngine,
		candlesEngine:     deps.CandlesEngine,
		onchainEngine:     deps.OnchainEngine,
		sseStreamer:       deps.SSEStreamer,
		signedHub:          deps.SignedHub,
		plainHub:           deps.PlainHub,
		reader:             deps.Reader,
		abstractCurrencies: deps.AbstractCurrencies,
		freshnessThreshold: deps.FreshnessThreshold,
		minPublishers:      deps.MinPublishers,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(loggingMiddleware(s.log))

	s.router.HandleFunc("/node/v1/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/node/v1/data/publish", s.handlePublishSpot).Methods(http.MethodPost)
	s.router.HandleFunc("/node/v1/data/publish_future", s.handlePublishFuture).Methods(http.MethodPost)

	s.router.HandleFunc("/node/v1/data/{base}/{quote}", s.handleGetData).Methods(http.MethodGet)
	s.router.HandleFunc("/node/v1/data/{base}/{quote}/stream", s.handleSingleStream).Methods(http.MethodGet)
	s.router.HandleFunc("/node/v1/data/multi/stream", s.handleMultiStream).Methods(http.MethodGet)
	s.router.HandleFunc("/node/v1/data/{base}/{quote}/future_expiries", s.handleFutureExpiries).Methods(http.MethodGet)

	s.router.HandleFunc("/node/v1/aggregation/candlestick/{base}/{quote}", s.handleCandlestick).Methods(http.MethodGet)
	s.router.HandleFunc("/node/v1/volatility/{base}/{quote}", s.handleVolatility).Methods(http.MethodGet)

	s.router.HandleFunc("/node/v1/onchain/{base}/{quote}", s.handleOnchainLastPrice).Methods(http.MethodGet)
	s.router.HandleFunc("/node/v1/onchain/history/{base}/{quote}", s.handleOnchainHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/node/v1/onchain/checkpoints/{base}/{quote}", s.handleOnchainCheckpoints).Methods(http.MethodGet)
	s.router.HandleFunc("/node/v1/onchain/publishers", s.handleOnchainPublishers).Methods(http.MethodGet)

	s.router.HandleFunc("/node/v1/data/subscribe", s.handleSignedSubscribe).Methods(http.MethodGet)
	s.router.HandleFunc("/node/v1/data/price/subscribe", s.handlePlainSubscribe).Methods(http.MethodGet)
}

// Handler returns the CORS-wrapped router, ready for http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func (s *Server) handleSignedSubscribe(w http.ResponseWriter, r *http.Request) {
	s.signedHub.ServeHTTP(w, r, s.minPublishers, store.DataTypeSpot)
}

func (s *Server) handlePlainSubscribe(w http.ResponseWriter, r *http.Request) {
	s.plainHub.ServeHTTP(w, r, s.minPublishers, store.DataTypeSpot)
}
