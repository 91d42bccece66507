// Command oracled runs the price-oracle node: the HTTP/SSE/websocket
// surface of spec §6 wired over the ingest, aggregation, history, candles,
// on-chain and websocket engines.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pragma-node/oracle-node/internal/aggregation"
	"github.com/pragma-node/oracle-node/internal/buffer"
	"github.com/pragma-node/oracle-node/internal/candles"
	"github.com/pragma-node/oracle-node/internal/config"
	"github.com/pragma-node/oracle-node/internal/history"
	"github.com/pragma-node/oracle-node/internal/httpapi"
	"github.com/pragma-node/oracle-node/internal/ingest"
	"github.com/pragma-node/oracle-node/internal/onchain"
	"github.com/pragma-node/oracle-node/internal/registry"
	"github.com/pragma-node/oracle-node/internal/signing"
	"github.com/pragma-node/oracle-node/internal/sse"
	"github.com/pragma-node/oracle-node/internal/store"
	"github.com/pragma-node/oracle-node/internal/store/postgres"
	"github.com/pragma-node/oracle-node/internal/ws"
)

var (
	envFile string
	debug   bool
)

func main() {
	root := &cobra.Command{
		Use:   "oracled",
		Short: "price-oracle node: ingestion, aggregation and query surface",
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file to load before reading the environment")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCheckCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("oracled dev")
			return nil
		},
	}
}

// migrateCheckCmd verifies the configured database is reachable without
// starting the HTTP surface, for use in deploy health gates.
func migrateCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-check",
		Short: "verify the database connection is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			db, err := postgres.Open(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("migrate-check: %w", err)
			}
			return db.Close()
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP/SSE/websocket oracle node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := config.NewLogger(debug)

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	reg, err := registry.New(db, 4096)
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}

	domain := signing.Domain{Name: cfg.OracleName, Version: "1", ChainID: "SN_MAIN", Revision: "1"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spotWriter := buffer.New(store.DataTypeSpot, db, cfg.FlushInterval, log, 4096)
	futureWriter := buffer.New(store.DataTypeFuture, db, cfg.FlushInterval, log, 4096)
	go spotWriter.Run(ctx)
	go futureWriter.Run(ctx)

	spotValidator := ingest.NewSpotValidator(reg, spotWriter, domain)
	futureValidator := ingest.NewFutureValidator(reg, futureWriter, domain)

	aggregationEngine := aggregation.New(db, cfg.AbstractCurrencies, cfg.RoutingFreshnessThreshold)
	historyEngine := history.New(db, cfg.AbstractCurrencies, cfg.RoutingFreshnessThreshold)
	candlesEngine := candles.New(db, cfg.AbstractCurrencies)
	onchainEngine := onchain.New(db, db, cfg.MaxCheckpointLimit, cfg.AbstractCurrencies)

	sseStreamer := sse.New(aggregationEngine, cfg.SSEKeepAliveInterval, log)

	signedHub := ws.NewHub(aggregationEngine, db, ws.Limits{
		BytesPerSecond:    cfg.BytesLimitPerIPPerSecond,
		MessagesPerSecond: cfg.MessagesLimitPerIPPerSecond,
		MaxInboundBytes:   int64(cfg.MaxInboundMessageBytes),
		InactivityTimeout: cfg.InactivityTimeout,
		UpdateInterval:    cfg.ChannelUpdateIntervalSigned,
	}, cfg.OracleName, cfg.SignerPrivateKeyHex, log)

	plainHub := ws.NewHub(aggregationEngine, db, ws.Limits{
		BytesPerSecond:    cfg.BytesLimitPerIPPerSecond,
		MessagesPerSecond: cfg.MessagesLimitPerIPPerSecond,
		MaxInboundBytes:   int64(cfg.MaxInboundMessageBytes),
		InactivityTimeout: cfg.InactivityTimeout,
		UpdateInterval:    cfg.ChannelUpdateIntervalPlain,
	}, cfg.OracleName, "", log)

	srv := httpapi.NewServer(httpapi.Deps{
		Log:                log,
		SpotValidator:      spotValidator,
		FutureValidator:    futureValidator,
		AggregationEngine:  aggregationEngine,
		HistoryEngine:      historyEngine,
		CandlesEngine:      candlesEngine,
		OnchainEngine:      onchainEngine,
		SSEStreamer:        sseStreamer,
		SignedHub:          signedHub,
		PlainHub:           plainHub,
		Reader:             db,
		AbstractCurrencies: cfg.AbstractCurrencies,
		FreshnessThreshold: cfg.RoutingFreshnessThreshold,
		MinPublishers:      cfg.MinPublishers,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Handler(),
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("oracled listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
