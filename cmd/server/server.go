package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"computex/internal/config"
	"computex/internal/events"
	"computex/internal/exchange"
	"computex/internal/ledger"
	"computex/internal/logging"
	"computex/internal/metrics"
	feed "computex/internal/net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Seed the token ledger.
	book := ledger.NewMemory()
	genesis, err := cfg.GenesisBalances()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid genesis balances")
	}
	for acct, amount := range genesis {
		if err := book.Mint(acct, amount); err != nil {
			log.Fatal().Err(err).Str("account", string(acct)).Msg("unable to mint genesis balance")
		}
	}

	// Wire event consumers.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv := feed.New(cfg.Feed.Address, cfg.Feed.Port)
	bus := events.NewBus(
		events.LogSink{Level: zerolog.DebugLevel},
		metrics.New(reg),
		srv,
	)
	var kafkaSink *events.KafkaSink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink = events.NewKafkaSink(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		bus.Add(kafkaSink)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing events to kafka")
	}

	// Setup the matching engine.
	exCfg, err := cfg.Exchange()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid exchange configuration")
	}
	ex, err := exchange.New(exCfg, book, bus)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create exchange")
	}
	ex.Start(ctx)

	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Error().Err(err).Msg("event feed stopped")
			stop()
		}
	}()

	var httpSrv *http.Server
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		httpSrv = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("address", cfg.Metrics.Address).Msg("metrics listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	// Block until asked to stop.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	if err := ex.Stop(); err != nil {
		log.Error().Err(err).Msg("exchange stopped with error")
	}
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("unable to stop metrics server")
		}
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			log.Error().Err(err).Msg("unable to flush kafka sink")
		}
	}
}
