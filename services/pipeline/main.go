package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/bus"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/logging"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/metrics"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/app"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/config"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/db"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/fuelapi"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/sink"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Error("pipeline failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	m := metrics.New()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	nb, err := bus.ConnectNATS(ctx, bus.NATSConfig{
		URL:          cfg.NATSURL,
		ClientName:   cfg.ClientName,
		Stream:       cfg.Stream,
		DrainTimeout: cfg.DrainTimeout,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), cfg.DrainTimeout)
		defer cancelClose()
		if err := nb.Close(closeCtx); err != nil {
			log.WithError(err).Warn("bus close")
		}
	}()

	var writer sink.Writer
	if cfg.DryRun {
		log.Info("dry-run: store writes are skipped")
	} else {
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ResetTables(ctx); err != nil {
			return err
		}
		log.Info("sink tables recreated")
		writer = store
	}

	source := fuelapi.New(fuelapi.Config{
		TokenURL:  cfg.TokenURL,
		PricesURL: cfg.PricesURL,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		RateLimit: cfg.RateLimit,
	}, &http.Client{Timeout: cfg.RequestTimeout})

	p := app.New(cfg, source, nb, writer, log, m)
	log.WithFields(logrus.Fields{
		"schedule": cfg.FetchSchedule,
		"window":   cfg.RecencyWindow,
		"stream":   cfg.Stream,
	}).Info("pipeline starting")

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
