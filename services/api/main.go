package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/bus"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/logging"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/api/config"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/api/dashboard"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/api/db"
	httpserver "github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/api/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer store.Close()

	nb, err := bus.ConnectNATS(ctx, bus.NATSConfig{
		URL:        cfg.NATSURL,
		ClientName: "fuel-dashboard",
		Stream:     cfg.Stream,
	}, log)
	if err != nil {
		log.Fatalf("nats connection error: %v", err)
	}
	defer func() {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelClose()
		if err := nb.Close(closeCtx); err != nil {
			log.WithError(err).Warn("bus close")
		}
	}()

	hub := dashboard.NewHub(log)
	dash := dashboard.New(hub, log)
	if err := dash.Subscribe(ctx, nb); err != nil {
		log.Fatalf("subscribe error: %v", err)
	}

	srv := httpserver.New(cfg, store, dash, hub, log)
	log.WithField("addr", cfg.ListenAddr()).Info("dashboard API listening")

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
