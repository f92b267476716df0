// Package app assembles the pipeline stages around one bus.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/bus"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/logging"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/metrics"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/cleaner"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/config"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/delta"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/fetcher"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/health"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/sink"
)

// consumerStopper is implemented by transports that can stop delivering
// while still accepting publishes.
type consumerStopper interface {
	StopConsuming()
}

// streamPurger is implemented by transports that retain history for
// replaying consumers.
type streamPurger interface {
	Purge(ctx context.Context) error
}

// Pipeline holds every stage of one running pipeline.
type Pipeline struct {
	cfg config.Config
	bus bus.Bus
	log *logrus.Entry

	Slot         *fetcher.Slot
	Watermarks   *delta.Watermarks
	Fetcher      *fetcher.Fetcher
	PriceDelta   *delta.PricePublisher
	StationDelta *delta.StationPublisher
	PriceStage   *cleaner.Stage[models.PriceRecord]
	StationStage *cleaner.Stage[models.StationRecord]
	Sink         *sink.Sink
	Metrics      *metrics.Metrics
}

// New wires the stages. w may be nil when cfg.DryRun is set.
func New(cfg config.Config, source fetcher.Source, b bus.Bus, w sink.Writer, log logrus.FieldLogger, m *metrics.Metrics) *Pipeline {
	policy := RetryPolicy(cfg)
	pub := bus.WithRetry(b, policy, logging.Component(log, "bus"))

	slot := fetcher.NewSlot()
	marks := delta.NewWatermarks()

	return &Pipeline{
		cfg: cfg,
		bus: b,
		log: logging.Component(log, "pipeline"),

		Slot:       slot,
		Watermarks: marks,
		Fetcher: fetcher.New(source, slot, fetcher.Options{
			Window:  cfg.RecencyWindow,
			Timeout: cfg.RequestTimeout,
		}, log, m),
		PriceDelta:   delta.NewPricePublisher(marks, pub, log, m),
		StationDelta: delta.NewStationPublisher(marks, pub, log, m),
		PriceStage:   cleaner.NewPriceStage(pub, cfg.DrainTimeout, log, m),
		StationStage: cleaner.NewStationStage(pub, cfg.DrainTimeout, log, m),
		Sink:         sink.New(w, sink.Options{Retry: policy, DryRun: cfg.DryRun}, log, m),
		Metrics:      m,
	}
}

// RetryPolicy derives the backoff policy from configuration.
func RetryPolicy(cfg config.Config) bus.RetryPolicy {
	return bus.RetryPolicy{
		MaxAttempts:  cfg.RetryAttempts,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     cfg.RetryMaxDelay,
	}
}

// Subscribe attaches the cleaner stages and the sink to the bus.
func (p *Pipeline) Subscribe(ctx context.Context) error {
	if err := p.PriceStage.Subscribe(ctx, p.bus); err != nil {
		return fmt.Errorf("subscribe price cleaner: %w", err)
	}
	if err := p.StationStage.Subscribe(ctx, p.bus); err != nil {
		return fmt.Errorf("subscribe station cleaner: %w", err)
	}
	if err := p.Sink.Subscribe(ctx, p.bus); err != nil {
		return fmt.Errorf("subscribe sink: %w", err)
	}
	return nil
}

// Run starts every worker and blocks until ctx ends or a worker fails.
// Consumers are stopped before the cleaned publishers drain so nothing is
// accepted after the final flush.
//
// The store tables are recreated at every start, so the retained stream is
// purged first as well; dashboards replaying it then only see this run.
func (p *Pipeline) Run(ctx context.Context) error {
	if pg, ok := p.bus.(streamPurger); ok {
		if err := pg.Purge(ctx); err != nil {
			return fmt.Errorf("purge previous run: %w", err)
		}
	}
	if err := p.Subscribe(ctx); err != nil {
		return err
	}

	pubCtx, cancelPub := context.WithCancel(context.Background())
	defer cancelPub()
	var publishers errgroup.Group
	publishers.Go(func() error { return p.PriceStage.RunPublisher(pubCtx) })
	publishers.Go(func() error { return p.StationStage.RunPublisher(pubCtx) })

	workers, wctx := errgroup.WithContext(ctx)
	workers.Go(func() error { return p.Fetcher.Run(wctx, p.cfg.FetchSchedule) })
	workers.Go(func() error { return p.PriceDelta.Run(wctx, p.Slot) })
	workers.Go(func() error { return p.StationDelta.Run(wctx, p.Slot) })
	if p.cfg.HealthAddr != "" {
		srv := health.New(p.cfg.HealthAddr, p.Metrics, p.status)
		workers.Go(func() error {
			p.log.WithField("addr", p.cfg.HealthAddr).Info("health server listening")
			return srv.Run(wctx)
		})
	}

	err := workers.Wait()

	start := time.Now()
	if s, ok := p.bus.(consumerStopper); ok {
		s.StopConsuming()
	}
	cancelPub()
	if perr := publishers.Wait(); perr != nil {
		p.log.WithError(perr).Warn("cleaned publishers did not drain cleanly")
	}
	p.log.WithField("took", time.Since(start)).Info("pipeline stopped")
	return err
}

func (p *Pipeline) status() gin.H {
	_, version, ok := p.Slot.Load()
	h := gin.H{
		"snapshot_version":   version,
		"snapshot_present":   ok,
		"published_stations": p.Watermarks.StationCount(),
		"pending_prices":     p.PriceStage.Pending(),
		"pending_stations":   p.StationStage.Pending(),
		"dry_run":            p.cfg.DryRun,
	}
	if mark, ok := p.Watermarks.PriceWatermark(); ok {
		h["price_watermark"] = mark.Format(models.TimeLayout)
	}
	return h
}
