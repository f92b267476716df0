package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/metrics"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/utils"
)

// Source is the upstream API collaborator.
type Source interface {
	FetchSnapshot(ctx context.Context) (models.Snapshot, error)
}

// Options configures a Fetcher.
type Options struct {
	Window  time.Duration
	Timeout time.Duration
}

// Fetcher pulls a full snapshot on a schedule, applies the recency window
// and stores the result in the shared slot.
type Fetcher struct {
	source  Source
	slot    *Slot
	opts    Options
	log     *logrus.Entry
	metrics *metrics.Metrics
}

// New constructs a Fetcher.
func New(source Source, slot *Slot, opts Options, log logrus.FieldLogger, m *metrics.Metrics) *Fetcher {
	if opts.Window <= 0 {
		opts.Window = 30 * 24 * time.Hour
	}
	return &Fetcher{
		source:  source,
		slot:    slot,
		opts:    opts,
		log:     log.WithField("component", "fetcher"),
		metrics: m,
	}
}

// RunOnce performs a single fetch cycle. On failure nothing is stored.
func (f *Fetcher) RunOnce(ctx context.Context) error {
	log := f.log.WithField("cycle_id", uuid.NewString())

	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	snap, err := f.source.FetchSnapshot(ctx)
	if err != nil {
		f.metrics.FetchCycles.WithLabelValues("error").Inc()
		log.WithError(err).Error("fetch failed, skipping cycle")
		return fmt.Errorf("fetch snapshot: %w", err)
	}

	filtered, invalid := utils.FilterRecentPrices(snap, f.opts.Window)
	if invalid > 0 {
		for _, bad := range utils.UnparsablePrices(snap.Prices) {
			payload, _ := json.Marshal(bad.Record)
			f.metrics.Rejected.WithLabelValues(string(models.KindPrice), models.ReasonLabel(bad.Err)).Inc()
			log.WithError(bad.Err).WithField("payload", string(payload)).Warn("removed price with unparsable lastupdated")
		}
		log.WithField("count", invalid).Warn("dropped prices with unparsable lastupdated")
	}

	version := f.slot.Store(filtered)

	f.metrics.FetchCycles.WithLabelValues("ok").Inc()
	f.metrics.SnapshotRecords.WithLabelValues(string(models.KindPrice)).Set(float64(len(filtered.Prices)))
	f.metrics.SnapshotRecords.WithLabelValues(string(models.KindStation)).Set(float64(len(filtered.Stations)))

	fields := logrus.Fields{
		"version":  version,
		"prices":   len(filtered.Prices),
		"stations": len(filtered.Stations),
	}
	if latest, ok := utils.LatestPriceTime(filtered.Prices); ok {
		fields["latest"] = latest.Format(models.TimeLayout)
	}
	log.WithFields(fields).Info("snapshot stored")
	return nil
}

// Run fetches once immediately and then on schedule until ctx ends.
func (f *Fetcher) Run(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(f.log))))
	if _, err := c.AddFunc(schedule, func() { _ = f.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid fetch schedule %q: %w", schedule, err)
	}

	_ = f.RunOnce(ctx)

	c.Start()
	f.log.WithField("schedule", schedule).Info("fetch schedule started")

	<-ctx.Done()
	<-c.Stop().Done()
	f.log.Info("fetcher stopped")
	return nil
}
