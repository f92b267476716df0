package delta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/bus"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/metrics"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

// Snapshots is the shared slot the fetcher writes to.
type Snapshots interface {
	Wait(ctx context.Context, version uint64) (models.Snapshot, uint64, error)
}

// PricePublisher forwards prices newer than the watermark to raw/prices.
type PricePublisher struct {
	marks   *Watermarks
	pub     bus.Publisher
	log     *logrus.Entry
	metrics *metrics.Metrics
}

// NewPricePublisher constructs a PricePublisher.
func NewPricePublisher(marks *Watermarks, pub bus.Publisher, log logrus.FieldLogger, m *metrics.Metrics) *PricePublisher {
	return &PricePublisher{
		marks:   marks,
		pub:     pub,
		log:     log.WithField("component", "price-delta"),
		metrics: m,
	}
}

// PublishSnapshot selects new prices and publishes one message per record.
// Selection and watermark advance happen under the watermark lock; the
// publish burst runs outside it.
func (p *PricePublisher) PublishSnapshot(ctx context.Context, snap models.Snapshot) (int, error) {
	selected, invalid := p.marks.SelectPrices(snap.Prices)
	if invalid > 0 {
		p.log.WithField("count", invalid).Warn("skipped prices with unparsable lastupdated")
	}
	if len(selected) == 0 {
		return 0, nil
	}
	if mark, ok := p.marks.PriceWatermark(); ok {
		p.metrics.PriceWatermark.Set(float64(mark.Unix()))
	}

	sent := 0
	var errs []error
	for _, tp := range selected {
		rec, err := tp.Record.With(models.FieldLastUpdated, models.Timestamp{Time: tp.TS})
		if err == nil {
			err = p.publish(ctx, rec)
		}
		if err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		sent++
	}

	p.log.WithFields(logrus.Fields{"published": sent, "failed": len(errs)}).Info("raw prices published")
	return sent, errors.Join(errs...)
}

func (p *PricePublisher) publish(ctx context.Context, rec models.RawRecord) error {
	return publishRaw(ctx, p.pub, p.metrics, p.log, bus.TopicRawPrices, models.KindPrice, rec)
}

// Run publishes every new snapshot version until ctx ends.
func (p *PricePublisher) Run(ctx context.Context, slot Snapshots) error {
	return run(ctx, slot, p.log, p.PublishSnapshot)
}

// StationPublisher forwards stations whose code has never been forwarded.
type StationPublisher struct {
	marks   *Watermarks
	pub     bus.Publisher
	log     *logrus.Entry
	metrics *metrics.Metrics
}

// NewStationPublisher constructs a StationPublisher.
func NewStationPublisher(marks *Watermarks, pub bus.Publisher, log logrus.FieldLogger, m *metrics.Metrics) *StationPublisher {
	return &StationPublisher{
		marks:   marks,
		pub:     pub,
		log:     log.WithField("component", "station-delta"),
		metrics: m,
	}
}

// PublishSnapshot selects unseen station codes and publishes them.
func (s *StationPublisher) PublishSnapshot(ctx context.Context, snap models.Snapshot) (int, error) {
	selected, skipped := s.marks.SelectStations(snap.Stations)
	if skipped > 0 {
		s.log.WithField("count", skipped).Warn("skipped stations without a code")
	}
	if len(selected) == 0 {
		return 0, nil
	}
	s.metrics.PublishedStations.Set(float64(s.marks.StationCount()))

	sent := 0
	var errs []error
	for _, rec := range selected {
		if err := publishRaw(ctx, s.pub, s.metrics, s.log, bus.TopicRawStations, models.KindStation, rec); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		sent++
	}

	s.log.WithFields(logrus.Fields{"published": sent, "failed": len(errs)}).Info("raw stations published")
	return sent, errors.Join(errs...)
}

// Run publishes every new snapshot version until ctx ends.
func (s *StationPublisher) Run(ctx context.Context, slot Snapshots) error {
	return run(ctx, slot, s.log, s.PublishSnapshot)
}

func publishRaw(ctx context.Context, pub bus.Publisher, m *metrics.Metrics, log *logrus.Entry, topic bus.Topic, kind models.Kind, rec models.RawRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode raw %s: %w", kind, err)
	}
	if err := pub.Publish(ctx, topic, kind, payload); err != nil {
		m.PublishFailures.WithLabelValues(string(topic)).Inc()
		log.WithError(err).WithField("topic", string(topic)).Error("publish failed, record lost")
		return err
	}
	m.Published.WithLabelValues(string(topic)).Inc()
	return nil
}

func run(ctx context.Context, slot Snapshots, log *logrus.Entry, publish func(context.Context, models.Snapshot) (int, error)) error {
	var version uint64
	for {
		snap, v, err := slot.Wait(ctx, version)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("delta publisher stopped")
				return nil
			}
			return err
		}
		version = v
		if _, err := publish(ctx, snap); err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("version", v).Warn("snapshot partially published")
		}
	}
}
