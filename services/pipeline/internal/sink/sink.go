// Package sink persists cleaned records as append-only rows.
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/bus"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/metrics"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

// Consumer names for the durable cleaned-topic subscriptions.
const (
	ConsumerPrices   = "sink-prices"
	ConsumerStations = "sink-stations"
)

// Writer is the durable write contract.
type Writer interface {
	InsertPrices(ctx context.Context, prices []models.PriceRecord) error
	InsertStations(ctx context.Context, stations []models.StationRecord) error
}

// Options configures a Sink.
type Options struct {
	Retry  bus.RetryPolicy
	DryRun bool
}

// Sink writes every cleaned message as a new row.
type Sink struct {
	w       Writer
	opts    Options
	log     *logrus.Entry
	metrics *metrics.Metrics
}

// New constructs a Sink. w may be nil in dry-run mode.
func New(w Writer, opts Options, log logrus.FieldLogger, m *metrics.Metrics) *Sink {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = bus.DefaultRetryPolicy()
	}
	return &Sink{
		w:       w,
		opts:    opts,
		log:     log.WithField("component", "sink"),
		metrics: m,
	}
}

// Subscribe attaches the sink to both cleaned topics.
func (s *Sink) Subscribe(ctx context.Context, sub bus.Subscriber) error {
	if err := sub.Subscribe(ctx, bus.TopicCleanedPrices, ConsumerPrices, s.Handle); err != nil {
		return err
	}
	return sub.Subscribe(ctx, bus.TopicCleanedStations, ConsumerStations, s.Handle)
}

// Handle stores one cleaned message. Undecodable payloads are logged and
// acknowledged; store failures are returned so the transport redelivers.
func (s *Sink) Handle(ctx context.Context, msg bus.Message) error {
	kind := msg.Kind
	if !kind.Valid() {
		kind = Classify(msg.Payload)
	}

	log := s.log.WithFields(logrus.Fields{"topic": string(msg.Topic), "kind": string(kind)})

	switch kind {
	case models.KindPrice:
		var rec models.PriceRecord
		if err := json.Unmarshal(msg.Payload, &rec); err != nil {
			log.WithError(err).Error("undecodable price record dropped")
			return nil
		}
		return s.write(ctx, log, "prices", func(ctx context.Context) error {
			return s.w.InsertPrices(ctx, []models.PriceRecord{rec})
		})
	case models.KindStation:
		var rec models.StationRecord
		if err := json.Unmarshal(msg.Payload, &rec); err != nil {
			log.WithError(err).Error("undecodable station record dropped")
			return nil
		}
		return s.write(ctx, log, "stations", func(ctx context.Context) error {
			return s.w.InsertStations(ctx, []models.StationRecord{rec})
		})
	default:
		log.WithError(models.ErrUnknownKind).WithField("payload", string(msg.Payload)).Warn("message of unknown shape dropped")
		return nil
	}
}

func (s *Sink) write(ctx context.Context, log *logrus.Entry, table string, insert func(context.Context) error) error {
	if s.opts.DryRun || s.w == nil {
		log.WithField("table", table).Debug("dry-run: skipping insert")
		return nil
	}

	err := s.opts.Retry.Do(ctx, log, "insert into "+table, func() error {
		return insert(ctx)
	})
	if err != nil {
		s.metrics.WriteFailures.WithLabelValues(table).Inc()
		return fmt.Errorf("write %s: %w", table, err)
	}
	s.metrics.RowsWritten.WithLabelValues(table).Inc()
	return nil
}

// Classify infers the record kind from the payload keys when the kind
// header is missing.
func Classify(payload []byte) models.Kind {
	if !gjson.ValidBytes(payload) {
		return ""
	}
	// Keys may contain dots, so look them up by iteration rather than path.
	var hasCode, hasStationCode bool
	gjson.ParseBytes(payload).ForEach(func(key, _ gjson.Result) bool {
		switch key.String() {
		case models.FieldCode:
			hasCode = true
		case models.FieldStationCode:
			hasStationCode = true
		}
		return true
	})
	switch {
	case hasCode:
		return models.KindStation
	case hasStationCode:
		return models.KindPrice
	default:
		return ""
	}
}
