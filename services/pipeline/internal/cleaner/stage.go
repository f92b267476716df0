package cleaner

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/bus"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/metrics"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/queue"
)

// cleanFunc validates one payload. keep=false with a nil error means the
// record was valid but filtered out.
type cleanFunc[T any] func(payload []byte) (rec T, keep bool, err error)

// Stage consumes one raw topic, cleans each record into its own buffer and
// republishes the buffer onto the matching cleaned topic.
type Stage[T any] struct {
	kind     models.Kind
	in       bus.Topic
	out      bus.Topic
	consumer string
	clean    cleanFunc[T]

	buf          *queue.Buffer[T]
	pub          bus.Publisher
	drainTimeout time.Duration
	log          *logrus.Entry
	metrics      *metrics.Metrics
}

// NewPriceStage builds the raw/prices -> cleaned/prices stage.
func NewPriceStage(pub bus.Publisher, drainTimeout time.Duration, log logrus.FieldLogger, m *metrics.Metrics) *Stage[models.PriceRecord] {
	return newStage[models.PriceRecord](models.KindPrice, bus.TopicRawPrices, bus.TopicCleanedPrices, "cleaner-prices",
		CleanPrice, pub, drainTimeout, log, m)
}

// NewStationStage builds the raw/stations -> cleaned/stations stage.
func NewStationStage(pub bus.Publisher, drainTimeout time.Duration, log logrus.FieldLogger, m *metrics.Metrics) *Stage[models.StationRecord] {
	clean := func(payload []byte) (models.StationRecord, bool, error) {
		rec, err := CleanStation(payload)
		return rec, err == nil, err
	}
	return newStage[models.StationRecord](models.KindStation, bus.TopicRawStations, bus.TopicCleanedStations, "cleaner-stations",
		clean, pub, drainTimeout, log, m)
}

func newStage[T any](kind models.Kind, in, out bus.Topic, consumer string, clean cleanFunc[T],
	pub bus.Publisher, drainTimeout time.Duration, log logrus.FieldLogger, m *metrics.Metrics) *Stage[T] {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	return &Stage[T]{
		kind:         kind,
		in:           in,
		out:          out,
		consumer:     consumer,
		clean:        clean,
		buf:          queue.New[T](),
		pub:          pub,
		drainTimeout: drainTimeout,
		log:          log.WithFields(logrus.Fields{"component": "cleaner", "kind": string(kind)}),
		metrics:      m,
	}
}

// Subscribe attaches the stage to its raw topic.
func (s *Stage[T]) Subscribe(ctx context.Context, sub bus.Subscriber) error {
	return sub.Subscribe(ctx, s.in, s.consumer, s.Handle)
}

// Handle validates one raw message. Rejected records are logged and
// acknowledged; they are never retried.
func (s *Stage[T]) Handle(_ context.Context, msg bus.Message) error {
	if msg.Kind != "" && msg.Kind != s.kind {
		s.log.WithField("got", string(msg.Kind)).Warn("ignoring message of unexpected kind")
		return nil
	}

	rec, keep, err := s.clean(msg.Payload)
	if err != nil {
		s.metrics.Rejected.WithLabelValues(string(s.kind), models.ReasonLabel(err)).Inc()
		s.log.WithError(err).WithField("payload", string(msg.Payload)).Warn("removed invalid record")
		return nil
	}
	if !keep {
		s.metrics.Dropped.WithLabelValues(string(s.kind)).Inc()
		return nil
	}

	s.metrics.Accepted.WithLabelValues(string(s.kind)).Inc()
	s.buf.Push(rec)
	s.metrics.BufferDepth.WithLabelValues(string(s.kind)).Set(float64(s.buf.Len()))
	return nil
}

// Flush drains the buffer and publishes every record onto the cleaned topic.
func (s *Stage[T]) Flush(ctx context.Context) (int, error) {
	batch := s.buf.Drain()
	s.metrics.BufferDepth.WithLabelValues(string(s.kind)).Set(0)

	sent := 0
	var errs []error
	for _, rec := range batch {
		if err := bus.PublishJSON(ctx, s.pub, s.out, s.kind, rec); err != nil {
			s.metrics.PublishFailures.WithLabelValues(string(s.out)).Inc()
			s.log.WithError(err).Error("publish cleaned record failed, record lost")
			errs = append(errs, err)
			continue
		}
		s.metrics.Published.WithLabelValues(string(s.out)).Inc()
		sent++
	}
	return sent, errors.Join(errs...)
}

// RunPublisher publishes whatever is buffered each time the buffer signals,
// and drains the remainder once ctx ends.
func (s *Stage[T]) RunPublisher(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
			n, err := s.Flush(drainCtx)
			cancel()
			s.log.WithField("drained", n).Info("cleaned publisher stopped")
			return err
		case <-s.buf.Ready():
			if n, err := s.Flush(ctx); err != nil {
				s.log.WithError(err).WithField("published", n).Warn("cleaned batch partially published")
			}
		}
	}
}

// Pending returns the number of buffered records.
func (s *Stage[T]) Pending() int {
	return s.buf.Len()
}
