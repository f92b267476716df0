package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

// ErrClosed is returned once the bus has been closed.
var ErrClosed = errors.New("bus is closed")

// NATSConfig configures the JetStream transport.
type NATSConfig struct {
	URL            string
	ClientName     string
	Stream         string
	MaxAge         time.Duration
	AckWait        time.Duration
	MaxDeliver     int
	NakDelay       time.Duration
	HandlerTimeout time.Duration
	DrainTimeout   time.Duration
}

func (c *NATSConfig) applyDefaults() {
	if c.Stream == "" {
		c.Stream = "FUEL"
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = 10
	}
	if c.NakDelay <= 0 {
		c.NakDelay = 2 * time.Second
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
}

// NATS is a Bus backed by a JetStream stream covering raw.> and cleaned.>.
// Publishes wait for the server ack and consumers ack explicitly, which
// gives at-least-once delivery.
type NATS struct {
	cfg  NATSConfig
	conn *nats.Conn
	js   jetstream.JetStream
	log  *logrus.Entry

	mu        sync.Mutex
	consumers []jetstream.ConsumeContext
	closed    bool
}

// ConnectNATS dials the server and makes sure the stream exists.
func ConnectNATS(ctx context.Context, cfg NATSConfig, log logrus.FieldLogger) (*NATS, error) {
	cfg.applyDefaults()
	entry := log.WithField("component", "bus")

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				entry.WithError(err).Warn("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			entry.WithField("url", c.ConnectedUrl()).Info("reconnected to NATS")
		}),
	}
	if cfg.ClientName != "" {
		opts = append(opts, nats.Name(cfg.ClientName))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{"raw.>", "cleaned.>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    cfg.MaxAge,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	entry.WithFields(logrus.Fields{"url": cfg.URL, "stream": cfg.Stream}).Info("connected to NATS")
	return &NATS{cfg: cfg, conn: conn, js: js, log: entry}, nil
}

// Publish implements Publisher.
func (n *NATS) Publish(ctx context.Context, topic Topic, kind models.Kind, payload []byte) error {
	if n.isClosed() {
		return ErrClosed
	}
	msg := nats.NewMsg(topic.Subject())
	msg.Data = payload
	msg.Header.Set(HeaderKind, string(kind))

	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements Subscriber.
func (n *NATS) Subscribe(ctx context.Context, topic Topic, consumer string, handler Handler) error {
	if n.isClosed() {
		return ErrClosed
	}

	cfg := jetstream.ConsumerConfig{
		FilterSubject: topic.Subject(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       n.cfg.AckWait,
		MaxDeliver:    n.cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if consumer == "" {
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	} else {
		cfg.Durable = consumer
	}

	cons, err := n.js.CreateOrUpdateConsumer(ctx, n.cfg.Stream, cfg)
	if err != nil {
		return fmt.Errorf("create consumer %q on %s: %w", consumer, topic, err)
	}

	log := n.log.WithFields(logrus.Fields{"topic": string(topic), "consumer": consumer})
	cc, err := cons.Consume(func(m jetstream.Msg) {
		msg := Message{
			Topic:   topic,
			Kind:    models.Kind(m.Headers().Get(HeaderKind)),
			Payload: m.Data(),
		}

		hctx, cancel := context.WithTimeout(ctx, n.cfg.HandlerTimeout)
		herr := handler(hctx, msg)
		cancel()

		if herr != nil {
			log.WithError(herr).Warn("handler failed, requesting redelivery")
			if err := m.NakWithDelay(n.cfg.NakDelay); err != nil {
				log.WithError(err).Error("nak failed")
			}
			return
		}
		if err := m.Ack(); err != nil {
			log.WithError(err).Error("ack failed")
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", topic, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		cc.Stop()
		return ErrClosed
	}
	n.consumers = append(n.consumers, cc)
	log.Info("subscribed")
	return nil
}

// Purge removes every retained message from the stream, so replaying
// consumers created afterwards only see what is published from now on.
func (n *NATS) Purge(ctx context.Context) error {
	if n.isClosed() {
		return ErrClosed
	}
	stream, err := n.js.Stream(ctx, n.cfg.Stream)
	if err != nil {
		return fmt.Errorf("lookup stream %s: %w", n.cfg.Stream, err)
	}
	if err := stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge stream %s: %w", n.cfg.Stream, err)
	}
	n.log.WithField("stream", n.cfg.Stream).Info("stream purged")
	return nil
}

// StopConsuming stops every consumer while leaving publishing available,
// so stages can flush their buffers during shutdown.
func (n *NATS) StopConsuming() {
	n.mu.Lock()
	consumers := n.consumers
	n.consumers = nil
	n.mu.Unlock()

	for _, cc := range consumers {
		cc.Stop()
	}
}

// Close stops consumers and drains the connection.
func (n *NATS) Close(ctx context.Context) error {
	n.StopConsuming()

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- n.conn.Drain() }()

	select {
	case err := <-done:
		if err != nil {
			n.conn.Close()
			return fmt.Errorf("drain nats: %w", err)
		}
		return nil
	case <-ctx.Done():
		n.conn.Close()
		return fmt.Errorf("drain nats: %w", ctx.Err())
	}
}

func (n *NATS) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}
