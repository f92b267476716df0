// Package bus is the topic-addressed publish/subscribe transport between
// pipeline stages. Payloads are bare JSON records; the record kind travels
// in a message header.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

// HeaderKind carries the record kind next to the payload.
const HeaderKind = "Fuel-Kind"

// Topic is a slash-separated logical topic name.
type Topic string

const (
	TopicRawPrices       Topic = "raw/prices"
	TopicRawStations     Topic = "raw/stations"
	TopicCleanedPrices   Topic = "cleaned/prices"
	TopicCleanedStations Topic = "cleaned/stations"
)

// Subject maps the topic onto a NATS subject (raw/prices -> raw.prices).
func (t Topic) Subject() string {
	return strings.ReplaceAll(strings.Trim(string(t), "/"), "/", ".")
}

// Message is one delivery from the transport.
type Message struct {
	Topic   Topic
	Kind    models.Kind
	Payload []byte
}

// Handler processes a delivery. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, kind models.Kind, payload []byte) error
}

// Subscriber registers handlers on a topic. An empty consumer name creates an
// ephemeral consumer that replays the retained history of the topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic Topic, consumer string, handler Handler) error
}

// Bus is both sides of the transport.
type Bus interface {
	Publisher
	Subscriber
	Close(ctx context.Context) error
}

// PublishJSON encodes v and publishes it.
func PublishJSON(ctx context.Context, p Publisher, topic Topic, kind models.Kind, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return p.Publish(ctx, topic, kind, payload)
}
