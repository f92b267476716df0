package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/logging"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

type flakyPublisher struct {
	failures int
	calls    int
}

func (f *flakyPublisher) Publish(context.Context, Topic, models.Kind, []byte) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("unavailable")
	}
	return nil
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryingPublisherRecovers(t *testing.T) {
	next := &flakyPublisher{failures: 2}
	p := WithRetry(next, fastPolicy(5), logging.Discard())

	assert.NoError(t, p.Publish(context.Background(), TopicRawPrices, models.KindPrice, []byte(`{}`)))
	assert.Equal(t, 3, next.calls)
}

func TestRetryingPublisherGivesUp(t *testing.T) {
	next := &flakyPublisher{failures: 10}
	p := WithRetry(next, fastPolicy(3), logging.Discard())

	assert.Error(t, p.Publish(context.Background(), TopicRawPrices, models.KindPrice, []byte(`{}`)))
	assert.Equal(t, 3, next.calls)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fastPolicy(5).Do(ctx, logging.Discard(), "op", func() error {
		calls++
		return errors.New("fail")
	})
	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
