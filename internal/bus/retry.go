package bus

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

// RetryPolicy bounds exponential backoff for transport and store calls.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy is used when a component is given a zero policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

// Backoff builds a context-aware backoff from the policy.
func (p RetryPolicy) Backoff(ctx context.Context) backoff.BackOff {
	if p.MaxAttempts <= 0 {
		p = DefaultRetryPolicy()
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialDelay
	exp.MaxInterval = p.MaxDelay
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// Do runs op until it succeeds, the attempts run out or ctx ends.
func (p RetryPolicy) Do(ctx context.Context, log logrus.FieldLogger, what string, op func() error) error {
	return backoff.RetryNotify(op, p.Backoff(ctx), func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait).Warnf("%s failed, retrying", what)
	})
}

// RetryingPublisher wraps a Publisher with backoff.
type RetryingPublisher struct {
	next   Publisher
	policy RetryPolicy
	log    logrus.FieldLogger
}

// WithRetry decorates p so transient publish failures are retried.
func WithRetry(p Publisher, policy RetryPolicy, log logrus.FieldLogger) *RetryingPublisher {
	return &RetryingPublisher{next: p, policy: policy, log: log}
}

// Publish implements Publisher.
func (r *RetryingPublisher) Publish(ctx context.Context, topic Topic, kind models.Kind, payload []byte) error {
	return r.policy.Do(ctx, r.log.WithField("topic", string(topic)), "publish", func() error {
		return r.next.Publish(ctx, topic, kind, payload)
	})
}
