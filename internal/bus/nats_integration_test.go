//go:build integration

package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/logging"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

func startNATSWithJS(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:latest",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForListeningPort("4222/tcp"),
			Cmd:          []string{"-js"},
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestIntegration_NATSPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	url := startNATSWithJS(ctx, t)

	nb, err := ConnectNATS(ctx, NATSConfig{URL: url, Stream: "FUELTEST", NakDelay: 50 * time.Millisecond}, logging.Discard())
	require.NoError(t, err)
	defer nb.Close(ctx)

	var mu sync.Mutex
	var got []Message
	attempts := 0
	require.NoError(t, nb.Subscribe(ctx, TopicRawPrices, "test-prices", func(_ context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return fmt.Errorf("first delivery fails")
		}
		got = append(got, msg)
		return nil
	}))

	require.NoError(t, nb.Publish(ctx, TopicRawPrices, models.KindPrice, []byte(`{"stationcode":"A1"}`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 10*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.KindPrice, got[0].Kind)
	assert.JSONEq(t, `{"stationcode":"A1"}`, string(got[0].Payload))
	assert.Equal(t, 2, attempts)
}

func TestIntegration_NATSEphemeralReplay(t *testing.T) {
	ctx := context.Background()
	url := startNATSWithJS(ctx, t)

	nb, err := ConnectNATS(ctx, NATSConfig{URL: url, Stream: "FUELTEST"}, logging.Discard())
	require.NoError(t, err)
	defer nb.Close(ctx)

	require.NoError(t, nb.Publish(ctx, TopicCleanedStations, models.KindStation, []byte(`{"code":"A1"}`)))
	require.NoError(t, nb.Publish(ctx, TopicCleanedStations, models.KindStation, []byte(`{"code":"B2"}`)))

	var mu sync.Mutex
	count := 0
	require.NoError(t, nb.Subscribe(ctx, TopicCleanedStations, "", func(context.Context, Message) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, 10*time.Second, 50*time.Millisecond)
}

func TestIntegration_NATSPurgeLimitsReplay(t *testing.T) {
	ctx := context.Background()
	url := startNATSWithJS(ctx, t)

	nb, err := ConnectNATS(ctx, NATSConfig{URL: url, Stream: "FUELTEST"}, logging.Discard())
	require.NoError(t, err)
	defer nb.Close(ctx)

	require.NoError(t, nb.Publish(ctx, TopicCleanedPrices, models.KindPrice, []byte(`{"stationcode":"OLD"}`)))
	require.NoError(t, nb.Purge(ctx))
	require.NoError(t, nb.Publish(ctx, TopicCleanedPrices, models.KindPrice, []byte(`{"stationcode":"NEW"}`)))

	var mu sync.Mutex
	var payloads []string
	require.NoError(t, nb.Subscribe(ctx, TopicCleanedPrices, "", func(_ context.Context, msg Message) error {
		mu.Lock()
		payloads = append(payloads, string(msg.Payload))
		mu.Unlock()
		return nil
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(payloads) == 1
	}, 10*time.Second, 50*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"stationcode":"NEW"}`}, payloads)
}
