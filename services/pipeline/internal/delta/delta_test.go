package delta

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/bus"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/logging"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/metrics"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/fetcher"
)

func price(t *testing.T, code, ts string) models.RawRecord {
	t.Helper()
	rec, err := models.Flatten(gjson.Parse(fmt.Sprintf(
		`{"stationcode":%q,"fueltype":"E10","price":1.5,"lastupdated":%q}`, code, ts)))
	require.NoError(t, err)
	return rec
}

func station(t *testing.T, code string) models.RawRecord {
	t.Helper()
	rec, err := models.Flatten(gjson.Parse(fmt.Sprintf(
		`{"code":%q,"brand":"Shell","location":{"latitude":-33.8,"longitude":151.2}}`, code)))
	require.NoError(t, err)
	return rec
}

func TestSelectPricesIsIdempotent(t *testing.T) {
	w := NewWatermarks()
	prices := []models.RawRecord{
		price(t, "A1", "01/06/2024 08:00:00"),
		price(t, "A2", "01/06/2024 09:00:00"),
	}

	first, invalid := w.SelectPrices(prices)
	assert.Zero(t, invalid)
	assert.Len(t, first, 2)

	second, _ := w.SelectPrices(prices)
	assert.Empty(t, second)

	mark, ok := w.PriceWatermark()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), mark)
}

func TestSelectPricesStrictlyAfterCursor(t *testing.T) {
	w := NewWatermarks()
	w.SelectPrices([]models.RawRecord{price(t, "A1", "01/06/2024 08:00:00")})

	// Same instant as the cursor is suppressed even for another station.
	got, _ := w.SelectPrices([]models.RawRecord{
		price(t, "B1", "01/06/2024 08:00:00"),
		price(t, "B2", "01/06/2024 08:00:01"),
	})
	require.Len(t, got, 1)
	assert.Equal(t, "B2", got[0].Record.Get(models.FieldStationCode).String())
}

func TestSelectPricesSkipsUnparsable(t *testing.T) {
	w := NewWatermarks()
	got, invalid := w.SelectPrices([]models.RawRecord{price(t, "A1", "yesterday")})
	assert.Empty(t, got)
	assert.Equal(t, 1, invalid)
	_, ok := w.PriceWatermark()
	assert.False(t, ok)
}

func TestSelectStationsOncePerCode(t *testing.T) {
	w := NewWatermarks()

	got, skipped := w.SelectStations([]models.RawRecord{station(t, "A1"), station(t, "A1"), station(t, "B2")})
	assert.Zero(t, skipped)
	assert.Len(t, got, 2)

	got, _ = w.SelectStations([]models.RawRecord{station(t, "A1"), station(t, "C3")})
	require.Len(t, got, 1)
	assert.True(t, w.StationPublished("C3"))
	assert.Equal(t, 3, w.StationCount())

	got, skipped = w.SelectStations([]models.RawRecord{{}})
	assert.Empty(t, got)
	assert.Equal(t, 1, skipped)
}

func TestConcurrentSelectStationsNeverDuplicates(t *testing.T) {
	w := NewWatermarks()
	snapshot := make([]models.RawRecord, 0, 50)
	for i := 0; i < 50; i++ {
		snapshot = append(snapshot, station(t, fmt.Sprintf("S%02d", i)))
	}

	var total atomic.Int64
	seen := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 20; round++ {
				selected, _ := w.SelectStations(snapshot)
				total.Add(int64(len(selected)))
				mu.Lock()
				for _, rec := range selected {
					code, _ := rec.Text(models.FieldCode)
					seen[code]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), total.Load())
	assert.Len(t, seen, 50)
	for code, n := range seen {
		assert.Equal(t, 1, n, code)
	}
	assert.Equal(t, 50, w.StationCount())
}

func TestConcurrentSelectPricesNeverDuplicates(t *testing.T) {
	w := NewWatermarks()
	snapshot := make([]models.RawRecord, 0, 30)
	for i := 0; i < 30; i++ {
		snapshot = append(snapshot, price(t, fmt.Sprintf("A%02d", i), fmt.Sprintf("01/06/2024 08:%02d:00", i)))
	}

	var mu sync.Mutex
	seen := make(map[time.Time]int)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 20; round++ {
				selected, _ := w.SelectPrices(snapshot)
				mu.Lock()
				for _, tp := range selected {
					seen[tp.TS]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := 0
	for ts, n := range seen {
		assert.Equal(t, 1, n, ts.String())
		total += n
	}
	assert.Equal(t, 30, total)

	mark, ok := w.PriceWatermark()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 6, 1, 8, 29, 0, 0, time.UTC), mark)
}

func TestPricePublisherPublishesEachRecord(t *testing.T) {
	ctx := context.Background()
	mem := bus.NewMemory()
	p := NewPricePublisher(NewWatermarks(), mem, logging.Discard(), metrics.New())

	snap := models.Snapshot{Prices: []models.RawRecord{
		price(t, "A1", "01/06/2024 08:00:00"),
		price(t, "A2", "01/06/2024 08:30:00"),
	}}
	n, err := p.PublishSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msgs := mem.Messages(bus.TopicRawPrices)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.KindPrice, msgs[0].Kind)
	assert.Equal(t, "01/06/2024 08:00:00", gjson.GetBytes(msgs[0].Payload, "lastupdated").String())

	n, err = p.PublishSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, mem.Count(bus.TopicRawPrices))
}

func TestStationPublisherKeepsDottedKeys(t *testing.T) {
	ctx := context.Background()
	mem := bus.NewMemory()
	s := NewStationPublisher(NewWatermarks(), mem, logging.Discard(), metrics.New())

	n, err := s.PublishSnapshot(ctx, models.Snapshot{Stations: []models.RawRecord{station(t, "A1")}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := mem.Messages(bus.TopicRawStations)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.KindStation, msgs[0].Kind)
	assert.Equal(t, -33.8, gjson.GetBytes(msgs[0].Payload, `location\.latitude`).Float())
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, bus.Topic, models.Kind, []byte) error {
	return errors.New("broker down")
}

func TestPublishFailureIsReportedButWatermarkAdvances(t *testing.T) {
	marks := NewWatermarks()
	p := NewPricePublisher(marks, failingPublisher{}, logging.Discard(), metrics.New())

	n, err := p.PublishSnapshot(context.Background(), models.Snapshot{Prices: []models.RawRecord{price(t, "A1", "01/06/2024 08:00:00")}})
	assert.Error(t, err)
	assert.Zero(t, n)
	_, ok := marks.PriceWatermark()
	assert.True(t, ok)
}

func TestRunFollowsSlotVersions(t *testing.T) {
	mem := bus.NewMemory()
	slot := fetcher.NewSlot()
	marks := NewWatermarks()
	s := NewStationPublisher(marks, mem, logging.Discard(), metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, slot) }()

	slot.Store(models.Snapshot{Stations: []models.RawRecord{station(t, "A1")}})
	require.Eventually(t, func() bool { return mem.Count(bus.TopicRawStations) == 1 }, time.Second, 5*time.Millisecond)

	slot.Store(models.Snapshot{Stations: []models.RawRecord{station(t, "A1"), station(t, "B2")}})
	require.Eventually(t, func() bool { return mem.Count(bus.TopicRawStations) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}
