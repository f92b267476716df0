package utils

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

func price(t *testing.T, code, ts string) models.RawRecord {
	t.Helper()
	rec, err := models.Flatten(gjson.Parse(fmt.Sprintf(
		`{"stationcode":%q,"fueltype":"E10","price":1.5,"lastupdated":%q}`, code, ts)))
	require.NoError(t, err)
	return rec
}

func codes(prices []models.RawRecord) []string {
	out := make([]string, 0, len(prices))
	for _, p := range prices {
		out = append(out, p.Get(models.FieldStationCode).String())
	}
	return out
}

func TestFilterRecentPricesAnchorsOnNewest(t *testing.T) {
	snap := models.Snapshot{
		Prices: []models.RawRecord{
			price(t, "new", "31/07/2024 12:00:00"),
			price(t, "old", "01/06/2024 12:00:00"),
			price(t, "edge", "01/07/2024 12:00:00"),
			price(t, "mid", "15/07/2024 09:30:00"),
		},
		Stations: []models.RawRecord{{}},
	}

	out, invalid := FilterRecentPrices(snap, 30*24*time.Hour)
	assert.Zero(t, invalid)
	// edge sits exactly on the cutoff and is excluded.
	assert.Equal(t, []string{"mid", "new"}, codes(out.Prices))
	assert.Len(t, out.Stations, 1)
}

func TestFilterRecentPricesDropsUnparsable(t *testing.T) {
	snap := models.Snapshot{Prices: []models.RawRecord{
		price(t, "ok", "01/06/2024 08:00:00"),
		price(t, "bad", "2024-06-01 08:00"),
	}}

	out, invalid := FilterRecentPrices(snap, time.Hour)
	assert.Equal(t, 1, invalid)
	assert.Equal(t, []string{"ok"}, codes(out.Prices))
}

func TestUnparsablePricesKeepsReason(t *testing.T) {
	missing, err := models.Flatten(gjson.Parse(`{"stationcode":"none"}`))
	require.NoError(t, err)
	prices := []models.RawRecord{
		price(t, "ok", "01/06/2024 08:00:00"),
		price(t, "bad", "2024-06-01 08:00"),
		missing,
	}

	bad := UnparsablePrices(prices)
	require.Len(t, bad, 2)
	assert.ErrorIs(t, bad[0].Err, models.ErrType)
	assert.Equal(t, "bad", bad[0].Record.Get(models.FieldStationCode).String())
	assert.ErrorIs(t, bad[1].Err, models.ErrMissingField)
	assert.Empty(t, UnparsablePrices(prices[:1]))
}

func TestFilterRecentPricesEmpty(t *testing.T) {
	out, invalid := FilterRecentPrices(models.Snapshot{}, time.Hour)
	assert.Zero(t, invalid)
	assert.Empty(t, out.Prices)
}

func TestFilterRecentPricesStableForTies(t *testing.T) {
	snap := models.Snapshot{Prices: []models.RawRecord{
		price(t, "b", "01/06/2024 08:00:00"),
		price(t, "a", "01/06/2024 08:00:00"),
	}}
	out, _ := FilterRecentPrices(snap, time.Hour)
	assert.Equal(t, []string{"b", "a"}, codes(out.Prices))
}

func TestPriceTimestamp(t *testing.T) {
	ts, err := PriceTimestamp(price(t, "A1", "01/06/2024 08:00:00"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), ts)

	_, err = PriceTimestamp(models.RawRecord{})
	assert.ErrorIs(t, err, models.ErrMissingField)
}

func TestLatestPriceTime(t *testing.T) {
	latest, ok := LatestPriceTime([]models.RawRecord{
		price(t, "a", "01/06/2024 08:00:00"),
		price(t, "b", "02/06/2024 08:00:00"),
	})
	require.True(t, ok)
	assert.Equal(t, 2, latest.Day())

	_, ok = LatestPriceTime(nil)
	assert.False(t, ok)
}

func TestStationCodeAcceptsNumbers(t *testing.T) {
	rec, err := models.Flatten(gjson.Parse(`{"code":1234}`))
	require.NoError(t, err)
	code, ok := StationCode(rec)
	assert.True(t, ok)
	assert.Equal(t, "1234", code)
}
