package utils

import (
	"fmt"
	"sort"
	"time"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

// PriceTimestamp parses the lastupdated field of a raw price record.
func PriceTimestamp(rec models.RawRecord) (time.Time, error) {
	v := rec.Get(models.FieldLastUpdated)
	if !v.Exists() {
		return time.Time{}, models.ErrMissingField
	}
	ts, err := models.ParseTimestamp(v.String())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: lastupdated %q", models.ErrType, v.String())
	}
	return ts.Time, nil
}

// StationCode returns the dedup identity of a raw station record.
func StationCode(rec models.RawRecord) (string, bool) {
	return rec.Text(models.FieldCode)
}

// TimedPrice pairs a raw price record with its parsed timestamp.
type TimedPrice struct {
	Record models.RawRecord
	TS     time.Time
}

// TimedPrices parses every price timestamp; records that do not parse are
// returned separately.
func TimedPrices(prices []models.RawRecord) (timed []TimedPrice, invalid int) {
	timed = make([]TimedPrice, 0, len(prices))
	for _, rec := range prices {
		ts, err := PriceTimestamp(rec)
		if err != nil {
			invalid++
			continue
		}
		timed = append(timed, TimedPrice{Record: rec, TS: ts})
	}
	return timed, invalid
}

// InvalidPrice is a price record whose lastupdated cannot be parsed.
type InvalidPrice struct {
	Record models.RawRecord
	Err    error
}

// UnparsablePrices returns the price records TimedPrices would skip, with
// the parse error of each.
func UnparsablePrices(prices []models.RawRecord) []InvalidPrice {
	var out []InvalidPrice
	for _, rec := range prices {
		if _, err := PriceTimestamp(rec); err != nil {
			out = append(out, InvalidPrice{Record: rec, Err: err})
		}
	}
	return out
}

// FilterRecentPrices keeps the prices whose lastupdated is strictly within
// window of the newest lastupdated in the snapshot, sorted oldest first. The
// window is anchored on the data, not the wall clock, because the feed lags.
// Stations are passed through untouched.
func FilterRecentPrices(snap models.Snapshot, window time.Duration) (models.Snapshot, int) {
	timed, invalid := TimedPrices(snap.Prices)

	out := models.Snapshot{
		Stations:  snap.Stations,
		FetchedAt: snap.FetchedAt,
		Prices:    make([]models.RawRecord, 0, len(timed)),
	}
	if len(timed) == 0 {
		return out, invalid
	}

	latest := timed[0].TS
	for _, tp := range timed[1:] {
		if tp.TS.After(latest) {
			latest = tp.TS
		}
	}
	cutoff := latest.Add(-window)

	recent := make([]TimedPrice, 0, len(timed))
	for _, tp := range timed {
		if tp.TS.After(cutoff) {
			recent = append(recent, tp)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].TS.Before(recent[j].TS) })

	for _, tp := range recent {
		out.Prices = append(out.Prices, tp.Record)
	}
	return out, invalid
}

// LatestPriceTime returns the newest lastupdated among prices.
func LatestPriceTime(prices []models.RawRecord) (time.Time, bool) {
	timed, _ := TimedPrices(prices)
	if len(timed) == 0 {
		return time.Time{}, false
	}
	latest := timed[0].TS
	for _, tp := range timed[1:] {
		if tp.TS.After(latest) {
			latest = tp.TS
		}
	}
	return latest, true
}
