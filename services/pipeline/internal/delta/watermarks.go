package delta

import (
	"sync"
	"time"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/pipeline/internal/utils"
)

// Watermarks remembers what has already been forwarded downstream: a single
// stream-level cursor for prices and the set of station codes. Both live in
// process memory only and are guarded by one mutex, so selection and
// advancement happen atomically.
//
// The station set grows without bound for the lifetime of the process.
type Watermarks struct {
	mu           sync.Mutex
	lastPrice    time.Time
	hasPrice     bool
	stationCodes map[string]struct{}
}

// NewWatermarks returns empty watermarks.
func NewWatermarks() *Watermarks {
	return &Watermarks{stationCodes: make(map[string]struct{})}
}

// SelectPrices returns the prices strictly newer than the cursor and
// advances the cursor to the newest selected timestamp. A record whose
// timestamp equals the cursor is never selected again.
func (w *Watermarks) SelectPrices(prices []models.RawRecord) (selected []utils.TimedPrice, invalid int) {
	timed, invalid := utils.TimedPrices(prices)

	w.mu.Lock()
	defer w.mu.Unlock()

	var newest time.Time
	for _, tp := range timed {
		if w.hasPrice && !tp.TS.After(w.lastPrice) {
			continue
		}
		selected = append(selected, tp)
		if len(selected) == 1 || tp.TS.After(newest) {
			newest = tp.TS
		}
	}
	if len(selected) > 0 {
		w.lastPrice = newest
		w.hasPrice = true
	}
	return selected, invalid
}

// SelectStations returns the stations whose code has not been forwarded yet
// and marks them forwarded. Records without a code are counted in skipped.
func (w *Watermarks) SelectStations(stations []models.RawRecord) (selected []models.RawRecord, skipped int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, rec := range stations {
		code, ok := utils.StationCode(rec)
		if !ok {
			skipped++
			continue
		}
		if _, seen := w.stationCodes[code]; seen {
			continue
		}
		w.stationCodes[code] = struct{}{}
		selected = append(selected, rec)
	}
	return selected, skipped
}

// PriceWatermark returns the price cursor; ok is false until something was selected.
func (w *Watermarks) PriceWatermark() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPrice, w.hasPrice
}

// StationPublished reports whether code has been forwarded.
func (w *Watermarks) StationPublished(code string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.stationCodes[code]
	return ok
}

// StationCount returns how many distinct codes were forwarded.
func (w *Watermarks) StationCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.stationCodes)
}
