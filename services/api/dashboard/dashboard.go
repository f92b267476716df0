// Package dashboard keeps in-memory views of the cleaned topics for the
// realtime endpoints.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/bus"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

// Average is the mean price of one fuel type.
type Average struct {
	FuelType string          `json:"fueltype"`
	Price    decimal.Decimal `json:"price"`
	Samples  int             `json:"samples"`
}

// Point is one observation in a trend series.
type Point struct {
	TS    time.Time       `json:"ts"`
	Price decimal.Decimal `json:"price"`
}

// Series is the time-sorted trend of one fuel type.
type Series struct {
	FuelType string  `json:"fueltype"`
	Points   []Point `json:"points"`
}

// FuelPrice is the latest price for a fuel type at a station.
type FuelPrice struct {
	FuelType    string           `json:"fueltype"`
	Price       decimal.Decimal  `json:"price"`
	LastUpdated models.Timestamp `json:"lastupdated"`
}

// MapStation is a station with its latest prices.
type MapStation struct {
	models.StationRecord
	Prices []FuelPrice `json:"prices"`
}

// Event is what websocket clients receive for each cleaned record.
type Event struct {
	Kind   models.Kind     `json:"kind"`
	Record json.RawMessage `json:"record"`
}

// Dashboard accumulates every cleaned price and the latest copy of each station.
type Dashboard struct {
	hub *Hub
	log *logrus.Entry

	mu       sync.RWMutex
	prices   []models.PriceRecord
	stations map[string]models.StationRecord
}

// New constructs a dashboard; hub may be nil.
func New(hub *Hub, log logrus.FieldLogger) *Dashboard {
	return &Dashboard{
		hub:      hub,
		log:      log.WithField("component", "dashboard"),
		stations: make(map[string]models.StationRecord),
	}
}

// Subscribe attaches ephemeral consumers to both cleaned topics. They replay
// retained history first so a restarted dashboard is not empty.
func (d *Dashboard) Subscribe(ctx context.Context, sub bus.Subscriber) error {
	if err := sub.Subscribe(ctx, bus.TopicCleanedPrices, "", d.HandlePrice); err != nil {
		return fmt.Errorf("subscribe cleaned prices: %w", err)
	}
	if err := sub.Subscribe(ctx, bus.TopicCleanedStations, "", d.HandleStation); err != nil {
		return fmt.Errorf("subscribe cleaned stations: %w", err)
	}
	return nil
}

// HandlePrice records one cleaned price.
func (d *Dashboard) HandlePrice(_ context.Context, msg bus.Message) error {
	var rec models.PriceRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		d.log.WithError(err).Warn("undecodable cleaned price ignored")
		return nil
	}
	d.mu.Lock()
	d.prices = append(d.prices, rec)
	d.mu.Unlock()

	d.broadcast(models.KindPrice, msg.Payload)
	return nil
}

// HandleStation records one cleaned station; a later copy replaces an earlier one.
func (d *Dashboard) HandleStation(_ context.Context, msg bus.Message) error {
	var rec models.StationRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		d.log.WithError(err).Warn("undecodable cleaned station ignored")
		return nil
	}
	d.mu.Lock()
	d.stations[rec.Code] = rec
	d.mu.Unlock()

	d.broadcast(models.KindStation, msg.Payload)
	return nil
}

func (d *Dashboard) broadcast(kind models.Kind, payload []byte) {
	if d.hub == nil {
		return
	}
	data, err := json.Marshal(Event{Kind: kind, Record: payload})
	if err != nil {
		return
	}
	d.hub.Broadcast(data)
}

// Counts returns how many prices and stations are held.
func (d *Dashboard) Counts() (prices, stations int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.prices), len(d.stations)
}

// Averages returns the mean price per fuel type rounded to two decimals,
// ordered by fuel type.
func (d *Dashboard) Averages() []Average {
	d.mu.RLock()
	sums := make(map[string]decimal.Decimal)
	counts := make(map[string]int)
	for _, p := range d.prices {
		sums[p.FuelType] = sums[p.FuelType].Add(p.Price)
		counts[p.FuelType]++
	}
	d.mu.RUnlock()

	out := make([]Average, 0, len(sums))
	for fuel, sum := range sums {
		n := counts[fuel]
		out = append(out, Average{
			FuelType: fuel,
			Price:    sum.Div(decimal.NewFromInt(int64(n))).Round(2),
			Samples:  n,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FuelType < out[j].FuelType })
	return out
}

// Trend returns each fuel type's prices sorted by lastupdated. An empty
// fuelType selects all of them.
func (d *Dashboard) Trend(fuelType string) []Series {
	d.mu.RLock()
	byFuel := make(map[string][]Point)
	for _, p := range d.prices {
		if fuelType != "" && p.FuelType != fuelType {
			continue
		}
		byFuel[p.FuelType] = append(byFuel[p.FuelType], Point{TS: p.LastUpdated.Time, Price: p.Price})
	}
	d.mu.RUnlock()

	out := make([]Series, 0, len(byFuel))
	for fuel, points := range byFuel {
		sort.SliceStable(points, func(i, j int) bool { return points[i].TS.Before(points[j].TS) })
		out = append(out, Series{FuelType: fuel, Points: points})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FuelType < out[j].FuelType })
	return out
}

// Map joins every station with the latest price per fuel type it sells.
// Stations without prices are included with an empty list.
func (d *Dashboard) Map() []MapStation {
	type key struct{ station, fuel string }

	d.mu.RLock()
	latest := make(map[key]models.PriceRecord)
	for _, p := range d.prices {
		k := key{p.StationCode, p.FuelType}
		if cur, ok := latest[k]; !ok || !p.LastUpdated.Before(cur.LastUpdated.Time) {
			latest[k] = p
		}
	}
	stations := make([]models.StationRecord, 0, len(d.stations))
	for _, st := range d.stations {
		stations = append(stations, st)
	}
	d.mu.RUnlock()

	byStation := make(map[string][]FuelPrice)
	for k, p := range latest {
		byStation[k.station] = append(byStation[k.station], FuelPrice{
			FuelType:    p.FuelType,
			Price:       p.Price,
			LastUpdated: p.LastUpdated,
		})
	}

	out := make([]MapStation, 0, len(stations))
	for _, st := range stations {
		prices := byStation[st.Code]
		if prices == nil {
			prices = []FuelPrice{}
		}
		sort.Slice(prices, func(i, j int) bool { return prices[i].FuelType < prices[j].FuelType })
		out = append(out, MapStation{StationRecord: st, Prices: prices})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
