package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store wraps read access to the sink tables.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Station is one stored station row.
type Station struct {
	ID        int64   `json:"id"`
	BrandID   *string `json:"brandid,omitempty"`
	StationID *string `json:"stationid,omitempty"`
	Brand     *string `json:"brand,omitempty"`
	Code      string  `json:"code"`
	Name      *string `json:"name,omitempty"`
	Address   *string `json:"address,omitempty"`
	Latitude  float64 `json:"location_latitude"`
	Longitude float64 `json:"location_longitude"`
}

// The sink is append-only, so a redelivered station appears more than once;
// the latest row per code wins.
const listStationsSQL = `
    SELECT DISTINCT ON (code) id, brandid, stationid, brand, code, name, address, location_latitude, location_longitude
    FROM stations
    ORDER BY code, id DESC
`

// ListStations returns the latest row per station code.
func (s *Store) ListStations(ctx context.Context) ([]Station, error) {
	rows, err := s.pool.Query(ctx, listStationsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stations := make([]Station, 0)
	for rows.Next() {
		var st Station
		if err := rows.Scan(
			&st.ID,
			&st.BrandID,
			&st.StationID,
			&st.Brand,
			&st.Code,
			&st.Name,
			&st.Address,
			&st.Latitude,
			&st.Longitude,
		); err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

const getStationSQL = `
    SELECT id, brandid, stationid, brand, code, name, address, location_latitude, location_longitude
    FROM stations
    WHERE code = $1
    ORDER BY id DESC
    LIMIT 1
`

// GetStation returns the latest row for code, or nil when it is unknown.
func (s *Store) GetStation(ctx context.Context, code string) (*Station, error) {
	var st Station
	err := s.pool.QueryRow(ctx, getStationSQL, code).Scan(
		&st.ID,
		&st.BrandID,
		&st.StationID,
		&st.Brand,
		&st.Code,
		&st.Name,
		&st.Address,
		&st.Latitude,
		&st.Longitude,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Price is one stored price row.
type Price struct {
	ID          int64           `json:"id"`
	StationCode string          `json:"stationcode"`
	FuelType    string          `json:"fueltype"`
	Price       decimal.Decimal `json:"price"`
	LastUpdated time.Time       `json:"lastupdated"`
}

const latestPricesSQL = `
    SELECT DISTINCT ON (stationcode, fueltype) id, stationcode, fueltype, price::text, lastupdated
    FROM prices
    WHERE ($1::text = '' OR fueltype = $1::text)
    ORDER BY stationcode, fueltype, lastupdated DESC, id DESC
`

// LatestPrices returns the newest price per (station, fuel type). An empty
// fuelType returns every fuel type.
func (s *Store) LatestPrices(ctx context.Context, fuelType string) ([]Price, error) {
	rows, err := s.pool.Query(ctx, latestPricesSQL, fuelType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrices(rows)
}

func scanPrices(rows pgx.Rows) ([]Price, error) {
	prices := make([]Price, 0)
	for rows.Next() {
		var p Price
		var raw string
		if err := rows.Scan(&p.ID, &p.StationCode, &p.FuelType, &raw, &p.LastUpdated); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, err
		}
		p.Price = d
		prices = append(prices, p)
	}
	return prices, rows.Err()
}
