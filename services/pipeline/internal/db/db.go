package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

const resetTablesSQL = `
DROP TABLE IF EXISTS stations;
DROP TABLE IF EXISTS prices;

CREATE TABLE stations (
    id BIGSERIAL PRIMARY KEY,
    brandid TEXT,
    stationid TEXT,
    brand TEXT,
    code TEXT,
    name TEXT,
    address TEXT,
    location_latitude DOUBLE PRECISION,
    location_longitude DOUBLE PRECISION
);

CREATE TABLE prices (
    id BIGSERIAL PRIMARY KEY,
    stationcode TEXT,
    fueltype TEXT,
    price NUMERIC,
    lastupdated TIMESTAMP
);`

const insertStationSQL = `INSERT INTO stations (brandid, stationid, brand, code, name, address, location_latitude, location_longitude)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

const insertPriceSQL = `INSERT INTO prices (stationcode, fueltype, price, lastupdated)
VALUES ($1,$2,$3::numeric,$4)`

// Store is the append-only sink table writer.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pgx pool and verifies the connection.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ResetTables drops and recreates the stations and prices tables.
func (s *Store) ResetTables(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, resetTablesSQL); err != nil {
		return fmt.Errorf("reset tables: %w", err)
	}
	return nil
}

// InsertStations appends one row per station.
func (s *Store) InsertStations(ctx context.Context, stations []models.StationRecord) error {
	if len(stations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, st := range stations {
		batch.Queue(insertStationSQL, st.BrandID, st.StationID, st.Brand, st.Code, st.Name, st.Address, st.Latitude, st.Longitude)
	}
	return s.send(ctx, batch, "stations")
}

// InsertPrices appends one row per price.
func (s *Store) InsertPrices(ctx context.Context, prices []models.PriceRecord) error {
	if len(prices) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(insertPriceSQL, p.StationCode, p.FuelType, p.Price.String(), p.LastUpdated.Time)
	}
	return s.send(ctx, batch, "prices")
}

func (s *Store) send(ctx context.Context, batch *pgx.Batch, table string) error {
	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}

// CountRows returns the number of rows in table. It only accepts the two
// sink tables.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	if table != "stations" && table != "prices" {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
