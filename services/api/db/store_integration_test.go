//go:build integration

package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const seedSQL = `
CREATE TABLE stations (
    id BIGSERIAL PRIMARY KEY,
    brandid TEXT, stationid TEXT, brand TEXT, code TEXT, name TEXT, address TEXT,
    location_latitude DOUBLE PRECISION, location_longitude DOUBLE PRECISION
);
CREATE TABLE prices (
    id BIGSERIAL PRIMARY KEY,
    stationcode TEXT, fueltype TEXT, price NUMERIC, lastupdated TIMESTAMP
);
INSERT INTO stations (brandid, stationid, brand, code, name, address, location_latitude, location_longitude) VALUES
    ('Shell', 'A1', 'Shell', 'A1', 'Old', 'Y', -33.8, 151.2),
    ('Shell', 'A1', 'Shell', 'A1', 'X', 'Y', -33.8, 151.2),
    ('BP', 'B2', 'BP', 'B2', 'Z', 'W', -33.9, 151.1);
INSERT INTO prices (stationcode, fueltype, price, lastupdated) VALUES
    ('A1', 'E10', 1.899, '2024-06-01 08:00:00'),
    ('A1', 'E10', 1.859, '2024-06-02 08:00:00'),
    ('A1', 'U91', 2.019, '2024-06-01 08:00:00'),
    ('B2', 'E10', 1.799, '2024-06-01 09:00:00');
`

func seededStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "fuel",
				"POSTGRES_PASSWORD": "fuel",
				"POSTGRES_DB":       "fuel",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	url := fmt.Sprintf("postgres://fuel:fuel@%s:%s/fuel?sslmode=disable", host, port.Port())

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, seedSQL)
	require.NoError(t, err)
	pool.Close()

	store, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestIntegration_ReadQueries(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)

	require.NoError(t, store.Ping(ctx))

	stations, err := store.ListStations(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "A1", stations[0].Code)
	require.NotNil(t, stations[0].Name)
	assert.Equal(t, "X", *stations[0].Name)

	st, err := store.GetStation(ctx, "B2")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, -33.9, st.Latitude)

	missing, err := store.GetStation(ctx, "ZZ")
	require.NoError(t, err)
	assert.Nil(t, missing)

	latest, err := store.LatestPrices(ctx, "E10")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "A1", latest[0].StationCode)
	assert.Equal(t, "1.859", latest[0].Price.String())

	all, err := store.LatestPrices(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	since := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	history, err := store.PriceHistory(ctx, PriceQuery{StationCode: "A1", FuelType: "E10", Since: &since, Limit: 10})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC), history[0].LastUpdated.UTC())

	history, err = store.PriceHistory(ctx, PriceQuery{StationCode: "A1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
