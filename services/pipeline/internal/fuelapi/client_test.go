package fuelapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

const samplePayload = `{
  "stations": [
    {"brandid":"","stationid":"","brand":"Shell","code":"A1","name":"X","address":"Y",
     "location":{"latitude":-33.8,"longitude":151.2}}
  ],
  "prices": [
    {"stationcode":"A1","fueltype":"E10","price":1.899,"lastupdated":"01/06/2024 08:00:00"}
  ]
}`

type upstream struct {
	tokenCalls  atomic.Int32
	pricesCalls atomic.Int32
	pricesCode  atomic.Int32
	expiresIn   string
}

func (u *upstream) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		u.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		expires := u.expiresIn
		if expires == "" {
			expires = "43199"
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"` + expires + `"}`))
	})
	mux.HandleFunc("/prices", func(w http.ResponseWriter, r *http.Request) {
		u.pricesCalls.Add(1)
		if code := u.pricesCode.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "key", r.Header.Get("apikey"))
		assert.NotEmpty(t, r.Header.Get("transactionid"))
		_, err := time.Parse(requestTimestampLayout, r.Header.Get("requesttimestamp"))
		assert.NoError(t, err)
		_, _ = w.Write([]byte(samplePayload))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server, secret string) *Client {
	return New(Config{
		TokenURL:  srv.URL + "/oauth/token",
		PricesURL: srv.URL + "/prices",
		APIKey:    "key",
		APISecret: secret,
	}, srv.Client())
}

func TestFetchSnapshotFlattensRecords(t *testing.T) {
	u := &upstream{}
	srv := u.server(t)
	c := newTestClient(srv, "secret")

	snap, err := c.FetchSnapshot(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Prices, 1)
	require.Len(t, snap.Stations, 1)
	assert.False(t, snap.FetchedAt.IsZero())

	lat := snap.Stations[0].Get(models.FieldLatitude)
	assert.True(t, lat.Exists())
	assert.Equal(t, -33.8, lat.Float())
	assert.Equal(t, "E10", snap.Prices[0].Get(models.FieldFuelType).String())
}

func TestTokenIsCached(t *testing.T) {
	u := &upstream{}
	srv := u.server(t)
	c := newTestClient(srv, "secret")

	for i := 0; i < 3; i++ {
		_, err := c.FetchSnapshot(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), u.tokenCalls.Load())
	assert.Equal(t, int32(3), u.pricesCalls.Load())
}

func TestShortLivedTokenIsCached(t *testing.T) {
	u := &upstream{expiresIn: "30"}
	srv := u.server(t)
	c := newTestClient(srv, "secret")

	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	now = now.Add(10 * time.Second)
	_, err = c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), u.tokenCalls.Load())

	// Past half of the 30s lifetime the token is refreshed.
	now = now.Add(6 * time.Second)
	_, err = c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), u.tokenCalls.Load())
}

func TestBadCredentials(t *testing.T) {
	u := &upstream{}
	srv := u.server(t)
	c := newTestClient(srv, "wrong")

	_, err := c.FetchSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(0), u.pricesCalls.Load())
}

func TestUnauthorizedPricesDropsToken(t *testing.T) {
	u := &upstream{}
	u.pricesCode.Store(http.StatusUnauthorized)
	srv := u.server(t)
	c := newTestClient(srv, "secret")

	_, err := c.FetchSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	u.pricesCode.Store(0)
	_, err = c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), u.tokenCalls.Load())
}

func TestServerErrorIsReturned(t *testing.T) {
	u := &upstream{}
	u.pricesCode.Store(http.StatusBadGateway)
	srv := u.server(t)
	c := newTestClient(srv, "secret")

	_, err := c.FetchSnapshot(context.Background())
	assert.ErrorContains(t, err, "502")
}

func TestDecodeSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"invalid json", `{"prices":`, models.ErrMalformed},
		{"prices not array", `{"prices":{},"stations":[]}`, models.ErrSnapshotShape},
		{"missing stations", `{"prices":[]}`, models.ErrSnapshotShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSnapshot([]byte(tt.body))
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}

	_, err := DecodeSnapshot([]byte(`{"prices":[1],"stations":[]}`))
	assert.Error(t, err)

	snap, err := DecodeSnapshot([]byte(`{"prices":[],"stations":[]}`))
	require.NoError(t, err)
	assert.Empty(t, snap.Prices)
	assert.Empty(t, snap.Stations)
}
