package fuelapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

const requestTimestampLayout = "02/01/2006 03:04:05 PM"

// ErrUnauthorized is returned when the upstream rejects the credentials or token.
var ErrUnauthorized = errors.New("fuel api: unauthorized")

// Config describes how to reach the upstream FuelCheck API.
type Config struct {
	TokenURL  string
	PricesURL string
	APIKey    string
	APISecret string
	RateLimit float64 // requests per second
}

// Client fetches full price/station snapshots. Tokens are cached until
// shortly before they expire.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// New constructs a client; httpClient carries the request timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// FetchSnapshot retrieves the current prices and stations.
func (c *Client) FetchSnapshot(ctx context.Context) (models.Snapshot, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}

	body, status, err := c.get(ctx, c.cfg.PricesURL, nil, map[string]string{
		"Authorization":    "Bearer " + token,
		"Accept":           "application/json",
		"Content-Type":     "application/json",
		"apikey":           c.cfg.APIKey,
		"transactionid":    uuid.NewString(),
		"requesttimestamp": c.now().Format(requestTimestampLayout),
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("request prices: %w", err)
	}
	if status == http.StatusUnauthorized {
		c.invalidate()
		return models.Snapshot{}, ErrUnauthorized
	}
	if status < 200 || status >= 300 {
		return models.Snapshot{}, fmt.Errorf("prices: unexpected status %d", status)
	}

	snap, err := DecodeSnapshot(body)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("decode prices payload: %w", err)
	}
	snap.FetchedAt = c.now().UTC()
	return snap, nil
}

// DecodeSnapshot parses an upstream payload of the form
// {"stations": [...], "prices": [...]} into flattened raw records.
func DecodeSnapshot(body []byte) (models.Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return models.Snapshot{}, models.ErrMalformed
	}
	root := gjson.ParseBytes(body)
	prices := root.Get("prices")
	stations := root.Get("stations")
	if !prices.IsArray() || !stations.IsArray() {
		return models.Snapshot{}, models.ErrSnapshotShape
	}

	var snap models.Snapshot
	var decodeErr error
	collect := func(list gjson.Result, dst *[]models.RawRecord, what string) {
		list.ForEach(func(_, item gjson.Result) bool {
			rec, err := models.Flatten(item)
			if err != nil {
				decodeErr = fmt.Errorf("%s entry: %w", what, err)
				return false
			}
			*dst = append(*dst, rec)
			return true
		})
	}
	collect(prices, &snap.Prices, "price")
	if decodeErr != nil {
		return models.Snapshot{}, decodeErr
	}
	collect(stations, &snap.Stations, "station")
	if decodeErr != nil {
		return models.Snapshot{}, decodeErr
	}
	return snap, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.expires) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	req := url.Values{"grant_type": {"client_credentials"}}
	body, status, err := c.get(ctx, c.cfg.TokenURL, req, map[string]string{
		"Accept": "application/json",
	}, withBasicAuth(c.cfg.APIKey, c.cfg.APISecret))
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("token: unexpected status %d", status)
	}

	parsed := gjson.ParseBytes(body)
	token := parsed.Get("access_token").String()
	if token == "" {
		return "", fmt.Errorf("token: %w", models.ErrMalformed)
	}
	ttl := time.Duration(parsed.Get("expires_in").Int()) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}

	// Refresh early so a long fetch never races the expiry; short-lived
	// tokens keep at least half their lifetime.
	margin := min(time.Minute, ttl/2)

	c.mu.Lock()
	c.token = token
	c.expires = c.now().Add(ttl - margin)
	c.mu.Unlock()
	return token, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}

type requestOption func(*http.Request)

func withBasicAuth(user, pass string) requestOption {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

func (c *Client) get(ctx context.Context, rawURL string, query url.Values, headers map[string]string, opts ...requestOption) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}
