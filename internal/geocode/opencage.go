// Package geocode wraps the OpenCage forward-geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/crisisops/floodwatch/internal/httputil"
)

const defaultEndpoint = "https://api.opencagedata.com/geocode/v1/json"

var (
	// ErrNotFound means the provider returned no results for the place name.
	ErrNotFound = errors.New("geocode: no results")
	// ErrUnavailable marks transport-level failures; the item is retried on
	// the next run.
	ErrUnavailable = errors.New("geocode: unavailable")
)

// Pacer gates outbound calls; *rate.Limiter satisfies it, nil disables pacing.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Result is one resolved place.
type Result struct {
	Lat       float64
	Lon       float64
	Formatted string
}

// Client is the geocoding collaborator.
type Client struct {
	apiKey   string
	endpoint string
	httpc    *http.Client
	pacer    Pacer
}

// NewClient builds a geocoder against the given endpoint (defaulted when
// empty) with the injected pacer.
func NewClient(apiKey, endpoint string, timeout time.Duration, pacer Pacer) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: endpoint,
		httpc:    httputil.NewClient(timeout),
		pacer:    pacer,
	}
}

// Lookup resolves a place name to coordinates, taking the best-ranked match.
func (c *Client) Lookup(ctx context.Context, place string) (Result, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return Result{}, err
		}
	}

	q := url.Values{}
	q.Set("q", place)
	q.Set("key", c.apiKey)
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Result{}, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			Geometry struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"geometry"`
			Formatted string `json:"formatted"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(payload.Results) == 0 {
		return Result{}, ErrNotFound
	}

	r := payload.Results[0]
	return Result{Lat: r.Geometry.Lat, Lon: r.Geometry.Lng, Formatted: r.Formatted}, nil
}
