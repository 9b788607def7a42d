package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"jeeproute/internal/geo"
)

const DefaultBaseURL = "https://router.project-osrm.org"

// ErrNoRoute is returned when the router answers but has no route between the points.
var ErrNoRoute = errors.New("no route found")

// Route is a road-following polyline from start to end.
type Route struct {
	Coordinates    []geo.Coordinate
	DistanceMeters float64
}

// Service fetches a driving polyline between two coordinates.
type Service interface {
	FetchPolyline(ctx context.Context, start, end geo.Coordinate) (Route, error)
}

// StatusError reports an unexpected HTTP status from the router.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// retryable reports whether another attempt could succeed.
func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(o *Client) { o.http = c }
}

// WithTimeout bounds every single attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Client) { o.timeout = d }
}

func WithMaxRetries(n int) Option {
	return func(o *Client) {
		if n < 0 {
			n = 0
		}
		o.maxRetries = uint64(n)
	}
}

// WithInitialBackoff sets the first retry delay; later delays grow exponentially
// with randomized jitter.
func WithInitialBackoff(d time.Duration) Option {
	return func(o *Client) { o.initialBackoff = d }
}

// WithRetryHook is called before each retry with the failed attempt's error.
func WithRetryHook(fn func(err error, wait time.Duration)) Option {
	return func(o *Client) { o.onRetry = fn }
}

// Client queries an OSRM-compatible routing server.
type Client struct {
	baseURL        string
	http           *http.Client
	timeout        time.Duration
	maxRetries     uint64
	initialBackoff time.Duration
	onRetry        func(error, time.Duration)
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           http.DefaultClient,
		timeout:        10 * time.Second,
		maxRetries:     3,
		initialBackoff: 200 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// FetchPolyline asks the router for the driving route from start to end.
// Transport errors, 429 and 5xx answers are retried with exponential backoff.
func (c *Client) FetchPolyline(ctx context.Context, start, end geo.Coordinate) (Route, error) {
	var out Route
	op := func() error {
		r, err := c.fetchOnce(ctx, start, end)
		if err != nil {
			var se *StatusError
			if errors.Is(err, ErrNoRoute) || (errors.As(err, &se) && !se.retryable()) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		out = r
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)

	if err := backoff.RetryNotify(op, b, c.onRetry); err != nil {
		return Route{}, fmt.Errorf("fetch route %s: %w", c.pathFor(start, end), err)
	}
	return out, nil
}

func (c *Client) fetchOnce(ctx context.Context, start, end geo.Coordinate) (Route, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	url := c.baseURL + c.pathFor(start, end) + "?overview=full&geometries=geojson"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Route{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Route{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// OSRM answers 400 with code NoRoute when the points cannot be connected.
		var parsed osrmResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Code == "NoRoute" {
			return Route{}, ErrNoRoute
		}
		return Route{}, &StatusError{Code: resp.StatusCode}
	}

	var parsed osrmResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Route{}, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if parsed.Code != "Ok" || len(parsed.Routes) == 0 {
		return Route{}, ErrNoRoute
	}
	r := parsed.Routes[0]
	coords := make([]geo.Coordinate, 0, len(r.Geometry.Coordinates))
	for _, pair := range r.Geometry.Coordinates {
		if len(pair) < 2 {
			continue
		}
		// GeoJSON order is [lng, lat]
		coords = append(coords, geo.Coordinate{Lat: pair[1], Lng: pair[0]})
	}
	return Route{Coordinates: coords, DistanceMeters: r.Distance}, nil
}

func (c *Client) pathFor(start, end geo.Coordinate) string {
	return fmt.Sprintf("/route/v1/driving/%f,%f;%f,%f", start.Lng, start.Lat, end.Lng, end.Lat)
}
