package routing

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

	"jeeproute/internal/geo"
)

var (
	start = geo.Coordinate{Lat: 16.414019, Lng: 120.593455}
	end   = geo.Coordinate{Lat: 16.393590, Lng: 120.579564}
)

const okBody = `{"code":"Ok","routes":[{"distance":3120.5,"geometry":{"type":"LineString","coordinates":[[120.593455,16.414019],[120.5901,16.4101],[120.579564,16.39359]]}}]}`

func newTestClient(url string, opts ...Option) *Client {
	opts = append([]Option{WithInitialBackoff(time.Millisecond), WithTimeout(time.Second)}, opts...)
	return NewClient(url, opts...)
}

func TestFetchPolylineParsesGeoJSON(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	r, err := newTestClient(srv.URL).FetchPolyline(context.Background(), start, end)
	require.NoError(t, err)

	assert.Equal(t, "/route/v1/driving/120.593455,16.414019;120.579564,16.393590", gotPath)
	assert.Equal(t, "overview=full&geometries=geojson", gotQuery)
	assert.InDelta(t, 3120.5, r.DistanceMeters, 1e-9)
	require.Len(t, r.Coordinates, 3)
	assert.Equal(t, start, r.Coordinates[0])
	assert.Equal(t, geo.Coordinate{Lat: 16.4101, Lng: 120.5901}, r.Coordinates[1])
}

func TestFetchPolylineRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	var retries atomic.Int32
	c := newTestClient(srv.URL, WithRetryHook(func(error, time.Duration) { retries.Add(1) }))
	r, err := c.FetchPolyline(context.Background(), start, end)
	require.NoError(t, err)
	assert.Len(t, r.Coordinates, 3)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(2), retries.Load())
}

func TestFetchPolylineGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, WithMaxRetries(2)).FetchPolyline(context.Background(), start, end)
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPolylineNoRouteIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"NoRoute","message":"Impossible route between points"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchPolyline(context.Background(), start, end)
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchPolylineEmptyRoutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchPolyline(context.Background(), start, end)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestFetchPolylineClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchPolyline(context.Background(), start, end)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchPolylineCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(srv.URL).FetchPolyline(ctx, start, end)
	assert.ErrorIs(t, err, context.Canceled)
}

type countingService struct {
	calls atomic.Int32
	err   error
}

func (s *countingService) FetchPolyline(_ context.Context, a, b geo.Coordinate) (Route, error) {
	s.calls.Add(1)
	if s.err != nil {
		return Route{}, s.err
	}
	return Route{Coordinates: []geo.Coordinate{a, b}, DistanceMeters: 10}, nil
}

func TestCacheServesWithinMaxAge(t *testing.T) {
	next := &countingService{}
	c := NewCache(next, time.Minute)
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	r1, err := c.FetchPolyline(context.Background(), start, end)
	require.NoError(t, err)
	r1.Coordinates[0] = geo.Coordinate{}

	r2, err := c.FetchPolyline(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, start, r2.Coordinates[0], "cached route must not share backing storage")
	assert.Equal(t, int32(1), next.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.FetchPolyline(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())

	c.Purge()
	_, _ = c.FetchPolyline(context.Background(), start, end)
	assert.Equal(t, int32(3), next.calls.Load())
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	next := &countingService{err: ErrNoRoute}
	c := NewCache(next, time.Minute)
	_, err := c.FetchPolyline(context.Background(), start, end)
	require.ErrorIs(t, err, ErrNoRoute)
	_, err = c.FetchPolyline(context.Background(), start, end)
	require.ErrorIs(t, err, ErrNoRoute)
	assert.Equal(t, int32(2), next.calls.Load())
}
