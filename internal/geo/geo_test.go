package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	town  = Coordinate{Lat: 16.414019, Lng: 120.593455}
	shell = Coordinate{Lat: 16.393590, Lng: 120.579564}
)

func TestDistanceMetersIdentityAndSymmetry(t *testing.T) {
	assert.Equal(t, 0.0, DistanceMeters(town, town))
	assert.InDelta(t, DistanceMeters(town, shell), DistanceMeters(shell, town), 1e-9)
}

func TestDistanceMetersOneKilometer(t *testing.T) {
	// 0.009° of latitude is ~1001 m anywhere on the globe.
	a := Coordinate{Lat: 16.4000, Lng: 120.5950}
	b := Coordinate{Lat: 16.4090, Lng: 120.5950}
	d := DistanceMeters(a, b)
	assert.InDelta(t, 1000, d, 50)
}

func TestDistanceMetersTownShell(t *testing.T) {
	// Town to Shell is roughly 2.7 km in a straight line.
	d := DistanceMeters(town, shell)
	if d < 2500 || d > 2900 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestDegreeDistance(t *testing.T) {
	a := Coordinate{Lat: 0, Lng: 0}
	b := Coordinate{Lat: 0.0003, Lng: 0.0004}
	assert.InDelta(t, 0.0005, DegreeDistance(a, b), 1e-12)
}

func TestBearingDeg(t *testing.T) {
	a := Coordinate{Lat: 16.40, Lng: 120.59}
	assert.InDelta(t, 0, BearingDeg(a, Coordinate{Lat: 16.41, Lng: 120.59}), 0.01)
	assert.InDelta(t, 180, BearingDeg(a, Coordinate{Lat: 16.39, Lng: 120.59}), 0.01)
	assert.InDelta(t, 90, BearingDeg(a, Coordinate{Lat: 16.40, Lng: 120.60}), 0.1)
}

func TestPolylineLength(t *testing.T) {
	assert.Equal(t, 0.0, PolylineLength(nil))
	assert.Equal(t, 0.0, PolylineLength([]Coordinate{town}))
	mid := Coordinate{Lat: (town.Lat + shell.Lat) / 2, Lng: (town.Lng + shell.Lng) / 2}
	assert.InDelta(t, DistanceMeters(town, shell), PolylineLength([]Coordinate{town, mid, shell}), 1)
}

func TestNearestIndex(t *testing.T) {
	require.Equal(t, -1, NearestIndex(nil, town))

	pts := []Coordinate{
		{Lat: 16.40, Lng: 120.59},
		{Lat: 16.41, Lng: 120.59},
		{Lat: 16.41, Lng: 120.59},
		{Lat: 16.42, Lng: 120.59},
	}
	assert.Equal(t, 1, NearestIndex(pts, Coordinate{Lat: 16.4101, Lng: 120.59}), "ties resolve to first occurrence")
	assert.Equal(t, 3, NearestIndex(pts, Coordinate{Lat: 16.50, Lng: 120.59}))
}
