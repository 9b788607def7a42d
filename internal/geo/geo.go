package geo

import "math"

// EarthRadiusM is the mean Earth radius used by every distance in this module.
const EarthRadiusM = 6371000.0

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceMeters returns the haversine distance between a and b in meters.
func DistanceMeters(a, b Coordinate) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusM * c
}

// DegreeDistance is the planar distance between a and b measured in degrees.
// It is only meaningful for very short gaps, where it is used as a tolerance check.
func DegreeDistance(a, b Coordinate) float64 {
	return math.Hypot(b.Lat-a.Lat, b.Lng-a.Lng)
}

// BearingDeg returns the initial bearing from a to b in [0,360).
func BearingDeg(a, b Coordinate) float64 {
	y := math.Sin((b.Lng-a.Lng)*math.Pi/180.0) * math.Cos(b.Lat*math.Pi/180.0)
	x := math.Cos(a.Lat*math.Pi/180.0)*math.Sin(b.Lat*math.Pi/180.0) - math.Sin(a.Lat*math.Pi/180.0)*math.Cos(b.Lat*math.Pi/180.0)*math.Cos((b.Lng-a.Lng)*math.Pi/180.0)
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// PolylineLength sums the haversine distances between consecutive points.
func PolylineLength(pts []Coordinate) float64 {
	sum := 0.0
	for i := 1; i < len(pts); i++ {
		sum += DistanceMeters(pts[i-1], pts[i])
	}
	return sum
}

// NearestIndex returns the index of the vertex closest to p, or -1 for an empty
// polyline. Ties resolve to the first occurrence.
func NearestIndex(pts []Coordinate, p Coordinate) int {
	best := -1
	bestDist := math.MaxFloat64
	for i, q := range pts {
		if d := DistanceMeters(q, p); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
