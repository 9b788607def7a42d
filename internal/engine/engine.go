package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"jeeproute/internal/fare"
	"jeeproute/internal/geo"
	"jeeproute/internal/routing"
)

const (
	DefaultArrivalThresholdM = 40.0
	// DefaultGapToleranceDeg is ~11 m at this latitude.
	DefaultGapToleranceDeg = 0.0001
	DefaultConcurrency     = 4
)

var ErrNoZones = errors.New("route needs at least one fare zone")

// Segment is one fetched leg of an active route.
type Segment struct {
	Zone           fare.FareZone    `json:"zone"`
	Color          string           `json:"color"`
	Start          geo.Coordinate   `json:"start"`
	End            geo.Coordinate   `json:"end"`
	Coordinates    []geo.Coordinate `json:"coordinates"`
	DistanceMeters float64          `json:"distanceMeters"`
	Err            error            `json:"-"`

	// snapped is set once the first coordinate is the vehicle's own position.
	snapped bool
}

// ActiveRoute is the ordered list of segments still ahead of a vehicle.
type ActiveRoute struct {
	Direction  fare.Direction `json:"direction"`
	Generation uint64         `json:"generation"`
	Segments   []Segment      `json:"segments"`
}

// Len is the number of remaining segments.
func (r *ActiveRoute) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Segments)
}

type Config struct {
	ArrivalThresholdM float64
	GapToleranceDeg   float64
	// Concurrency caps in-flight leg fetches; 0 means one goroutine per leg.
	Concurrency int
}

// Metrics receives engine observations. A nil Metrics is allowed.
type Metrics interface {
	LegFetchErrInc()
	BuildObserve(d time.Duration)
	SegmentCompletedInc()
}

// Engine builds fare-zone routes and shrinks them as the vehicle advances.
type Engine struct {
	svc     routing.Service
	cfg     Config
	log     *zap.Logger
	metrics Metrics
}

func New(svc routing.Service, cfg Config, log *zap.Logger, m Metrics) *Engine {
	if cfg.ArrivalThresholdM <= 0 {
		cfg.ArrivalThresholdM = DefaultArrivalThresholdM
	}
	if cfg.GapToleranceDeg <= 0 {
		cfg.GapToleranceDeg = DefaultGapToleranceDeg
	}
	if cfg.Concurrency < 0 {
		cfg.Concurrency = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{svc: svc, cfg: cfg, log: log, metrics: m}
}

// ArrivalThreshold is the configured distance at which a leg counts as done.
func (e *Engine) ArrivalThreshold() float64 { return e.cfg.ArrivalThresholdM }

// Build fetches one polyline per zone, oriented for d, and bridges the gaps
// between consecutive legs. A leg whose fetch fails keeps its position and
// color with no coordinates. Build only fails when zones is empty or ctx ends
// before the legs are joined.
func (e *Engine) Build(ctx context.Context, zones []fare.FareZone, d fare.Direction) (*ActiveRoute, error) {
	if len(zones) == 0 {
		return nil, ErrNoZones
	}
	started := time.Now()
	legs := fare.Orient(zones, d)
	segs := make([]Segment, len(legs))

	var g errgroup.Group
	if e.cfg.Concurrency > 0 {
		g.SetLimit(e.cfg.Concurrency)
	}
	for i, leg := range legs {
		segs[i] = Segment{Zone: leg.Zone, Color: leg.Color, Start: leg.Start, End: leg.End}
		g.Go(func() error {
			r, err := e.svc.FetchPolyline(ctx, leg.Start, leg.End)
			if err != nil {
				segs[i].Err = err
				if e.metrics != nil {
					e.metrics.LegFetchErrInc()
				}
				e.log.Warn("leg fetch failed",
					zap.String("zone", leg.Zone.ID),
					zap.Int("position", i),
					zap.Error(err),
				)
				return nil
			}
			segs[i].Coordinates = r.Coordinates
			segs[i].DistanceMeters = r.DistanceMeters
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bridge(segs, e.cfg.GapToleranceDeg)

	if e.metrics != nil {
		e.metrics.BuildObserve(time.Since(started))
	}
	return &ActiveRoute{Direction: d, Segments: segs}, nil
}

// bridge prepends the last point of each non-empty leg to the next non-empty
// leg when their ends are further apart than tol degrees.
func bridge(segs []Segment, tol float64) {
	for i := 0; i+1 < len(segs); i++ {
		a, b := segs[i].Coordinates, segs[i+1].Coordinates
		if len(a) == 0 || len(b) == 0 {
			continue
		}
		last := a[len(a)-1]
		if geo.DegreeDistance(last, b[0]) > tol {
			joined := make([]geo.Coordinate, 0, len(b)+1)
			joined = append(joined, last)
			segs[i+1].Coordinates = append(joined, b...)
		}
	}
}

// Step reports what Advance did.
type Step int

const (
	StepNone Step = iota
	StepTruncated
	StepCompleted
)

func (s Step) String() string {
	switch s {
	case StepTruncated:
		return "truncated"
	case StepCompleted:
		return "completed"
	}
	return "none"
}

func (s Step) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Advance moves the head of r to the vehicle at pos. When pos is within the
// arrival threshold of the head's last point, the head is removed and
// returned. Otherwise everything before the vertex nearest to pos is dropped
// and pos becomes the head's first point. Routes never grow.
func (e *Engine) Advance(r *ActiveRoute, pos geo.Coordinate) (Step, Segment) {
	if r == nil || len(r.Segments) == 0 {
		return StepNone, Segment{}
	}
	head := &r.Segments[0]
	n := len(head.Coordinates)
	if n == 0 {
		return StepNone, Segment{}
	}

	if geo.DistanceMeters(pos, head.Coordinates[n-1]) < e.cfg.ArrivalThresholdM {
		done := r.Segments[0]
		r.Segments = r.Segments[1:]
		if e.metrics != nil {
			e.metrics.SegmentCompletedInc()
		}
		return StepCompleted, done
	}

	k := geo.NearestIndex(head.Coordinates, pos)
	if k == 0 && head.snapped {
		// still closest to the previous fix: move it rather than stacking another
		head.Coordinates[0] = pos
		return StepTruncated, Segment{}
	}
	trimmed := make([]geo.Coordinate, 0, n-k+1)
	trimmed = append(trimmed, pos)
	head.Coordinates = append(trimmed, head.Coordinates[k:]...)
	head.snapped = true
	return StepTruncated, Segment{}
}

// DistanceMeters is the haversine distance used for arrival checks.
func DistanceMeters(a, b geo.Coordinate) float64 {
	return geo.DistanceMeters(a, b)
}

// Polyline is the shape a map surface draws for one segment.
type Polyline struct {
	Zone        string           `json:"zone"`
	Label       string           `json:"label"`
	Color       string           `json:"color"`
	StrokeWidth int              `json:"strokeWidth"`
	Coordinates []geo.Coordinate `json:"coordinates"`
}

// DefaultStrokeWidth matches the route line of the passenger map.
const DefaultStrokeWidth = 6

// Polylines renders the remaining segments in traversal order. Empty legs are
// kept so that indices line up with the route.
func (r *ActiveRoute) Polylines(strokeWidth int) []Polyline {
	if r == nil {
		return []Polyline{}
	}
	out := make([]Polyline, len(r.Segments))
	for i, s := range r.Segments {
		coords := make([]geo.Coordinate, len(s.Coordinates))
		copy(coords, s.Coordinates)
		out[i] = Polyline{
			Zone:        s.Zone.ID,
			Label:       s.Zone.Label,
			Color:       s.Color,
			StrokeWidth: strokeWidth,
			Coordinates: coords,
		}
	}
	return out
}

// RemainingMeters is the polyline length still ahead, summed over segments.
func (r *ActiveRoute) RemainingMeters() float64 {
	if r == nil {
		return 0
	}
	total := 0.0
	for _, s := range r.Segments {
		total += geo.PolylineLength(s.Coordinates)
	}
	return total
}
