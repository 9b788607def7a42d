package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jeeproute/internal/engine"
	"jeeproute/internal/events"
	"jeeproute/internal/fare"
	"jeeproute/internal/geo"
	"jeeproute/internal/history"
	"jeeproute/internal/publisher"
	"jeeproute/internal/store"
)

var (
	ErrOffline         = errors.New("vehicle is offline")
	ErrNoTrip          = errors.New("vehicle has no active trip")
	ErrSuperseded      = errors.New("route build superseded by a newer request")
	ErrInvalidPosition = errors.New("invalid position")
)

// Finish reasons reported to metrics and history.
const (
	ReasonManual  = "manual"
	ReasonArrived = "arrived"
	ReasonOffline = "offline"
	ReasonStale   = "stale"
	ReasonRestart = "restart"
)

type PositionPublisher interface {
	PublishPosition(vehicleID string, msg publisher.PositionMessage) error
}

type Recorder interface {
	Record(ctx context.Context, e history.Entry) (history.Entry, error)
}

// Metrics receives trip observations. A nil Metrics is allowed.
type Metrics interface {
	TripStartedInc()
	TripFinishedInc(reason string)
	PositionInc()
	BuildDiscardedInc()
	StoreWriteErrInc()
	VehicleSweptInc()
	SetCounts(online, enRoute int)
}

// Deps are shared by every tracker of a manager.
type Deps struct {
	Engine    *engine.Engine
	Zones     []fare.FareZone
	Sink      store.Sink
	Publisher PositionPublisher
	Events    events.Emitter
	// History may be nil when no database is configured.
	History Recorder
	Metrics Metrics
	Log     *zap.Logger

	PublishInterval  time.Duration
	NearDestinationM float64
	Now              func() time.Time
}

// Profile is the driver-maintained jeep_info record.
type Profile struct {
	Plate      string `json:"plate"`
	DriverName string `json:"driverName"`
	Route      string `json:"route"`
}

// Position is one fix reported by the driver app.
type Position struct {
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
	Heading *float64 `json:"heading,omitempty"`
	Speed   *float64 `json:"speed,omitempty"`
}

func (p Position) coord() geo.Coordinate { return geo.Coordinate{Lat: p.Lat, Lng: p.Lng} }

func (p Position) valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 && !(p.Lat == 0 && p.Lng == 0)
}

// Update reports what one position did.
type Update struct {
	Step              engine.Step `json:"step"`
	Published         bool        `json:"published"`
	TripEnded         bool        `json:"tripEnded"`
	RemainingSegments int         `json:"remainingSegments"`
}

// Status is a read-only view of a tracker.
type Status struct {
	VehicleID         string          `json:"vehicleId"`
	State             string          `json:"state"`
	Full              bool            `json:"isFull"`
	TripID            string          `json:"tripId,omitempty"`
	Direction         string          `json:"direction,omitempty"`
	DistanceM         float64         `json:"distanceMeters"`
	RemainingSegments int             `json:"remainingSegments"`
	Position          *geo.Coordinate `json:"position,omitempty"`
	LastSeen          time.Time       `json:"lastSeen"`
}

// Tracker owns the state of one vehicle. All operations are serialized
// except the router fetches of a build, which run unlocked so that a newer
// request can supersede them.
type Tracker struct {
	id   string
	deps *Deps
	log  *zap.Logger

	mu          sync.Mutex
	state       State
	full        bool
	profile     Profile
	generation  uint64
	buildCancel context.CancelFunc
	lastPos     *geo.Coordinate
	lastSeen    time.Time
	lastPublish time.Time
}

func newTracker(id string, deps *Deps) *Tracker {
	return &Tracker{
		id:    id,
		deps:  deps,
		log:   deps.Log.With(zap.String("vehicle", id)),
		state: Offline{},
	}
}

func (t *Tracker) ID() string { return t.id }

func (t *Tracker) now() time.Time { return t.deps.Now() }

func (t *Tracker) jeepPath() string { return store.Child(store.JeepsRoot, t.id) }

// GoOnline stores the driver's profile and moves an offline vehicle to Idle.
// Calling it while online only refreshes the profile.
func (t *Tracker) GoOnline(ctx context.Context, p Profile) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.Route == "" {
		p.Route = fare.RouteName
	}
	err := t.deps.Sink.Write(ctx, store.Child(store.InfoRoot, t.id), map[string]any{
		"plate":      p.Plate,
		"driverName": p.DriverName,
		"route":      p.Route,
	})
	if err != nil {
		t.storeErr(err)
		return err
	}
	t.profile = p
	t.lastSeen = t.now()
	if _, ok := t.state.(Offline); ok {
		t.state = Idle{}
		t.log.Info("vehicle online", zap.String("plate", p.Plate))
	}
	return nil
}

// StartTrip builds a route toward the terminus of d and starts a new trip.
// An active trip is finished first.
func (t *Tracker) StartTrip(ctx context.Context, d fare.Direction) (*engine.ActiveRoute, error) {
	return t.build(ctx, d, false)
}

// Reroute rebuilds the route of the active trip, keeping its id and distance.
func (t *Tracker) Reroute(ctx context.Context) (*engine.ActiveRoute, error) {
	t.mu.Lock()
	er, ok := t.state.(*EnRoute)
	_, off := t.state.(Offline)
	t.mu.Unlock()
	switch {
	case off:
		return nil, ErrOffline
	case !ok:
		return nil, ErrNoTrip
	}
	d := er.Direction
	return t.build(ctx, d, true)
}

func (t *Tracker) build(ctx context.Context, d fare.Direction, reroute bool) (*engine.ActiveRoute, error) {
	t.mu.Lock()
	if _, ok := t.state.(Offline); ok {
		t.mu.Unlock()
		return nil, ErrOffline
	}
	gen := t.supersede()
	bctx, cancel := context.WithCancel(ctx)
	t.buildCancel = cancel
	t.mu.Unlock()

	route, err := t.deps.Engine.Build(bctx, t.deps.Zones, d)

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation {
		if t.deps.Metrics != nil {
			t.deps.Metrics.BuildDiscardedInc()
		}
		t.log.Debug("discarding superseded route build", zap.Uint64("generation", gen))
		return nil, ErrSuperseded
	}
	cancel()
	t.buildCancel = nil
	if err != nil {
		return nil, fmt.Errorf("build route: %w", err)
	}

	if reroute {
		er, ok := t.state.(*EnRoute)
		if !ok || er.Direction != d {
			// the trip ended while the build was running
			return nil, ErrNoTrip
		}
		route.Generation = gen
		er.Route = route
		t.log.Info("route rebuilt", zap.String("trip", er.TripID), zap.Int("segments", route.Len()))
		return route, nil
	}

	if _, ok := t.state.(*EnRoute); ok {
		t.finish(ctx, ReasonRestart)
	}
	// finishing bumps the generation; the new route carries the current one
	route.Generation = t.generation
	er := &EnRoute{
		TripID:    uuid.NewString(),
		Direction: d,
		StartedAt: t.now(),
		Route:     route,
	}
	t.state = er
	if t.deps.Metrics != nil {
		t.deps.Metrics.TripStartedInc()
	}
	t.log.Info("trip started",
		zap.String("trip", er.TripID),
		zap.Stringer("direction", d),
		zap.Int("segments", route.Len()),
	)
	t.emit(ctx, events.New(events.TripStarted, t.id, er.TripID, d.String(), er.StartedAt))
	if t.lastPos != nil {
		t.write(ctx, t.tripFields(t.now()))
	}
	return route, nil
}

// supersede invalidates any build in flight and returns the next generation.
func (t *Tracker) supersede() uint64 {
	t.generation++
	if t.buildCancel != nil {
		t.buildCancel()
		t.buildCancel = nil
	}
	return t.generation
}

// SetFull records whether the jeep has seats left.
func (t *Tracker) SetFull(ctx context.Context, full bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.state.(Offline); ok {
		return ErrOffline
	}
	t.full = full
	// without a fix there is no record to show yet; the next position carries it
	if t.lastPos != nil {
		t.write(ctx, map[string]any{"isFull": full, "updatedAt": t.now().UnixMilli()})
	}
	return nil
}

// UpdatePosition advances the active route to p and publishes the vehicle
// record at most once per publish interval. A trip whose last segment is
// completed ends here.
func (t *Tracker) UpdatePosition(ctx context.Context, p Position) (Update, error) {
	if !p.valid() {
		return Update{}, ErrInvalidPosition
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.state.(Offline); ok {
		return Update{}, ErrOffline
	}
	now := t.now()
	pos := p.coord()
	if t.deps.Metrics != nil {
		t.deps.Metrics.PositionInc()
	}

	heading, speed := t.motion(p, pos, now)
	var u Update
	if er, ok := t.state.(*EnRoute); ok {
		if t.lastPos != nil {
			er.DistanceM += geo.DistanceMeters(*t.lastPos, pos)
		}
		step, done := t.deps.Engine.Advance(er.Route, pos)
		u.Step = step
		if step == engine.StepCompleted {
			e := events.New(events.SegmentCompleted, t.id, er.TripID, er.Direction.String(), now)
			idx := done.Zone.Index
			e.ZoneIndex = &idx
			e.Zone = done.Zone.ID
			t.emit(ctx, e)
		}
		t.checkNear(ctx, er, pos)
		if er.Route.Len() == 0 {
			t.lastPos = &pos
			t.finish(ctx, ReasonArrived)
			u.TripEnded = true
		} else {
			u.RemainingSegments = er.Route.Len()
		}
	}

	t.lastPos = &pos
	t.lastSeen = now
	if u.TripEnded || t.lastPublish.IsZero() || now.Sub(t.lastPublish) >= t.deps.PublishInterval {
		t.publish(ctx, pos, heading, speed, now)
		u.Published = true
	}
	return u, nil
}

// motion fills in heading and speed the app did not report from the
// previous fix.
func (t *Tracker) motion(p Position, pos geo.Coordinate, now time.Time) (heading, speed float64) {
	if p.Heading != nil {
		heading = *p.Heading
	} else if t.lastPos != nil && *t.lastPos != pos {
		heading = geo.BearingDeg(*t.lastPos, pos)
	}
	if p.Speed != nil {
		speed = *p.Speed
	} else if t.lastPos != nil && !t.lastSeen.IsZero() {
		if dt := now.Sub(t.lastSeen).Seconds(); dt > 0 {
			speed = geo.DistanceMeters(*t.lastPos, pos) / dt
		}
	}
	return heading, speed
}

func (t *Tracker) checkNear(ctx context.Context, er *EnRoute, pos geo.Coordinate) {
	if er.NearNotified || t.deps.NearDestinationM <= 0 {
		return
	}
	dest, ok := fare.Destination(t.deps.Zones, er.Direction)
	if !ok || geo.DistanceMeters(pos, dest) > t.deps.NearDestinationM {
		return
	}
	er.NearNotified = true
	t.emit(ctx, events.New(events.DestinationNear, t.id, er.TripID, er.Direction.String(), t.now()))
}

func (t *Tracker) publish(ctx context.Context, pos geo.Coordinate, heading, speed float64, now time.Time) {
	fields := t.tripFields(now)
	fields["lat"] = pos.Lat
	fields["lng"] = pos.Lng
	fields["heading"] = heading
	fields["speed"] = speed
	fields["isFull"] = t.full
	if t.profile.Plate != "" {
		fields["plate"] = t.profile.Plate
	}
	if t.profile.DriverName != "" {
		fields["driverName"] = t.profile.DriverName
	}
	msg := publisher.PositionMessage{
		VehicleID: t.id,
		Timestamp: now,
		Lat:       pos.Lat,
		Lng:       pos.Lng,
		Heading:   heading,
		SpeedMps:  speed,
		IsFull:    t.full,
	}
	if er, ok := t.state.(*EnRoute); ok {
		msg.TripID = er.TripID
		msg.Direction = er.Direction.String()
		msg.RemainingSegments = er.Route.Len()
	}
	t.write(ctx, fields)
	t.lastPublish = now

	if t.deps.Publisher != nil {
		if err := t.deps.Publisher.PublishPosition(t.id, msg); err != nil {
			t.log.Warn("publish error", zap.Error(err))
		}
	}
}

// EndTrip finishes the active trip and returns the vehicle to Idle.
func (t *Tracker) EndTrip(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state.(type) {
	case Offline:
		return ErrOffline
	case Idle:
		return ErrNoTrip
	}
	t.finish(ctx, ReasonManual)
	return nil
}

// finish records the active trip and moves to Idle. Callers hold t.mu.
func (t *Tracker) finish(ctx context.Context, reason string) {
	er, ok := t.state.(*EnRoute)
	if !ok {
		return
	}
	t.supersede()
	t.state = Idle{}
	ended := t.now()
	km := er.DistanceM / 1000

	if t.deps.History != nil {
		_, err := t.deps.History.Record(ctx, history.Entry{
			DriverID:   t.id,
			Route:      fare.RouteName,
			Direction:  er.Direction.String(),
			StartedAt:  er.StartedAt,
			EndedAt:    ended,
			DistanceKm: km,
		})
		if err != nil {
			t.log.Error("failed to record trip history", zap.String("trip", er.TripID), zap.Error(err))
		}
	}
	e := events.New(events.TripEnded, t.id, er.TripID, er.Direction.String(), ended)
	e.DistanceKm = &km
	t.emit(ctx, e)
	if t.deps.Metrics != nil {
		t.deps.Metrics.TripFinishedInc(reason)
	}
	t.log.Info("trip ended",
		zap.String("trip", er.TripID),
		zap.String("reason", reason),
		zap.Float64("distance_km", km),
	)
	if t.lastPos != nil && reason != ReasonOffline && reason != ReasonStale && reason != ReasonRestart {
		t.write(ctx, t.tripFields(ended))
	}
}

// tripFields are the record fields that follow the trip state.
func (t *Tracker) tripFields(now time.Time) map[string]any {
	fields := map[string]any{
		"route":       fare.RouteName,
		"direction":   "",
		"destination": "",
		"updatedAt":   now.UnixMilli(),
	}
	if er, ok := t.state.(*EnRoute); ok {
		fields["direction"] = er.Direction.String()
		fields["destination"] = er.Direction.Label()
	}
	return fields
}

// GoOffline ends any trip, cancels a pending build and removes the vehicle
// record. It is idempotent.
func (t *Tracker) GoOffline(ctx context.Context, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.goOffline(ctx, reason)
}

func (t *Tracker) goOffline(ctx context.Context, reason string) error {
	if _, ok := t.state.(Offline); ok {
		return nil
	}
	t.finish(ctx, reason)
	t.supersede()
	t.state = Offline{}
	t.lastPos = nil
	t.lastPublish = time.Time{}
	t.full = false
	t.log.Info("vehicle offline", zap.String("reason", reason))
	if err := t.deps.Sink.Remove(ctx, t.jeepPath()); err != nil {
		t.storeErr(err)
		return err
	}
	return nil
}

// Route renders the remaining route for the map.
func (t *Tracker) Route(strokeWidth int) ([]engine.Polyline, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch st := t.state.(type) {
	case Offline:
		return nil, ErrOffline
	case *EnRoute:
		return st.Route.Polylines(strokeWidth), nil
	}
	return nil, ErrNoTrip
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Status{
		VehicleID: t.id,
		State:     t.state.Name(),
		Full:      t.full,
		LastSeen:  t.lastSeen,
	}
	if t.lastPos != nil {
		p := *t.lastPos
		s.Position = &p
	}
	if er, ok := t.state.(*EnRoute); ok {
		s.TripID = er.TripID
		s.Direction = er.Direction.String()
		s.DistanceM = er.DistanceM
		s.RemainingSegments = er.Route.Len()
	}
	return s
}

// staleSince reports whether the vehicle is online and silent since cutoff.
func (t *Tracker) staleSince(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.state.(Offline); ok {
		return false
	}
	return t.lastSeen.Before(cutoff)
}

func (t *Tracker) write(ctx context.Context, fields map[string]any) {
	if err := t.deps.Sink.Write(ctx, t.jeepPath(), fields); err != nil {
		t.storeErr(err)
	}
}

func (t *Tracker) storeErr(err error) {
	if t.deps.Metrics != nil {
		t.deps.Metrics.StoreWriteErrInc()
	}
	t.log.Warn("store write failed", zap.Error(err))
}

func (t *Tracker) emit(ctx context.Context, e events.Event) {
	if t.deps.Events == nil {
		return
	}
	if err := t.deps.Events.Emit(ctx, e); err != nil {
		t.log.Warn("event not delivered", zap.String("type", e.Type), zap.Error(err))
	}
}
