package trip

import (
	"time"

	"jeeproute/internal/engine"
	"jeeproute/internal/fare"
)

// State is the lifecycle state of one vehicle: Offline, Idle or EnRoute.
type State interface {
	Name() string
	state()
}

// Offline vehicles have no record in the store.
type Offline struct{}

// Idle vehicles are online and publish positions but have no route.
type Idle struct{}

// EnRoute vehicles follow an active route toward a terminus.
type EnRoute struct {
	TripID    string
	Direction fare.Direction
	StartedAt time.Time
	DistanceM float64
	Route     *engine.ActiveRoute
	// NearNotified is set once the approaching-destination event went out.
	NearNotified bool
}

const (
	StateOffline = "offline"
	StateIdle    = "idle"
	StateEnRoute = "en_route"
)

func (Offline) Name() string  { return StateOffline }
func (Idle) Name() string     { return StateIdle }
func (*EnRoute) Name() string { return StateEnRoute }

func (Offline) state()  {}
func (Idle) state()     {}
func (*EnRoute) state() {}
