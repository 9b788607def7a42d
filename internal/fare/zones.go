package fare

import (
	"fmt"
	"strings"

	"jeeproute/internal/geo"
)

// Named waypoints along the Town ↔ Balacbac line.
var (
	Town       = geo.Coordinate{Lat: 16.414019, Lng: 120.593455}
	Shell      = geo.Coordinate{Lat: 16.393590, Lng: 120.579564}
	Junction   = geo.Coordinate{Lat: 16.388988, Lng: 120.575658}
	InteriorA  = geo.Coordinate{Lat: 16.386876, Lng: 120.576439}
	Centro     = geo.Coordinate{Lat: 16.380109, Lng: 120.579936}
	Friendship = geo.Coordinate{Lat: 16.378661, Lng: 120.580563}
	Tierra     = geo.Coordinate{Lat: 16.378759, Lng: 120.586049}
)

// FareZone is one priced leg of the fixed route. Zones are listed canonically
// from Town to Balacbac and never mutated.
type FareZone struct {
	ID         string         `json:"id"`
	Index      int            `json:"index"`
	Label      string         `json:"label"`
	Regular    float64        `json:"regular"`
	Discounted float64        `json:"discounted"`
	Color      string         `json:"color"`
	From       geo.Coordinate `json:"from"`
	To         geo.Coordinate `json:"to"`
}

// Zones returns the canonical zone list. A fresh slice is returned on every call.
func Zones() []FareZone {
	return []FareZone{
		{ID: "z1", Index: 0, Label: "Town ↔ Shell", Regular: 13.00, Discounted: 10.50, Color: "#22c55e", From: Town, To: Shell},
		{ID: "z2", Index: 1, Label: "Shell ↔ Junction", Regular: 15.00, Discounted: 12.00, Color: "#eab308", From: Shell, To: Junction},
		{ID: "z3", Index: 2, Label: "Interior A ↔ Centro", Regular: 16.50, Discounted: 13.25, Color: "#f97316", From: InteriorA, To: Centro},
		{ID: "z4", Index: 3, Label: "Friendship ↔ Tierra", Regular: 18.50, Discounted: 15.00, Color: "#ef4444", From: Friendship, To: Tierra},
	}
}

// Direction is the terminus a vehicle is heading to.
type Direction int

const (
	// Outbound follows the canonical order, Town to Balacbac.
	Outbound Direction = iota
	// Inbound runs back toward Town.
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Label is the human form shown to passengers.
func (d Direction) Label() string {
	if d == Inbound {
		return "to Town"
	}
	return "to Balacbac"
}

// MarshalText encodes the direction as "inbound" or "outbound".
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText accepts the forms understood by ParseDirection.
func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDirection accepts "outbound"/"to_balacbac" and "inbound"/"to_town".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "outbound", "to_balacbac", "to balacbac", "balacbac":
		return Outbound, nil
	case "inbound", "to_town", "to town", "town":
		return Inbound, nil
	}
	return Outbound, fmt.Errorf("invalid direction: %q", s)
}

// Leg is a zone oriented for travel in one direction.
type Leg struct {
	Zone  FareZone
	Start geo.Coordinate
	End   geo.Coordinate
	Color string
}

// Orient returns the zones in traversal order for d. Inbound reverses the list,
// swaps each zone's endpoints and reverses the color sequence; the color at
// position i is taken from the reversed palette, not from the zone itself.
func Orient(zones []FareZone, d Direction) []Leg {
	n := len(zones)
	colors := Palette(zones)
	if d == Inbound {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			colors[i], colors[j] = colors[j], colors[i]
		}
	}
	legs := make([]Leg, n)
	for i := range legs {
		if d == Inbound {
			z := zones[n-1-i]
			legs[i] = Leg{Zone: z, Start: z.To, End: z.From, Color: colors[i]}
			continue
		}
		z := zones[i]
		legs[i] = Leg{Zone: z, Start: z.From, End: z.To, Color: colors[i]}
	}
	return legs
}

// Palette is the canonical color sequence of zones.
func Palette(zones []FareZone) []string {
	out := make([]string, len(zones))
	for i, z := range zones {
		out[i] = z.Color
	}
	return out
}

// Destination is the terminal waypoint of a trip in direction d.
func Destination(zones []FareZone, d Direction) (geo.Coordinate, bool) {
	if len(zones) == 0 {
		return geo.Coordinate{}, false
	}
	if d == Inbound {
		return zones[0].From, true
	}
	return zones[len(zones)-1].To, true
}

// RouteName is the line label written on jeep records.
const RouteName = "Balacbac – Town"
