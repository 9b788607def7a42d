package fare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZonesCanonicalOrder(t *testing.T) {
	zones := Zones()
	require.Len(t, zones, 4)
	for i, z := range zones {
		assert.Equal(t, i, z.Index)
	}
	assert.Equal(t, Town, zones[0].From)
	assert.Equal(t, Tierra, zones[3].To)

	// callers may mutate their copy freely
	zones[0].Color = "#000000"
	assert.Equal(t, "#22c55e", Zones()[0].Color)
}

func TestOrientOutbound(t *testing.T) {
	zones := Zones()
	legs := Orient(zones, Outbound)
	require.Len(t, legs, len(zones))
	for i, l := range legs {
		assert.Equal(t, zones[i].ID, l.Zone.ID)
		assert.Equal(t, zones[i].From, l.Start)
		assert.Equal(t, zones[i].To, l.End)
		assert.Equal(t, zones[i].Color, l.Color)
	}
}

func TestOrientInboundReversesOrderEndpointsAndColors(t *testing.T) {
	zones := Zones()
	out := Orient(zones, Outbound)
	in := Orient(zones, Inbound)
	n := len(zones)
	palette := Palette(zones)
	for i := range in {
		assert.Equal(t, out[n-1-i].Zone.ID, in[i].Zone.ID)
		assert.Equal(t, out[n-1-i].Start, in[i].End)
		assert.Equal(t, out[n-1-i].End, in[i].Start)
		assert.Equal(t, palette[n-1-i], in[i].Color)
	}
}

func TestOrientTwoZoneInbound(t *testing.T) {
	zones := Zones()[:2]
	legs := Orient(zones, Inbound)
	require.Len(t, legs, 2)
	assert.Equal(t, "z2", legs[0].Zone.ID)
	assert.Equal(t, Junction, legs[0].Start)
	assert.Equal(t, Shell, legs[0].End)
	assert.Equal(t, "z1", legs[1].Zone.ID)
	assert.Equal(t, Shell, legs[1].Start)
	assert.Equal(t, Town, legs[1].End)
	assert.Equal(t, []string{"#eab308", "#22c55e"}, []string{legs[0].Color, legs[1].Color})
}

func TestOrientDoesNotMutateInput(t *testing.T) {
	zones := Zones()
	_ = Orient(zones, Inbound)
	assert.Equal(t, Zones(), zones)
}

func TestParseDirection(t *testing.T) {
	cases := map[string]Direction{
		"outbound":    Outbound,
		"to_balacbac": Outbound,
		" Inbound ":   Inbound,
		"to town":     Inbound,
	}
	for in, want := range cases {
		got, err := ParseDirection(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}

func TestDirectionText(t *testing.T) {
	b, err := Inbound.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "inbound", string(b))

	var d Direction
	require.NoError(t, d.UnmarshalText([]byte("to_town")))
	assert.Equal(t, Inbound, d)
	assert.Error(t, d.UnmarshalText([]byte("nope")))
	assert.Equal(t, "to Balacbac", Outbound.Label())
}

func TestDestination(t *testing.T) {
	zones := Zones()
	d, ok := Destination(zones, Outbound)
	require.True(t, ok)
	assert.Equal(t, Tierra, d)
	d, ok = Destination(zones, Inbound)
	require.True(t, ok)
	assert.Equal(t, Town, d)
	_, ok = Destination(nil, Inbound)
	assert.False(t, ok)
}
