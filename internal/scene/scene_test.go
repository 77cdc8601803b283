package scene

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampRadius(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"below minimum", 1, 5},
		{"negative", -20, 5},
		{"at minimum", 5, 5},
		{"inside range", 42.5, 42.5},
		{"at maximum", 100, 100},
		{"above maximum", 250, 100},
		{"positive infinity", math.Inf(1), 100},
		{"negative infinity", math.Inf(-1), 5},
		{"nan", math.NaN(), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampRadius(tt.in))
		})
	}
}

func TestSurfaceType_RoundTripNames(t *testing.T) {
	t.Parallel()

	for _, st := range AllSurfaceTypes() {
		parsed, err := ParseSurfaceType(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, parsed)
	}
	assert.Len(t, AllSurfaceTypes(), 8)

	_, err := ParseSurfaceType("window")
	assert.Error(t, err)

	got, err := ParseSurfaceType("  WALL ")
	require.NoError(t, err)
	assert.Equal(t, SurfaceWall, got)
}

func TestSurfaceType_InvalidValue(t *testing.T) {
	t.Parallel()

	bad := SurfaceType(42)
	assert.False(t, bad.Valid())
	assert.Equal(t, "surface(42)", bad.String())
	_, err := bad.MarshalText()
	assert.Error(t, err)
	assert.Equal(t, SurfaceUnknown.Color(), bad.Color())
}

func TestSurfaceType_JSONMapKeys(t *testing.T) {
	t.Parallel()

	counts := map[SurfaceType]int{SurfaceFloor: 2, SurfaceWall: 4}
	b, err := json.Marshal(counts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"floor":2,"wall":4}`, string(b))

	var back map[SurfaceType]int
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, counts, back)
}

func TestSurfaceType_HexColor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "#268bd2", SurfaceFloor.HexColor())
	assert.Equal(t, "#dc322f", SurfaceUnknown.HexColor())
}

func TestLevelOfDetail_Parse(t *testing.T) {
	t.Parallel()

	lod, err := ParseLevelOfDetail("Fine")
	require.NoError(t, err)
	assert.Equal(t, LevelFine, lod)

	_, err = ParseLevelOfDetail("ultra")
	assert.Error(t, err)

	assert.True(t, LevelCoarse < LevelMedium && LevelMedium < LevelFine && LevelFine < LevelUnlimited)
	assert.Equal(t, "lod(9)", LevelOfDetail(9).String())
}

func TestObject_CloneIsDeep(t *testing.T) {
	t.Parallel()

	o := &Object{ID: 1, SurfaceType: SurfaceWall, Quads: []Quad{{Extents: Vec2{X: 2, Y: 3}}}}
	c := o.Clone()
	require.True(t, o.Equal(c))

	c.Quads[0].Extents.X = 9
	assert.Equal(t, 2.0, o.Quads[0].Extents.X)
	assert.False(t, o.Equal(c))

	var nilObj *Object
	assert.Nil(t, nilObj.Clone())
}

func TestObject_Equal(t *testing.T) {
	t.Parallel()

	base := &Object{ID: 3, SurfaceType: SurfaceFloor, Pose: Pose{Orientation: IdentityQuat}}
	moved := base.Clone()
	moved.Pose.Position.X = 0.5
	retyped := base.Clone()
	retyped.SurfaceType = SurfacePlatform

	assert.True(t, base.Equal(base.Clone()))
	assert.False(t, base.Equal(moved))
	assert.False(t, base.Equal(retyped))
	assert.False(t, base.Equal(nil))

	var a, b *Object
	assert.True(t, a.Equal(b))
}

func TestObject_TotalArea(t *testing.T) {
	t.Parallel()

	o := &Object{Quads: []Quad{{Extents: Vec2{X: 2, Y: 3}}, {Extents: Vec2{X: -1, Y: 4}}}}
	assert.InDelta(t, 10.0, o.TotalArea(), 1e-9)
}

func TestSnapshot_CountByTypeAndLookup(t *testing.T) {
	t.Parallel()

	snap := &Snapshot{Objects: []*Object{
		{ID: 1, SurfaceType: SurfaceFloor},
		{ID: 2, SurfaceType: SurfaceWall},
		{ID: 3, SurfaceType: SurfaceWall},
		nil,
	}}
	assert.Equal(t, map[SurfaceType]int{SurfaceFloor: 1, SurfaceWall: 2}, snap.CountByType())

	o, ok := snap.Object(2)
	require.True(t, ok)
	assert.Equal(t, SurfaceWall, o.SurfaceType)

	_, ok = snap.Object(99)
	assert.False(t, ok)

	var empty *Snapshot
	assert.Empty(t, empty.CountByType())
	_, ok = empty.Object(1)
	assert.False(t, ok)
}
