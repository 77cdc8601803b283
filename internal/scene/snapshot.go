package scene

import (
	"math"
	"time"
)

// Bounding sphere limits accepted by the sensing layer, in metres.
const (
	MinBoundingRadiusMeters = 5.0
	MaxBoundingRadiusMeters = 100.0
)

// ClampRadius limits r to [MinBoundingRadiusMeters, MaxBoundingRadiusMeters].
// NaN is treated as the minimum.
func ClampRadius(r float64) float64 {
	if math.IsNaN(r) || r < MinBoundingRadiusMeters {
		return MinBoundingRadiusMeters
	}
	if r > MaxBoundingRadiusMeters {
		return MaxBoundingRadiusMeters
	}
	return r
}

// Vec2 is a 2-D extent in metres.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vec3 is a position in metres, device-relative.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat is an orientation quaternion.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// IdentityQuat is the zero rotation.
var IdentityQuat = Quat{W: 1}

// Pose places a surface in the device frame.
type Pose struct {
	Position    Vec3 `json:"position"`
	Orientation Quat `json:"orientation"`
}

// Quad is a planar rectangle attached to a surface. Extents are full
// width and height, centred on the owning object's pose.
type Quad struct {
	Extents Vec2 `json:"extents"`
}

// Area returns the quad's area in square metres.
func (q Quad) Area() float64 {
	return math.Abs(q.Extents.X * q.Extents.Y)
}

// Object is a surface discovered by sensing. ID is stable for the life of
// the surface. Objects are replaced wholesale on update, never edited.
type Object struct {
	ID          int         `json:"id"`
	SurfaceType SurfaceType `json:"surface_type"`
	Pose        Pose        `json:"pose"`
	Quads       []Quad      `json:"quads,omitempty"`
}

// Clone returns a deep copy of o.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := *o
	if o.Quads != nil {
		c.Quads = make([]Quad, len(o.Quads))
		copy(c.Quads, o.Quads)
	}
	return &c
}

// Equal reports whether o and other describe the same surface state.
func (o *Object) Equal(other *Object) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.ID != other.ID || o.SurfaceType != other.SurfaceType || o.Pose != other.Pose {
		return false
	}
	if len(o.Quads) != len(other.Quads) {
		return false
	}
	for i := range o.Quads {
		if o.Quads[i] != other.Quads[i] {
			return false
		}
	}
	return true
}

// TotalArea sums the area of every quad on the object.
func (o *Object) TotalArea() float64 {
	total := 0.0
	for _, q := range o.Quads {
		total += q.Area()
	}
	return total
}

// QuerySettings is the request handed to the sensing layer for one query.
type QuerySettings struct {
	IncludeQuads         bool          `json:"include_quads"`
	IncludeMeshes        bool          `json:"include_meshes"`
	OnlyObservedObjects  bool          `json:"only_observed_objects"`
	LevelOfDetail        LevelOfDetail `json:"level_of_detail"`
	BoundingRadiusMeters float64       `json:"bounding_radius_meters"`
}

// Snapshot is the complete result of one acquisition cycle.
type Snapshot struct {
	// Sequence is assigned by the acquisition loop at publish time,
	// starting from 1. Zero means the snapshot was never published.
	Sequence   uint64        `json:"sequence"`
	CapturedAt time.Time     `json:"captured_at"`
	Settings   QuerySettings `json:"settings"`
	Objects    []*Object     `json:"objects"`
}

// CountByType tallies objects per surface type.
func (s *Snapshot) CountByType() map[SurfaceType]int {
	counts := make(map[SurfaceType]int)
	if s == nil {
		return counts
	}
	for _, o := range s.Objects {
		if o != nil {
			counts[o.SurfaceType]++
		}
	}
	return counts
}

// Object returns the object with the given id, if present.
func (s *Snapshot) Object(id int) (*Object, bool) {
	if s == nil {
		return nil, false
	}
	for _, o := range s.Objects {
		if o != nil && o.ID == id {
			return o, true
		}
	}
	return nil, false
}
