package scene

import (
	"fmt"
	"image/color"
	"strings"
)

// SurfaceType classifies a discovered surface.
type SurfaceType uint8

const (
	SurfaceUnknown SurfaceType = iota
	SurfaceFloor
	SurfaceCeiling
	SurfaceWall
	SurfacePlatform
	SurfaceBackground
	SurfaceWorld
	SurfaceInferred
)

var surfaceTypeNames = [...]string{
	SurfaceUnknown:    "unknown",
	SurfaceFloor:      "floor",
	SurfaceCeiling:    "ceiling",
	SurfaceWall:       "wall",
	SurfacePlatform:   "platform",
	SurfaceBackground: "background",
	SurfaceWorld:      "world",
	SurfaceInferred:   "inferred",
}

// AllSurfaceTypes returns every surface type in declaration order.
func AllSurfaceTypes() []SurfaceType {
	out := make([]SurfaceType, len(surfaceTypeNames))
	for i := range surfaceTypeNames {
		out[i] = SurfaceType(i)
	}
	return out
}

// Valid reports whether t is one of the declared surface types.
func (t SurfaceType) Valid() bool {
	return int(t) < len(surfaceTypeNames)
}

func (t SurfaceType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("surface(%d)", uint8(t))
	}
	return surfaceTypeNames[t]
}

// ParseSurfaceType accepts the lower-case names produced by String,
// ignoring case and surrounding whitespace.
func ParseSurfaceType(s string) (SurfaceType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range surfaceTypeNames {
		if n == name {
			return SurfaceType(i), nil
		}
	}
	return SurfaceUnknown, fmt.Errorf("unknown surface type %q", s)
}

// MarshalText implements encoding.TextMarshaler so surface types appear by
// name in JSON payloads and map keys.
func (t SurfaceType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid surface type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SurfaceType) UnmarshalText(b []byte) error {
	v, err := ParseSurfaceType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Color returns the display colour for the surface type (solarized palette).
// Unrecognised values fall back to the Unknown colour.
func (t SurfaceType) Color() color.RGBA {
	switch t {
	case SurfaceFloor:
		return color.RGBA{R: 38, G: 139, B: 210, A: 255} // blue
	case SurfaceCeiling:
		return color.RGBA{R: 108, G: 113, B: 196, A: 255} // violet
	case SurfaceWall:
		return color.RGBA{R: 181, G: 137, B: 0, A: 255} // yellow
	case SurfacePlatform:
		return color.RGBA{R: 133, G: 153, B: 0, A: 255} // green
	case SurfaceBackground:
		return color.RGBA{R: 203, G: 75, B: 22, A: 255} // orange
	case SurfaceWorld:
		return color.RGBA{R: 211, G: 54, B: 130, A: 255} // magenta
	case SurfaceInferred:
		return color.RGBA{R: 42, G: 161, B: 152, A: 255} // cyan
	default:
		return color.RGBA{R: 220, G: 50, B: 47, A: 255} // red
	}
}

// HexColor returns Color as a CSS hex string, e.g. "#268bd2".
func (t SurfaceType) HexColor() string {
	c := t.Color()
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// LevelOfDetail selects how finely the sensing layer resolves surface
// geometry. Values are ordered coarse to fine.
type LevelOfDetail uint8

const (
	LevelCoarse LevelOfDetail = iota
	LevelMedium
	LevelFine
	LevelUnlimited
)

var levelNames = [...]string{
	LevelCoarse:    "coarse",
	LevelMedium:    "medium",
	LevelFine:      "fine",
	LevelUnlimited: "unlimited",
}

// Valid reports whether l is one of the declared levels.
func (l LevelOfDetail) Valid() bool {
	return int(l) < len(levelNames)
}

func (l LevelOfDetail) String() string {
	if !l.Valid() {
		return fmt.Sprintf("lod(%d)", uint8(l))
	}
	return levelNames[l]
}

// ParseLevelOfDetail accepts the names produced by String.
func ParseLevelOfDetail(s string) (LevelOfDetail, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return LevelOfDetail(i), nil
		}
	}
	return LevelCoarse, fmt.Errorf("unknown level of detail %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l LevelOfDetail) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid level of detail %d", uint8(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *LevelOfDetail) UnmarshalText(b []byte) error {
	v, err := ParseLevelOfDetail(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
