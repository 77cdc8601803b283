package monitor

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/scene.report/internal/scene"
)

// Distribution summarises a set of samples.
type Distribution struct {
	N      int     `json:"n"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Sum    float64 `json:"sum"`
}

// SurfaceTypeStats describes every object of one surface type in a snapshot.
type SurfaceTypeStats struct {
	SurfaceType scene.SurfaceType `json:"surface_type"`
	Objects     int               `json:"objects"`
	Quads       int               `json:"quads"`
	// AreaM2 is per-object total quad area.
	AreaM2 Distribution `json:"area_m2"`
	// RangeM is the horizontal distance from the device to each object.
	RangeM Distribution `json:"range_m"`
}

// SceneStats summarises one snapshot.
type SceneStats struct {
	Sequence uint64             `json:"sequence"`
	Objects  int                `json:"objects"`
	ByType   []SurfaceTypeStats `json:"by_type"`
}

// Describe computes a Distribution over xs. xs is sorted in place.
func Describe(xs []float64) Distribution {
	if len(xs) == 0 {
		return Distribution{}
	}
	sort.Float64s(xs)
	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) == 1 {
		std = 0
	}
	return Distribution{
		N:      len(xs),
		Min:    floats.Min(xs),
		Max:    floats.Max(xs),
		Mean:   mean,
		StdDev: std,
		Median: stat.Quantile(0.5, stat.Empirical, xs, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, xs, nil),
		Sum:    floats.Sum(xs),
	}
}

// ComputeSceneStats groups the snapshot's objects by surface type. Types
// with no objects are omitted; the rest are in declaration order.
func ComputeSceneStats(snap *scene.Snapshot) SceneStats {
	out := SceneStats{ByType: []SurfaceTypeStats{}}
	if snap == nil {
		return out
	}
	out.Sequence = snap.Sequence

	areas := make(map[scene.SurfaceType][]float64)
	ranges := make(map[scene.SurfaceType][]float64)
	quads := make(map[scene.SurfaceType]int)
	for _, o := range snap.Objects {
		if o == nil {
			continue
		}
		out.Objects++
		p := o.Pose.Position
		areas[o.SurfaceType] = append(areas[o.SurfaceType], o.TotalArea())
		ranges[o.SurfaceType] = append(ranges[o.SurfaceType], math.Hypot(p.X, p.Z))
		quads[o.SurfaceType] += len(o.Quads)
	}

	for _, t := range scene.AllSurfaceTypes() {
		a, ok := areas[t]
		if !ok {
			continue
		}
		out.ByType = append(out.ByType, SurfaceTypeStats{
			SurfaceType: t,
			Objects:     len(a),
			Quads:       quads[t],
			AreaM2:      Describe(a),
			RangeM:      Describe(ranges[t]),
		})
	}
	return out
}
