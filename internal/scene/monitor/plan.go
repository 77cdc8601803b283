package monitor

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/scene.report/internal/httputil"
	"github.com/banshee-data/scene.report/internal/scene"
)

// PlanOptions controls RenderPlan output.
type PlanOptions struct {
	// Size is the edge length of the square image. Zero means 8 inches.
	Size vg.Length
	// Format is any format gonum plot can write ("png", "svg", "pdf").
	// Empty means png.
	Format string
	// RadiusMeters fixes the plotted extent to ±radius around the device.
	// Zero uses the snapshot's bounding radius.
	RadiusMeters float64
	Title        string
}

// horizontal surfaces are drawn as their full rectangle; everything else is
// seen edge-on from above and drawn as a segment.
func horizontal(t scene.SurfaceType) bool {
	switch t {
	case scene.SurfaceFloor, scene.SurfaceCeiling, scene.SurfacePlatform, scene.SurfaceWorld:
		return true
	}
	return false
}

// Yaw extracts the rotation about the vertical axis from q.
func Yaw(q scene.Quat) float64 {
	return math.Atan2(2*(q.W*q.Y+q.X*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
}

// Footprint returns the object's overall extents. Quads tile the surface
// evenly, so the extents are one quad's extents times the tiling factor.
func Footprint(o *scene.Object) scene.Vec2 {
	if o == nil || len(o.Quads) == 0 {
		return scene.Vec2{}
	}
	split := math.Round(math.Sqrt(float64(len(o.Quads))))
	if split < 1 {
		split = 1
	}
	q := o.Quads[0].Extents
	return scene.Vec2{X: q.X * split, Y: q.Y * split}
}

// Outline returns the object's plan-view outline in (x, z) coordinates.
func Outline(o *scene.Object) plotter.XYs {
	ext := Footprint(o)
	yaw := Yaw(o.Pose.Orientation)
	ux, uz := math.Cos(yaw), -math.Sin(yaw)
	vx, vz := math.Sin(yaw), math.Cos(yaw)
	cx, cz := o.Pose.Position.X, o.Pose.Position.Z
	hw, hd := ext.X/2, ext.Y/2

	if !horizontal(o.SurfaceType) {
		return plotter.XYs{
			{X: cx - hw*ux, Y: cz - hw*uz},
			{X: cx + hw*ux, Y: cz + hw*uz},
		}
	}
	corner := func(a, b float64) plotter.XY {
		return plotter.XY{X: cx + a*ux + b*vx, Y: cz + a*uz + b*vz}
	}
	return plotter.XYs{corner(-hw, -hd), corner(hw, -hd), corner(hw, hd), corner(-hw, hd), corner(-hw, -hd)}
}

// RenderPlan draws a top-down floor plan of snap to w: one outline per
// object coloured by surface type, with the device at the origin.
func RenderPlan(w io.Writer, snap *scene.Snapshot, opt PlanOptions) error {
	if snap == nil {
		return fmt.Errorf("render plan: nil snapshot")
	}
	size := opt.Size
	if size <= 0 {
		size = 8 * vg.Inch
	}
	format := opt.Format
	if format == "" {
		format = "png"
	}
	radius := opt.RadiusMeters
	if radius <= 0 {
		radius = snap.Settings.BoundingRadiusMeters
	}
	if radius <= 0 {
		radius = scene.MinBoundingRadiusMeters
	}

	p := plot.New()
	p.Title.Text = opt.Title
	if p.Title.Text == "" {
		p.Title.Text = fmt.Sprintf("Scene #%d (%d surfaces)", snap.Sequence, len(snap.Objects))
	}
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.X.Min, p.X.Max = -radius, radius
	p.Y.Min, p.Y.Max = -radius, radius
	p.Add(plotter.NewGrid())

	legended := make(map[scene.SurfaceType]bool)
	for _, o := range snap.Objects {
		if o == nil || len(o.Quads) == 0 {
			continue
		}
		line, err := plotter.NewLine(Outline(o))
		if err != nil {
			return fmt.Errorf("outline surface %d: %w", o.ID, err)
		}
		line.Color = o.SurfaceType.Color()
		line.Width = vg.Points(1.5)
		if o.SurfaceType == scene.SurfaceInferred {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		}
		p.Add(line)
		if !legended[o.SurfaceType] {
			legended[o.SurfaceType] = true
			p.Legend.Add(o.SurfaceType.String(), line)
		}
	}

	device, err := plotter.NewScatter(plotter.XYs{{X: 0, Y: 0}})
	if err != nil {
		return fmt.Errorf("device marker: %w", err)
	}
	device.GlyphStyle.Shape = draw.CrossGlyph{}
	device.GlyphStyle.Radius = vg.Points(4)
	p.Add(device)
	p.Legend.Top = true

	wt, err := p.WriterTo(size, size, format)
	if err != nil {
		return fmt.Errorf("plot writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

// handlePlan renders the latest snapshot as a PNG floor plan.
// Query params:
//
//	radius (optional) plotted extent in metres
func (ws *WebServer) handlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := ws.source.Latest()
	if snap == nil {
		httputil.ServiceUnavailable(w, "no scene published yet")
		return
	}
	opt := PlanOptions{}
	if v := r.URL.Query().Get("radius"); v != "" {
		radius, err := strconv.ParseFloat(v, 64)
		if err != nil || !(radius > 0) || math.IsInf(radius, 0) {
			httputil.BadRequest(w, "invalid radius")
			return
		}
		opt.RadiusMeters = radius
	}
	var buf bytes.Buffer
	if err := RenderPlan(&buf, snap, opt); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
