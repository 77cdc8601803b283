package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/scene.report/internal/httputil"
	"github.com/banshee-data/scene.report/internal/scene"
	"github.com/banshee-data/scene.report/internal/scene/storage/sqlite"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// surfaceCountBar charts the number of objects per surface type in snap.
func surfaceCountBar(snap *scene.Snapshot) *charts.Bar {
	counts := snap.CountByType()
	types := scene.AllSurfaceTypes()
	x := make([]string, 0, len(types))
	y := make([]opts.BarData, 0, len(types))
	for _, t := range types {
		x = append(x, t.String())
		y = append(y, opts.BarData{
			Value:     counts[t],
			ItemStyle: &opts.ItemStyle{Color: t.HexColor()},
		})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Surfaces by type",
			Subtitle: fmt.Sprintf("sequence=%d captured=%s", snap.Sequence, snap.CapturedAt.Format("15:04:05.000")),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("surfaces", y,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}

// historyLine charts per-type object counts across persisted snapshots,
// oldest on the left. records arrive newest first.
func historyLine(records []*sqlite.SnapshotRecord) *charts.Line {
	x := make([]string, 0, len(records))
	series := make(map[scene.SurfaceType][]opts.LineData)
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		x = append(x, strconv.FormatUint(rec.Sequence, 10))
		for _, t := range scene.AllSurfaceTypes() {
			series[t] = append(series[t], opts.LineData{Value: rec.Counts[t]})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Recorded history", Subtitle: fmt.Sprintf("%d snapshots", len(records))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sequence"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "surfaces"}),
	)
	line.SetXAxis(x)
	for _, t := range scene.AllSurfaceTypes() {
		line.AddSeries(t.String(), series[t],
			charts.WithLineStyleOpts(opts.LineStyle{Color: t.HexColor()}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: t.HexColor()}),
		)
	}
	return line
}

// handleChart renders a debug page with the live surface counts and, when
// an archive is configured, their recorded history.
// Query params:
//
//	limit (optional, default 20, max 500) history length
func (ws *WebServer) handleChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := ws.source.Latest()
	if snap == nil {
		httputil.ServiceUnavailable(w, "no scene published yet")
		return
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.PageTitle = "Scene"
	page.AddCharts(surfaceCountBar(snap))

	if ws.archive != nil {
		limit, err := parseLimit(r)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		records, err := ws.archive.ListSnapshots(limit)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("list snapshots: %v", err))
			return
		}
		if len(records) > 0 {
			page.AddCharts(historyLine(records))
		}
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
