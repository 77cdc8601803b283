// Command plan-plot renders a scene snapshot as a top-down floor plan.
//
// The snapshot comes either from a database written by the scene service
// (-db, optionally -id) or from a running service (-url).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/scene.report/internal/db"
	"github.com/banshee-data/scene.report/internal/httputil"
	"github.com/banshee-data/scene.report/internal/scene"
	"github.com/banshee-data/scene.report/internal/scene/monitor"
	"github.com/banshee-data/scene.report/internal/scene/storage/sqlite"
)

type options struct {
	dbPath string
	id     string
	url    string
	out    string
	radius float64
	size   float64
	title  string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("plan-plot", flag.ContinueOnError)
	fs.StringVar(&o.dbPath, "db", "", "Path to a scene SQLite database")
	fs.StringVar(&o.id, "id", "", "Snapshot id to render (default: most recent)")
	fs.StringVar(&o.url, "url", "", "Base URL of a running scene service, e.g. http://localhost:8090")
	fs.StringVar(&o.out, "out", "plan.png", "Output file; the extension picks the format (png, svg, pdf)")
	fs.Float64Var(&o.radius, "radius", 0, "Plotted extent in metres (default: the snapshot's bounding radius)")
	fs.Float64Var(&o.size, "size", 8, "Image edge length in inches")
	fs.StringVar(&o.title, "title", "", "Plot title")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if (o.dbPath == "") == (o.url == "") {
		return o, errors.New("exactly one of -db or -url is required")
	}
	if o.url != "" && o.id != "" {
		return o, errors.New("-id only applies with -db")
	}
	if o.size <= 0 {
		return o, fmt.Errorf("-size must be positive, got %v", o.size)
	}
	return o, nil
}

func loadFromDB(path, id string) (*scene.Snapshot, error) {
	d, err := db.NewDB(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	store := sqlite.NewSnapshotStore(d.DB)
	var stored *sqlite.StoredSnapshot
	if id != "" {
		stored, err = store.GetSnapshot(id)
	} else {
		stored, err = store.LatestSnapshot()
	}
	if err != nil {
		return nil, err
	}
	return stored.Snapshot, nil
}

func loadFromURL(ctx context.Context, client httputil.HTTPClient, base string) (*scene.Snapshot, error) {
	var snap scene.Snapshot
	url := strings.TrimRight(base, "/") + "/api/scene/latest"
	if err := httputil.GetJSON(ctx, client, url, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func run(ctx context.Context, args []string, client httputil.HTTPClient, stdout io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}

	var snap *scene.Snapshot
	if o.dbPath != "" {
		snap, err = loadFromDB(o.dbPath, o.id)
	} else {
		snap, err = loadFromURL(ctx, client, o.url)
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(o.out)), ".")
	if format == "" {
		format = "png"
	}
	f, err := os.Create(o.out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	err = monitor.RenderPlan(f, snap, monitor.PlanOptions{
		Size:         vg.Length(o.size) * vg.Inch,
		Format:       format,
		RadiusMeters: o.radius,
		Title:        o.title,
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s: sequence %d, %d surfaces\n", o.out, snap.Sequence, len(snap.Objects))
	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := run(ctx, os.Args[1:], httputil.NewClient(nil), os.Stdout); err != nil {
		cancel()
		log.Fatalf("plan-plot: %v", err)
	}
}
