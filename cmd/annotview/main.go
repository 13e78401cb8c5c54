// Command annotview fetches annotations for a view of an image and renders
// them to a PNG file, optionally over the image itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/gogpu/annot"
	"github.com/gogpu/annot/annotation"
	"github.com/gogpu/annot/region"
	"github.com/gogpu/annot/render/raster"
	"github.com/gogpu/annot/rest"
	"github.com/gogpu/annot/viewer"
)

func main() {
	var (
		configPath  = flag.String("config", "", "YAML configuration file")
		apiRoot     = flag.String("api", "", "API root URL (overrides the configuration)")
		token       = flag.String("token", "", "authentication token (overrides the configuration)")
		ids         = flag.String("annotations", "", "comma-separated annotation ids")
		item        = flag.String("item", "", "image item id; sizes the view and draws the image underneath")
		bounds      = flag.String("bounds", "", "view bounds left,top,right,bottom in base pixels (default: whole image)")
		width       = flag.Int("width", 1024, "image width")
		height      = flag.Int("height", 768, "image height")
		output      = flag.String("output", "annotations.png", "output file")
		fillOpacity = flag.Float64("fill-opacity", 1, "global fill opacity")
		highlight   = flag.String("highlight", "", "annotation id to highlight")
		timeout     = flag.Duration("timeout", 2*time.Minute, "overall timeout")
		verbose     = flag.Bool("v", false, "log fetch activity")
	)
	flag.Parse()

	if *verbose {
		annot.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg := annot.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = annot.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *apiRoot != "" {
		cfg.APIRoot = *apiRoot
	}
	if *token != "" {
		cfg.Token = *token
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, runOptions{
		ids:         splitList(*ids),
		item:        *item,
		bounds:      *bounds,
		width:       *width,
		height:      *height,
		output:      *output,
		fillOpacity: *fillOpacity,
		highlight:   *highlight,
	}); err != nil {
		log.Fatal(err)
	}
	log.Printf("Annotations saved to %s (%dx%d)\n", *output, *width, *height)
}

type runOptions struct {
	ids           []string
	item          string
	bounds        string
	width, height int
	output        string
	fillOpacity   float64
	highlight     string
}

func run(ctx context.Context, cfg annot.Config, o runOptions) error {
	if len(o.ids) == 0 {
		return fmt.Errorf("no annotations given")
	}
	client, err := rest.NewClientFromConfig(cfg)
	if err != nil {
		return err
	}

	var info *rest.TileInfo
	if o.item != "" {
		if info, err = client.TileInfo(ctx, o.item); err != nil {
			return fmt.Errorf("tile metadata: %w", err)
		}
	}
	view, err := viewFor(o, info)
	if err != nil {
		return err
	}

	r, err := raster.NewRenderer(o.width, o.height, raster.WithSource(client))
	if err != nil {
		return err
	}
	v, err := viewer.New(client, r, viewer.WithConfig(cfg), viewer.WithFillOpacity(o.fillOpacity))
	if err != nil {
		return err
	}
	defer v.Close()

	v.SetView(view)
	if o.highlight != "" {
		v.Highlight(o.highlight, "")
	}
	for _, id := range o.ids {
		a := annotation.New(o.item, "")
		a.ID = id
		h, err := v.Add(a)
		if err != nil {
			return err
		}
		mode, err := h.Load(ctx)
		if err != nil {
			return fmt.Errorf("annotation %s: %w", id, err)
		}
		log.Printf("Annotation %s loaded (%s)", id, mode)
	}

	r.SetView(view)
	out := r.Render()
	if o.item != "" {
		bg, err := client.Region(ctx, o.item, rest.RegionQuery{
			Left: view.Bounds.Left, Top: view.Bounds.Top,
			Right: view.Bounds.Right, Bottom: view.Bounds.Bottom,
			Width: o.width, Height: o.height,
		})
		if err != nil {
			return fmt.Errorf("image region: %w", err)
		}
		out = underlay(bg, out)
	}
	return writePNG(o.output, out)
}

// viewFor computes the view from the bounds flag or the whole image.
func viewFor(o runOptions, info *rest.TileInfo) (region.View, error) {
	var v region.View
	switch {
	case o.bounds != "":
		var b region.Bounds
		if _, err := fmt.Sscanf(o.bounds, "%g,%g,%g,%g", &b.Left, &b.Top, &b.Right, &b.Bottom); err != nil {
			return v, fmt.Errorf("invalid bounds %q: %w", o.bounds, err)
		}
		v.Bounds = b
	case info != nil:
		v.Bounds = region.Bounds{Right: float64(info.SizeX), Bottom: float64(info.SizeY)}
	default:
		return v, fmt.Errorf("either -bounds or -item is required")
	}
	if v.Bounds.Empty() {
		return v, fmt.Errorf("empty view bounds")
	}
	if info != nil {
		v.SizeX, v.SizeY = float64(info.SizeX), float64(info.SizeY)
		v.MaxZoom = float64(info.MaxZoom())
		// Zoom at which one screen pixel covers the view horizontally.
		v.Zoom = v.MaxZoom - math.Log2(v.Bounds.Width()/float64(o.width))
	}
	return v, nil
}

// underlay draws fg over bg scaled to the size of fg.
func underlay(bg image.Image, fg *image.RGBA) *image.RGBA {
	out := image.NewRGBA(fg.Bounds())
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.BiLinear.Scale(out, out.Bounds(), bg, bg.Bounds(), draw.Over, nil)
	draw.Draw(out, out.Bounds(), fg, image.Point{}, draw.Over)
	return out
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
