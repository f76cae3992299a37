package stringline

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/exp/maps"
	"nyiyui.ca/rosen"
	"nyiyui.ca/rosen/engine"
)

var ErrNothingToDraw = errors.New("no polylines with two or more points")

// Render writes a PNG stringline chart to w: one series per train,
// stroked in its route's color. routes supplies names and colors.
// Polylines with fewer than two points draw nothing and are skipped.
func Render(w io.Writer, res *engine.SimulationResults, routes []rosen.Route, cutoff float64, filter map[rosen.ID]bool) error {
	names := make(map[rosen.ID]string, len(routes))
	colors := make(map[rosen.ID]drawing.Color, len(routes))
	for _, r := range routes {
		names[r.ID] = r.Name
		colors[r.ID] = routeColor(r.Color)
	}

	proj := Project(res, cutoff, filter)
	routeIDs := maps.Keys(proj)
	sort.Slice(routeIDs, func(i, j int) bool { return routeIDs[i] < routeIDs[j] })

	var series []chart.Series
	for _, rid := range routeIDs {
		col, ok := colors[rid]
		if !ok {
			col = drawing.ColorFromHex("808080")
		}
		for _, pl := range proj[rid] {
			if len(pl.Points) < 2 {
				continue
			}
			xs := make([]float64, len(pl.Points))
			ys := make([]float64, len(pl.Points))
			for i, pt := range pl.Points {
				xs[i] = pt.T
				ys[i] = pt.D
			}
			series = append(series, chart.ContinuousSeries{
				Name: fmt.Sprintf("%s %s", names[rid], pl.Train),
				Style: chart.Style{
					StrokeColor: col,
					StrokeWidth: 2,
				},
				XValues: xs,
				YValues: ys,
			})
		}
	}
	if len(series) == 0 {
		return ErrNothingToDraw
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis:  chart.XAxis{Name: "time"},
		YAxis:  chart.YAxis{Name: "distance"},
		Series: series,
	}
	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render stringline: %w", err)
	}
	return nil
}

// routeColor parses a CSS #rrggbb color, falling back to gray for
// anything it cannot parse.
func routeColor(s string) drawing.Color {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return drawing.ColorFromHex("808080")
	}
	if _, err := strconv.ParseUint(s, 16, 32); err != nil {
		return drawing.ColorFromHex("808080")
	}
	return drawing.ColorFromHex(s)
}
