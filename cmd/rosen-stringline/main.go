// rosen-stringline runs one simulation against a saved workspace and
// writes the stringline chart, for use outside the interactive editor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"nyiyui.ca/rosen"
	"nyiyui.ca/rosen/config"
	"nyiyui.ca/rosen/document"
	"nyiyui.ca/rosen/engine"
	"nyiyui.ca/rosen/stringline"
)

func main() {
	def := config.Default()
	defer zap.S().Sync()
	level := zap.LevelFlag("log-level", zap.InfoLevel, "set log level")
	workspace := flag.String("workspace", def.WorkspacePath, "workspace database")
	engineURL := flag.String("engine", def.EngineURL, "simulation engine base URL")
	out := flag.String("out", def.StringlinePath, "output PNG path")
	cutoff := flag.Float64("cutoff", 0, "last time to draw (0 draws the whole run)")
	routesFlag := flag.String("routes", "", "comma-separated route ids to draw (empty draws all)")
	frequency := flag.Uint64("frequency", def.Frequency, "departure frequency")
	optimize := flag.Bool("optimize", false, "let the engine choose frequencies")
	flag.Parse()
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(*level)
	dev, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(dev)

	store, err := document.OpenStore(*workspace)
	if err != nil {
		zap.S().Fatalf("open workspace: %s", err)
	}
	defer store.Close()
	m, err := store.Load()
	if errors.Is(err, document.ErrNoDocument) {
		zap.S().Fatalf("%s has no document; save one from the editor first", *workspace)
	} else if err != nil {
		zap.S().Fatalf("load workspace: %s", err)
	}

	ex := m.Export()
	g, routes := engine.RequestGraph(ex), engine.RequestRoutes(ex)
	client := engine.NewClient(*engineURL)
	var res *engine.SimulationResults
	if *optimize {
		res, err = client.Optimize(context.Background(), g, routes)
	} else {
		res, err = client.Simulate(context.Background(), g, routes, *frequency)
	}
	if err != nil {
		zap.S().Fatalf("engine: %s", err)
	}

	c := *cutoff
	if c == 0 {
		c = stringline.LastTime(res)
	}
	var filter map[rosen.ID]bool
	if *routesFlag != "" {
		filter = map[rosen.ID]bool{}
		for _, id := range strings.Split(*routesFlag, ",") {
			filter[rosen.ID(strings.TrimSpace(id))] = true
		}
	}

	f, err := os.Create(*out)
	if err != nil {
		zap.S().Fatalf("create %s: %s", *out, err)
	}
	defer f.Close()
	if err := stringline.Render(f, res, m.Routes(), c, filter); err != nil {
		zap.S().Fatalf("render: %s", err)
	}
	zap.S().Infow("wrote stringline",
		"path", *out,
		"trains", len(res.TrainToRoute),
		"snapshots", len(res.TrainPositions))
	printStats(os.Stdout, m, res)
}

// printStats writes the per-station wait statistics as plain text.
func printStats(w io.Writer, m *rosen.Map, res *engine.SimulationResults) {
	type row struct {
		name string
		stat engine.StationStatistic
	}
	rows := make([]row, 0, len(res.StationStatistics))
	for id, stat := range res.StationStatistics {
		name := string(id)
		if st, ok := m.Station(id); ok {
			name = st.Name
		}
		rows = append(rows, row{name, stat})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })
	for _, r := range rows {
		fmt.Fprintf(w, "%s\n", r.name)
		routeIDs := make([]rosen.ID, 0, len(r.stat.ArrivalTimes))
		for id := range r.stat.ArrivalTimes {
			routeIDs = append(routeIDs, id)
		}
		sort.Slice(routeIDs, func(i, j int) bool { return routeIDs[i] < routeIDs[j] })
		for _, id := range routeIDs {
			name := string(id)
			if rt, ok := m.Route(id); ok {
				name = rt.Name
			}
			ws := r.stat.ArrivalTimes[id]
			fmt.Fprintf(w, "  %-20s avg %6.1f  min %4.0f  max %4.0f\n", name, ws.AverageWait, ws.MinWait, ws.MaxWait)
		}
		if ws := r.stat.OverallArrivalTimes; ws != nil {
			fmt.Fprintf(w, "  %-20s avg %6.1f  min %4.0f  max %4.0f\n", "overall", ws.AverageWait, ws.MinWait, ws.MaxWait)
		}
	}
}
