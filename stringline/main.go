// Package stringline projects simulation results into time–distance
// diagrams: per route, per train, cumulative distance along the route
// over simulated time.
package stringline

import (
	"sort"

	"nyiyui.ca/rosen"
	"nyiyui.ca/rosen/engine"
)

type Point2 struct {
	T float64 // simulated time
	D float64 // cumulative distance along the route
}

type Polyline struct {
	Train  engine.TrainID
	Points []Point2
}

// Project is pure: it mutates nothing and the same inputs always yield
// the same output. Snapshots after cutoff are excluded. filter selects
// routes; nil means all. Trains without a route mapping are dropped.
// Per-route polylines are ordered by train id.
func Project(res *engine.SimulationResults, cutoff float64, filter map[rosen.ID]bool) map[rosen.ID][]Polyline {
	byTrain := map[engine.TrainID][]Point2{}
	routeOf := map[engine.TrainID]rosen.ID{}
	for _, snap := range res.TrainPositions {
		if float64(snap.Time) > cutoff {
			continue
		}
		for _, tr := range snap.Trains {
			route, ok := res.RouteOf(tr.ID)
			if !ok {
				continue
			}
			if filter != nil && !filter[route] {
				continue
			}
			routeOf[tr.ID] = route
			byTrain[tr.ID] = append(byTrain[tr.ID], Point2{
				T: float64(snap.Time),
				D: tr.DistanceTravelled + tr.Pos,
			})
		}
	}

	trains := make([]engine.TrainID, 0, len(byTrain))
	for tid := range byTrain {
		trains = append(trains, tid)
	}
	sort.Slice(trains, func(i, j int) bool {
		if trains[i].RouteIdx != trains[j].RouteIdx {
			return trains[i].RouteIdx < trains[j].RouteIdx
		}
		return trains[i].Count < trains[j].Count
	})

	out := map[rosen.ID][]Polyline{}
	for _, tid := range trains {
		route := routeOf[tid]
		out[route] = append(out[route], Polyline{Train: tid, Points: byTrain[tid]})
	}
	return out
}

// LastTime returns the time of the final snapshot, the natural cutoff
// for drawing a whole run.
func LastTime(res *engine.SimulationResults) float64 {
	if len(res.TrainPositions) == 0 {
		return 0
	}
	return float64(res.TrainPositions[len(res.TrainPositions)-1].Time)
}
