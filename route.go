package rosen

import (
	"fmt"
	"sort"
)

// BuildRoute reconstructs the unique ordered simple path from an
// unordered selection of station and track-link ids. The walk starts at
// the only selected station with no selected incoming link and follows
// the single selected outgoing link of each station until every selected
// element is consumed exactly once. Any selection admitting zero or more
// than one such path yields an AmbiguousRouteError and leaves the target
// route untouched.
func BuildRoute(m *Map, selection []ID) (stations, links []ID, err error) {
	stationSet := map[ID]bool{}
	linkSet := map[ID]Link{}
	for _, id := range selection {
		switch m.KindOf(id) {
		case KindStation:
			stationSet[id] = true
		case KindLink:
			l, _ := m.Link(id)
			if l.Type != LinkTrack {
				return nil, nil, ambiguousf("link %s is a %s link; routes ride track only", id, l.Type)
			}
			linkSet[id] = l
		case KindRoute:
			return nil, nil, validationf("route %s cannot be part of a route selection", id)
		default:
			return nil, nil, fmt.Errorf("selected %s: %w", id, ErrNoSuchElement)
		}
	}
	if len(stationSet) == 0 {
		return nil, nil, ambiguousf("selection has no stations")
	}

	// Explicit adjacency index over the selection. Never rely on map
	// iteration order for the walk itself.
	outgoing := map[ID][]Link{}
	indegree := map[ID]int{}
	for _, l := range linkSet {
		if !stationSet[l.Source] || !stationSet[l.Target] {
			return nil, nil, ambiguousf("link %s reaches outside the selected stations", l.ID)
		}
		outgoing[l.Source] = append(outgoing[l.Source], l)
		indegree[l.Target]++
	}
	for _, outs := range outgoing {
		sort.Slice(outs, func(i, j int) bool { return outs[i].ID < outs[j].ID })
	}

	var start ID
	starts := 0
	for sid := range stationSet {
		if indegree[sid] == 0 {
			start = sid
			starts++
		}
	}
	if starts != 1 {
		return nil, nil, ambiguousf("%d possible start stations", starts)
	}

	stations = append(stations, start)
	visited := map[ID]bool{start: true}
	cur := start
	for len(links) < len(linkSet) {
		outs := outgoing[cur]
		switch len(outs) {
		case 0:
			return nil, nil, ambiguousf("path ends at %s with %d links left over", cur, len(linkSet)-len(links))
		case 1:
		default:
			return nil, nil, ambiguousf("%d outgoing links at %s", len(outs), cur)
		}
		next := outs[0]
		if visited[next.Target] {
			return nil, nil, ambiguousf("path revisits %s", next.Target)
		}
		visited[next.Target] = true
		links = append(links, next.ID)
		stations = append(stations, next.Target)
		cur = next.Target
	}
	if len(stations) != len(stationSet) {
		return nil, nil, ambiguousf("%d selected stations are not on the path", len(stationSet)-len(stations))
	}
	return stations, links, nil
}
