// Package document reads and writes the editor's JSON documents: the
// graph (stations and links) and the routes object keyed by route id.
// The shapes are a wire contract shared with other frontends; field
// names must not change.
package document

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"nyiyui.ca/rosen"
)

type Node struct {
	ID       rosen.ID    `json:"id"`
	Name     string      `json:"name"`
	Position rosen.Point `json:"position"`
}

type Edge struct {
	ID     rosen.ID       `json:"id"`
	Type   rosen.LinkType `json:"type"`
	Source rosen.ID       `json:"source"`
	Target rosen.ID       `json:"target"`
	Weight int            `json:"weight"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Route mirrors the routes document entry. Offset defaults to zero when
// absent from the document.
type Route struct {
	Name   string     `json:"name"`
	ID     rosen.ID   `json:"id"`
	Nodes  []rosen.ID `json:"nodes"`
	Edges  []rosen.ID `json:"edges"`
	Color  string     `json:"color"`
	Offset int        `json:"offset"`
}

type Routes map[rosen.ID]Route

// FromExport renders an export into document values.
func FromExport(ex rosen.Export) (Graph, Routes) {
	g := Graph{
		Nodes: make([]Node, 0, len(ex.Stations)),
		Edges: make([]Edge, 0, len(ex.Links)),
	}
	for _, s := range ex.Stations {
		g.Nodes = append(g.Nodes, Node{ID: s.ID, Name: s.Name, Position: s.Pos})
	}
	for _, l := range ex.Links {
		g.Edges = append(g.Edges, Edge{
			ID:     l.ID,
			Type:   l.Type,
			Source: l.Source,
			Target: l.Target,
			Weight: l.Weight,
		})
	}
	routes := make(Routes, len(ex.Routes))
	for _, r := range ex.Routes {
		routes[r.ID] = Route{
			Name:   r.Name,
			ID:     r.ID,
			Nodes:  orEmpty(r.Stations),
			Edges:  orEmpty(r.Links),
			Color:  r.Color,
			Offset: r.Offset,
		}
	}
	return g, routes
}

func orEmpty(ids []rosen.ID) []rosen.ID {
	if ids == nil {
		return []rosen.ID{}
	}
	return ids
}

// Marshal renders an export into the two document payloads.
func Marshal(ex rosen.Export) (graphData, routesData []byte, err error) {
	g, routes := FromExport(ex)
	graphData, err = json.Marshal(g)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal graph: %w", err)
	}
	routesData, err = json.Marshal(routes)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal routes: %w", err)
	}
	return graphData, routesData, nil
}

// rawNode defers name decoding: foreign documents carry numbers or null
// in name, and those nodes must be filtered rather than fail the load.
type rawNode struct {
	ID       rosen.ID        `json:"id"`
	Name     json.RawMessage `json:"name"`
	Position rosen.Point     `json:"position"`
}

func (n rawNode) name() (string, bool) {
	var s string
	if err := json.Unmarshal(n.Name, &s); err != nil {
		return "", false
	}
	return s, s != ""
}

// Load builds a fresh map from document payloads. Nodes without a
// non-empty string name are filtered out together with their incident
// edges before any structural validation. Structural problems (duplicate
// ids, edges to missing nodes, bad weights or types) fail the load with a
// ValidationError wrapped inside; the caller keeps its prior map. Routes
// referencing missing elements are dropped with a warning, as stale
// routes documents are common. routesData may be nil.
func Load(graphData, routesData []byte) (*rosen.Map, error) {
	var g struct {
		Nodes []rawNode `json:"nodes"`
		Edges []Edge    `json:"edges"`
	}
	if err := json.Unmarshal(graphData, &g); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}

	m := rosen.NewMap()
	filtered := map[rosen.ID]bool{}
	for _, n := range g.Nodes {
		name, ok := n.name()
		if !ok {
			zap.S().Warnf("document: dropping node %s: no usable name", n.ID)
			filtered[n.ID] = true
			continue
		}
		if err := m.PutStation(rosen.Station{ID: n.ID, Name: name, Pos: n.Position}); err != nil {
			return nil, fmt.Errorf("graph node %s: %w", n.ID, err)
		}
	}
	for _, e := range g.Edges {
		if filtered[e.Source] || filtered[e.Target] {
			zap.S().Warnf("document: dropping edge %s: endpoint was filtered", e.ID)
			continue
		}
		err := m.PutLink(rosen.Link{
			ID:     e.ID,
			Source: e.Source,
			Target: e.Target,
			Weight: e.Weight,
			Type:   e.Type,
		})
		if errors.Is(err, rosen.ErrNoSuchElement) {
			// a dangling edge in a document is a structural defect, not a
			// transient reference
			return nil, rosen.ValidationError{Reason: fmt.Sprintf("graph edge %s: %s", e.ID, err)}
		}
		if err != nil {
			return nil, fmt.Errorf("graph edge %s: %w", e.ID, err)
		}
	}

	if len(routesData) == 0 {
		return m, nil
	}
	var routes Routes
	if err := json.Unmarshal(routesData, &routes); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	for id, r := range routes {
		if r.ID == "" {
			r.ID = id
		}
		err := m.PutRoute(rosen.Route{
			ID:       r.ID,
			Name:     r.Name,
			Stations: r.Nodes,
			Links:    r.Edges,
			Color:    r.Color,
			Offset:   r.Offset,
		})
		if err != nil {
			zap.S().Warnf("document: dropping route %s: %s", id, err)
		}
	}
	return m, nil
}
