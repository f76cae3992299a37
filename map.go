package rosen

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/exp/slices"
)

// ErrNoSuchElement is returned for operations referencing an id absent
// from the map. Callers generally treat it as a no-op.
var ErrNoSuchElement = errors.New("no such element")

// Map holds the editable network: stations, links, and routes. It does no
// locking; all mutation must happen on a single goroutine (the editor
// event loop).
type Map struct {
	stations map[ID]*Station
	links    map[ID]*Link
	routes   map[ID]*Route
	nameSeq  int
}

func NewMap() *Map {
	return &Map{
		stations: map[ID]*Station{},
		links:    map[ID]*Link{},
		routes:   map[ID]*Route{},
	}
}

func (m *Map) exists(id ID) bool {
	return m.KindOf(id) != KindNone
}

func (m *Map) KindOf(id ID) ElementKind {
	if _, ok := m.stations[id]; ok {
		return KindStation
	}
	if _, ok := m.links[id]; ok {
		return KindLink
	}
	if _, ok := m.routes[id]; ok {
		return KindRoute
	}
	return KindNone
}

// AddStation creates a station with a fresh id. An empty name gets a
// generated placeholder so a document round-trip never drops the station
// (loading filters out nameless nodes).
func (m *Map) AddStation(name string, pos Point) ID {
	if name == "" {
		m.nameSeq++
		name = fmt.Sprintf("station %d", m.nameSeq)
	}
	id := NewID()
	m.stations[id] = &Station{ID: id, Name: name, Pos: pos}
	return id
}

// PutStation inserts a station with an explicit id (document loading).
func (m *Map) PutStation(s Station) error {
	if s.ID == "" {
		return validationf("station id must not be empty")
	}
	if s.Name == "" {
		return validationf("station %s: name must not be empty", s.ID)
	}
	if m.exists(s.ID) {
		return validationf("duplicate id %s", s.ID)
	}
	m.stations[s.ID] = &s
	return nil
}

// AddLink creates a link with a fresh id between two existing stations.
func (m *Map) AddLink(source, target ID, weight int, typ LinkType) (ID, error) {
	id := NewID()
	err := m.PutLink(Link{ID: id, Source: source, Target: target, Weight: weight, Type: typ})
	if err != nil {
		return "", err
	}
	return id, nil
}

// PutLink inserts a link with an explicit id. Both endpoints must already
// be stations; self-loops are rejected (a route could never consume one).
func (m *Map) PutLink(l Link) error {
	if l.ID == "" {
		return validationf("link id must not be empty")
	}
	if m.exists(l.ID) {
		return validationf("duplicate id %s", l.ID)
	}
	if _, ok := m.stations[l.Source]; !ok {
		return fmt.Errorf("link %s: source %s: %w", l.ID, l.Source, ErrNoSuchElement)
	}
	if _, ok := m.stations[l.Target]; !ok {
		return fmt.Errorf("link %s: target %s: %w", l.ID, l.Target, ErrNoSuchElement)
	}
	if l.Source == l.Target {
		return validationf("link %s: self-loop on %s", l.ID, l.Source)
	}
	if l.Weight < 1 {
		return validationf("link %s: weight %d is not positive", l.ID, l.Weight)
	}
	if !l.Type.Valid() {
		return validationf("link %s: unknown type %q", l.ID, l.Type)
	}
	m.links[l.ID] = &l
	return nil
}

// RemoveStation deletes a station, every link touching it, and prunes all
// of them from route membership. Reports whether anything was deleted.
func (m *Map) RemoveStation(id ID) bool {
	if _, ok := m.stations[id]; !ok {
		return false
	}
	delete(m.stations, id)
	removed := []ID{id}
	for li, l := range m.links {
		if l.Source == id || l.Target == id {
			delete(m.links, li)
			removed = append(removed, li)
		}
	}
	m.pruneRoutes(removed)
	return true
}

// RemoveLink deletes a link and prunes it from route membership.
func (m *Map) RemoveLink(id ID) bool {
	if _, ok := m.links[id]; !ok {
		return false
	}
	delete(m.links, id)
	m.pruneRoutes([]ID{id})
	return true
}

// pruneRoutes drops the given ids from every route's membership. A route
// whose path is broken keeps its surviving members; recommitting the
// route rebuilds a proper path.
func (m *Map) pruneRoutes(removed []ID) {
	for _, r := range m.routes {
		r.Stations = pruneIDs(r.Stations, removed)
		r.Links = pruneIDs(r.Links, removed)
	}
}

func pruneIDs(ids, removed []ID) []ID {
	kept := ids[:0]
	for _, id := range ids {
		if !slices.Contains(removed, id) {
			kept = append(kept, id)
		}
	}
	return kept
}

func (m *Map) MoveStation(id ID, pos Point) error {
	s, ok := m.stations[id]
	if !ok {
		return fmt.Errorf("station %s: %w", id, ErrNoSuchElement)
	}
	s.Pos = pos
	return nil
}

// SetStationName renames a station. An empty name is rejected and the
// prior name is retained.
func (m *Map) SetStationName(id ID, name string) error {
	s, ok := m.stations[id]
	if !ok {
		return fmt.Errorf("station %s: %w", id, ErrNoSuchElement)
	}
	if name == "" {
		return validationf("station %s: name must not be empty", id)
	}
	s.Name = name
	return nil
}

// SetLinkWeight updates a link's weight. Non-positive weights are
// rejected and the prior value is retained.
func (m *Map) SetLinkWeight(id ID, weight int) error {
	l, ok := m.links[id]
	if !ok {
		return fmt.Errorf("link %s: %w", id, ErrNoSuchElement)
	}
	if weight < 1 {
		return validationf("link %s: weight %d is not positive", id, weight)
	}
	l.Weight = weight
	return nil
}

func (m *Map) SetLinkType(id ID, typ LinkType) error {
	l, ok := m.links[id]
	if !ok {
		return fmt.Errorf("link %s: %w", id, ErrNoSuchElement)
	}
	if !typ.Valid() {
		return validationf("link %s: unknown type %q", id, typ)
	}
	l.Type = typ
	return nil
}

// ToggleLinkType flips a link between track and walk.
func (m *Map) ToggleLinkType(id ID) error {
	l, ok := m.links[id]
	if !ok {
		return fmt.Errorf("link %s: %w", id, ErrNoSuchElement)
	}
	if l.Type == LinkTrack {
		l.Type = LinkWalk
	} else {
		l.Type = LinkTrack
	}
	return nil
}

// NewRoute creates an empty route. Routes are only ever populated by
// BuildRoute commits.
func (m *Map) NewRoute(name, color string) ID {
	id := NewID()
	if name == "" {
		name = fmt.Sprintf("route %d", len(m.routes)+1)
	}
	m.routes[id] = &Route{ID: id, Name: name, Color: color}
	return id
}

// PutRoute inserts or replaces a route. Every referenced station and link
// must exist.
func (m *Map) PutRoute(r Route) error {
	if r.ID == "" {
		return validationf("route id must not be empty")
	}
	switch m.KindOf(r.ID) {
	case KindNone, KindRoute:
	default:
		return validationf("duplicate id %s", r.ID)
	}
	for _, sid := range r.Stations {
		if _, ok := m.stations[sid]; !ok {
			return fmt.Errorf("route %s: station %s: %w", r.ID, sid, ErrNoSuchElement)
		}
	}
	for _, lid := range r.Links {
		if _, ok := m.links[lid]; !ok {
			return fmt.Errorf("route %s: link %s: %w", r.ID, lid, ErrNoSuchElement)
		}
	}
	r.Stations = slices.Clone(r.Stations)
	r.Links = slices.Clone(r.Links)
	m.routes[r.ID] = &r
	return nil
}

func (m *Map) RemoveRoute(id ID) bool {
	if _, ok := m.routes[id]; !ok {
		return false
	}
	delete(m.routes, id)
	return true
}

func (m *Map) Station(id ID) (Station, bool) {
	s, ok := m.stations[id]
	if !ok {
		return Station{}, false
	}
	return *s, true
}

func (m *Map) Link(id ID) (Link, bool) {
	l, ok := m.links[id]
	if !ok {
		return Link{}, false
	}
	return *l, true
}

func (m *Map) Route(id ID) (Route, bool) {
	r, ok := m.routes[id]
	if !ok {
		return Route{}, false
	}
	return cloneRoute(*r), true
}

func cloneRoute(r Route) Route {
	r.Stations = slices.Clone(r.Stations)
	r.Links = slices.Clone(r.Links)
	return r
}

// Stations returns all stations sorted by id.
func (m *Map) Stations() []Station {
	out := make([]Station, 0, len(m.stations))
	for _, s := range m.stations {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Links returns all links sorted by id.
func (m *Map) Links() []Link {
	out := make([]Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Routes returns deep copies of all routes sorted by id.
func (m *Map) Routes() []Route {
	out := make([]Route, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, cloneRoute(*r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Export is a deep, deterministically ordered copy of the model. Playback
// markers live outside the Map entirely, so an Export never contains
// simulation artifacts.
type Export struct {
	Stations []Station
	Links    []Link
	Routes   []Route
}

func (m *Map) Export() Export {
	return Export{
		Stations: m.Stations(),
		Links:    m.Links(),
		Routes:   m.Routes(),
	}
}
