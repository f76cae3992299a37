// Package edit is the editor core: one goroutine owns the Map and all
// interaction state, consumes events (key commands from the surface,
// engine results, playback ticks), and publishes an immutable View after
// every handled event. Nothing here is fatal; bad input lands in the
// status line and the loop keeps going.
package edit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	. "nyiyui.ca/rosen"
	"nyiyui.ca/rosen/document"
	"nyiyui.ca/rosen/engine"
	"nyiyui.ca/rosen/notify"
	"nyiyui.ca/rosen/playback"
	"nyiyui.ca/rosen/stringline"
)

type Mode int

const (
	// ModeDisplay is the initial mode: browse, select, run simulations.
	ModeDisplay Mode = iota
	// ModeEdit mutates the network.
	ModeEdit
	// ModePathSelect picks two elements for a shortest-path query.
	ModePathSelect
	// ModeRouteEdit collects an unordered selection to commit as a route.
	ModeRouteEdit
)

func (m Mode) String() string {
	switch m {
	case ModeDisplay:
		return "display"
	case ModeEdit:
		return "edit"
	case ModePathSelect:
		return "path_select"
	case ModeRouteEdit:
		return "route_edit"
	default:
		panic(fmt.Sprintf("invalid Mode %d", int(m)))
	}
}

func (m Mode) multiSelect() bool { return m == ModePathSelect || m == ModeRouteEdit }

const defaultLinkWeight = 3

// defaultFrequency is the departure frequency sent with Simulate when the
// caller passes zero.
const defaultFrequency = 60

var routePalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#42d4f4", "#f032e6",
}

// gesture is the in-progress edit sub-state. nil means none; exactly one
// variant is active otherwise, so impossible flag combinations cannot be
// represented.
type gesture interface {
	hint() string
}

type edgeCreate struct {
	From ID
}

func (g edgeCreate) hint() string {
	return fmt.Sprintf("link from %s: select a target station", short(g.From))
}

type linkWeight struct {
	Link ID
	Buf  string
}

func (g linkWeight) hint() string {
	return fmt.Sprintf("weight for %s: %s_", short(g.Link), g.Buf)
}

type stationName struct {
	Station ID
	Buf     string
}

func (g stationName) hint() string {
	return fmt.Sprintf("name for %s: %s_", short(g.Station), g.Buf)
}

// Event is anything the editor loop consumes. The concrete types below
// are the whole vocabulary; the surface translates raw terminal events
// into these, and tests drive them directly.
type Event any

type (
	// SelectElement selects a station or link. Semantics depend on mode:
	// single-element in display/edit, additive toggle in path_select and
	// route_edit.
	SelectElement struct{ ID ID }
	ClearSelection struct{}
	SetMode        struct{ Mode Mode }
	// NewStation creates a station; the surface passes the viewport
	// center as the position.
	NewStation struct{ At Point }
	// MoveStation repositions a station (mouse drag).
	MoveStation struct {
		ID ID
		To Point
	}
	// Delete removes every selected element, cascading.
	Delete struct{}
	// NewLink arms the edge-create gesture from the selected station.
	NewLink struct{}
	// EditWeight arms digit entry for the selected link's weight.
	EditWeight struct{}
	// EditName arms text entry for the selected station's name.
	EditName struct{}
	// ToggleType flips the selected link between track and walk.
	ToggleType struct{}
	// Rune feeds one character to the active gesture.
	Rune struct{ R rune }
	// Backspace removes the last buffered character of the active
	// gesture.
	Backspace struct{}
	// Commit applies the active gesture.
	Commit struct{}
	// Escape cancels the active gesture and clears the selection.
	Escape struct{}
	// SelectRoute picks the target route for route_edit commits.
	SelectRoute struct{ ID ID }
	// NewRoute creates an empty route and makes it the target.
	NewRoute struct{}
	// CommitRoute builds an ordered route from the current selection into
	// the target route.
	CommitRoute struct{}
	// Simulate asks the engine to run the routes at a departure
	// frequency (zero means the default).
	Simulate struct{ Frequency uint64 }
	// Optimize asks the engine to choose frequencies itself.
	Optimize struct{}
	// SaveDoc and LoadDoc talk to the workspace store.
	SaveDoc struct{}
	LoadDoc struct{}
	// WriteStringline renders the last simulation to a PNG file.
	WriteStringline struct{ Path string }
)

// engineDone delivers an asynchronous engine result into the loop.
// Overlapping calls are allowed and applied in arrival order.
type engineDone struct {
	op   string
	path *engine.PathResult
	sim  *engine.SimulationResults
	err  error
}

type playTick struct{ tk playback.Tick }

// View is the immutable render snapshot published after every handled
// event.
type View struct {
	Mode        Mode
	Gesture     string // human-readable hint, "" when none
	Status      string
	Stations    []Station
	Links       []Link
	Routes      []Route
	Selection   []ID
	TargetRoute ID
	// PathHighlight is the station sequence of the last shortest-path
	// answer.
	PathHighlight []ID
	Markers       []playback.Marker
	PlayTime      uint32
	Busy          int
	// Sim is the last simulation result, shared read-only.
	Sim *engine.SimulationResults
}

type Config struct {
	Client       *engine.Client
	Store        *document.Store
	TickInterval time.Duration
	// Frequency is the departure frequency used when Simulate does not
	// carry one. Zero means defaultFrequency.
	Frequency uint64
}

type Editor struct {
	m      *Map
	mode   Mode
	sel    []ID
	ges    gesture
	status string

	client *engine.Client
	store  *document.Store
	player *playback.Player
	views  *notify.Multiplexer[View]
	events chan Event
	freq   uint64

	inflight    int
	lastSim     *engine.SimulationResults
	pathHl      []ID
	targetRoute ID
	markers     []playback.Marker
	playTime    uint32
}

func NewEditor(m *Map, conf Config) *Editor {
	e := &Editor{
		m:      m,
		mode:   ModeDisplay,
		status: "ready",
		client: conf.Client,
		store:  conf.Store,
		views:  notify.NewMultiplexer[View]("editor-views"),
		events: make(chan Event, 64),
		freq:   conf.Frequency,
	}
	if e.freq == 0 {
		e.freq = defaultFrequency
	}
	e.player = playback.NewPlayer(conf.TickInterval, func(tk playback.Tick) {
		e.events <- playTick{tk}
	})
	return e
}

func (e *Editor) Views() *notify.Multiplexer[View] { return e.views }

func (e *Editor) Frames() *notify.Multiplexer[playback.Frame] { return e.player.Frames() }

// Post queues an event from another goroutine.
func (e *Editor) Post(ev Event) { e.events <- ev }

// Run consumes events until ctx is canceled. All state, including the
// Map, is only ever touched from this goroutine.
func (e *Editor) Run(ctx context.Context) {
	e.publish()
	for {
		select {
		case <-ctx.Done():
			e.player.Stop()
			return
		case ev := <-e.events:
			e.Handle(ev)
		}
	}
}

// Handle processes one event to completion and publishes the resulting
// View. Exported so tests can drive the editor synchronously.
func (e *Editor) Handle(ev Event) {
	switch ev := ev.(type) {
	case SetMode:
		e.setMode(ev.Mode)
	case SelectElement:
		e.selectElement(ev.ID)
	case ClearSelection:
		e.sel = nil
	case NewStation:
		e.newStation(ev.At)
	case MoveStation:
		e.moveStation(ev.ID, ev.To)
	case Delete:
		e.deleteSelected()
	case NewLink:
		e.armEdgeCreate()
	case EditWeight:
		e.armLinkWeight()
	case EditName:
		e.armStationName()
	case ToggleType:
		e.toggleType()
	case Rune:
		e.feedRune(ev.R)
	case Backspace:
		e.feedBackspace()
	case Commit:
		if e.ges == nil && e.mode == ModeRouteEdit {
			e.commitRoute()
		} else {
			e.commitGesture()
		}
	case Escape:
		e.ges = nil
		e.sel = nil
	case SelectRoute:
		e.selectRoute(ev.ID)
	case NewRoute:
		e.newRoute()
	case CommitRoute:
		e.commitRoute()
	case Simulate:
		e.fireSimulate(ev.Frequency)
	case Optimize:
		e.fireOptimize()
	case SaveDoc:
		e.saveDoc()
	case LoadDoc:
		e.loadDoc()
	case WriteStringline:
		e.writeStringline(ev.Path)
	case engineDone:
		e.engineDone(ev)
	case playTick:
		e.player.Advance(ev.tk, e.m)
		if f, ok := e.player.Frames().Last(); ok {
			e.markers = f.Markers
			e.playTime = f.Time
		}
	default:
		zap.S().Warnf("edit: unknown event %#v", ev)
	}
	e.publish()
}

func (e *Editor) setMode(m Mode) {
	if m == e.mode {
		return
	}
	// switching modes always abandons the gesture; the additive modes
	// additionally start and end with a fresh selection
	e.ges = nil
	if m.multiSelect() || e.mode.multiSelect() {
		e.sel = nil
	}
	e.mode = m
	e.status = "mode " + m.String()
}

func (e *Editor) selectElement(id ID) {
	switch e.m.KindOf(id) {
	case KindStation, KindLink:
	default:
		zap.S().Debugf("edit: select %s: not a canvas element", id)
		return
	}
	if g, ok := e.ges.(edgeCreate); ok {
		e.finishEdgeCreate(g, id)
		return
	}
	if !e.mode.multiSelect() {
		e.sel = []ID{id}
		return
	}
	if i := slices.Index(e.sel, id); i >= 0 {
		e.sel = slices.Delete(e.sel, i, i+1)
		return
	}
	e.sel = append(e.sel, id)
	if e.mode == ModePathSelect && len(e.sel) == 2 {
		e.fireShortestPath(e.sel[0], e.sel[1])
		// cleared now, not when the result lands
		e.sel = nil
	}
}

func (e *Editor) requireMode(m Mode) bool {
	if e.mode != m {
		e.status = fmt.Sprintf("switch to %s mode first", m)
		return false
	}
	return true
}

func (e *Editor) one(kind ElementKind) (ID, bool) {
	if len(e.sel) != 1 || e.m.KindOf(e.sel[0]) != kind {
		e.status = fmt.Sprintf("select exactly one %s", kind)
		return "", false
	}
	return e.sel[0], true
}

func (e *Editor) newStation(at Point) {
	if !e.requireMode(ModeEdit) {
		return
	}
	id := e.m.AddStation("", at)
	e.sel = []ID{id}
	s, _ := e.m.Station(id)
	e.status = fmt.Sprintf("added %s", s.Name)
}

func (e *Editor) moveStation(id ID, to Point) {
	if !e.requireMode(ModeEdit) {
		return
	}
	if err := e.m.MoveStation(id, to); err != nil {
		e.fail(err)
	}
}

func (e *Editor) deleteSelected() {
	if !e.requireMode(ModeEdit) {
		return
	}
	if len(e.sel) == 0 {
		e.status = "nothing selected"
		return
	}
	n := 0
	for _, id := range e.sel {
		switch e.m.KindOf(id) {
		case KindStation:
			if e.m.RemoveStation(id) {
				n++
			}
		case KindLink:
			if e.m.RemoveLink(id) {
				n++
			}
		case KindRoute:
			if e.m.RemoveRoute(id) {
				n++
			}
		}
	}
	e.sel = nil
	e.ges = nil
	if e.targetRoute != "" && e.m.KindOf(e.targetRoute) == KindNone {
		e.targetRoute = ""
	}
	e.status = fmt.Sprintf("deleted %d", n)
}

func (e *Editor) armEdgeCreate() {
	if !e.requireMode(ModeEdit) {
		return
	}
	id, ok := e.one(KindStation)
	if !ok {
		return
	}
	e.ges = edgeCreate{From: id}
	e.status = "select link target"
}

func (e *Editor) finishEdgeCreate(g edgeCreate, target ID) {
	e.ges = nil // regardless of outcome
	if e.m.KindOf(target) != KindStation {
		e.status = "link target must be a station"
		return
	}
	id, err := e.m.AddLink(g.From, target, defaultLinkWeight, LinkTrack)
	if err != nil {
		e.fail(err)
		return
	}
	e.sel = []ID{id}
	e.status = "link added"
}

func (e *Editor) armLinkWeight() {
	if !e.requireMode(ModeEdit) {
		return
	}
	id, ok := e.one(KindLink)
	if !ok {
		return
	}
	e.ges = linkWeight{Link: id}
	l, _ := e.m.Link(id)
	e.status = fmt.Sprintf("weight is %d; type digits, enter to apply", l.Weight)
}

func (e *Editor) armStationName() {
	if !e.requireMode(ModeEdit) {
		return
	}
	id, ok := e.one(KindStation)
	if !ok {
		return
	}
	e.ges = stationName{Station: id}
	s, _ := e.m.Station(id)
	e.status = fmt.Sprintf("name is %q; type, enter to apply", s.Name)
}

func (e *Editor) toggleType() {
	if !e.requireMode(ModeEdit) {
		return
	}
	id, ok := e.one(KindLink)
	if !ok {
		return
	}
	if err := e.m.ToggleLinkType(id); err != nil {
		e.fail(err)
		return
	}
	l, _ := e.m.Link(id)
	e.status = fmt.Sprintf("link is now %s", l.Type)
}

func (e *Editor) feedRune(r rune) {
	switch g := e.ges.(type) {
	case linkWeight:
		if unicode.IsDigit(r) {
			g.Buf += string(r)
			e.ges = g
		}
	case stationName:
		if unicode.IsPrint(r) {
			g.Buf += string(r)
			e.ges = g
		}
	}
}

func (e *Editor) feedBackspace() {
	trim := func(s string) string {
		rs := []rune(s)
		if len(rs) == 0 {
			return s
		}
		return string(rs[:len(rs)-1])
	}
	switch g := e.ges.(type) {
	case linkWeight:
		g.Buf = trim(g.Buf)
		e.ges = g
	case stationName:
		g.Buf = trim(g.Buf)
		e.ges = g
	}
}

func (e *Editor) commitGesture() {
	switch g := e.ges.(type) {
	case linkWeight:
		e.ges = nil
		w, err := strconv.Atoi(g.Buf)
		if err != nil || w < 1 {
			e.status = "weight unchanged"
			return
		}
		if err := e.m.SetLinkWeight(g.Link, w); err != nil {
			e.fail(err)
			return
		}
		e.status = fmt.Sprintf("weight set to %d", w)
	case stationName:
		e.ges = nil
		if g.Buf == "" {
			e.status = "name unchanged"
			return
		}
		if err := e.m.SetStationName(g.Station, g.Buf); err != nil {
			e.fail(err)
			return
		}
		e.status = fmt.Sprintf("renamed to %s", g.Buf)
	}
}

func (e *Editor) selectRoute(id ID) {
	if e.m.KindOf(id) != KindRoute {
		zap.S().Debugf("edit: select route %s: not a route", id)
		return
	}
	e.targetRoute = id
	r, _ := e.m.Route(id)
	e.status = fmt.Sprintf("target route %s", r.Name)
}

func (e *Editor) newRoute() {
	color := routePalette[len(e.m.Routes())%len(routePalette)]
	id := e.m.NewRoute("", color)
	e.targetRoute = id
	r, _ := e.m.Route(id)
	e.status = fmt.Sprintf("created %s", r.Name)
}

func (e *Editor) commitRoute() {
	if !e.requireMode(ModeRouteEdit) {
		return
	}
	if e.targetRoute == "" {
		e.status = "no target route"
		return
	}
	sel := e.sel
	// a commit consumes the selection, accepted or not
	e.sel = nil
	stations, links, err := BuildRoute(e.m, sel)
	if err != nil {
		e.fail(err)
		return
	}
	r, ok := e.m.Route(e.targetRoute)
	if !ok {
		e.status = "target route is gone"
		e.targetRoute = ""
		return
	}
	r.Stations = stations
	r.Links = links
	if err := e.m.PutRoute(r); err != nil {
		e.fail(err)
		return
	}
	e.status = fmt.Sprintf("%s: %d stations", r.Name, len(stations))
}

func (e *Editor) engineReady() bool {
	if e.client == nil {
		e.status = "no engine configured"
		return false
	}
	return true
}

func (e *Editor) fireShortestPath(a, b ID) {
	if !e.engineReady() {
		return
	}
	ex := e.m.Export()
	g, routes := engine.RequestGraph(ex), engine.RequestRoutes(ex)
	e.inflight++
	e.status = fmt.Sprintf("path %s → %s ...", short(a), short(b))
	go func() {
		res, err := e.client.ShortestPath(context.Background(), g, routes, a, b)
		e.events <- engineDone{op: "shortest-path", path: res, err: err}
	}()
}

func (e *Editor) fireSimulate(frequency uint64) {
	if !e.engineReady() {
		return
	}
	if frequency == 0 {
		frequency = e.freq
	}
	ex := e.m.Export()
	g, routes := engine.RequestGraph(ex), engine.RequestRoutes(ex)
	e.inflight++
	e.status = fmt.Sprintf("simulating at frequency %d ...", frequency)
	go func() {
		res, err := e.client.Simulate(context.Background(), g, routes, frequency)
		e.events <- engineDone{op: "simulate", sim: res, err: err}
	}()
}

func (e *Editor) fireOptimize() {
	if !e.engineReady() {
		return
	}
	ex := e.m.Export()
	g, routes := engine.RequestGraph(ex), engine.RequestRoutes(ex)
	e.inflight++
	e.status = "optimizing ..."
	go func() {
		res, err := e.client.Optimize(context.Background(), g, routes)
		e.events <- engineDone{op: "optimize", sim: res, err: err}
	}()
}

func (e *Editor) engineDone(ev engineDone) {
	e.inflight--
	if ev.err != nil {
		// whatever interaction was in flight is meaningless now
		e.ges = nil
		e.sel = nil
		e.status = ev.err.Error()
		zap.S().Warnf("edit: %s", ev.err)
		return
	}
	switch ev.op {
	case "shortest-path":
		if ev.path == nil {
			e.pathHl = nil
			e.status = "unreachable"
			return
		}
		e.pathHl = ev.path.Path
		e.status = fmt.Sprintf("path length %d over %d stations", ev.path.Length, len(ev.path.Path))
	case "simulate", "optimize":
		e.lastSim = ev.sim
		// the overlay stays blank until the new run's first tick
		e.markers = nil
		e.playTime = 0
		e.player.Start(ev.sim)
		e.status = fmt.Sprintf("%s done: %d trains, %d snapshots",
			ev.op, len(ev.sim.TrainToRoute), len(ev.sim.TrainPositions))
	}
}

func (e *Editor) saveDoc() {
	if e.store == nil {
		e.status = "no workspace store"
		return
	}
	if err := e.store.Save(e.m.Export()); err != nil {
		e.fail(err)
		return
	}
	e.status = "saved"
}

func (e *Editor) loadDoc() {
	if e.store == nil {
		e.status = "no workspace store"
		return
	}
	m2, err := e.store.Load()
	if err != nil {
		// prior state stays untouched
		e.fail(err)
		return
	}
	e.player.Stop()
	e.m = m2
	e.sel = nil
	e.ges = nil
	e.pathHl = nil
	e.targetRoute = ""
	e.markers = nil
	e.playTime = 0
	e.lastSim = nil
	e.status = "loaded"
}

func (e *Editor) writeStringline(path string) {
	if e.lastSim == nil {
		e.status = "no simulation to draw"
		return
	}
	f, err := os.Create(path)
	if err != nil {
		e.fail(err)
		return
	}
	defer f.Close()
	err = stringline.Render(f, e.lastSim, e.m.Routes(), stringline.LastTime(e.lastSim), nil)
	if err != nil {
		e.fail(err)
		return
	}
	e.status = "wrote " + path
}

func (e *Editor) fail(err error) {
	if errors.Is(err, ErrNoSuchElement) {
		// stale reference: silently a no-op
		zap.S().Debugf("edit: %s", err)
		return
	}
	e.status = err.Error()
	zap.S().Warnf("edit: %s", err)
}

func (e *Editor) publish() {
	ex := e.m.Export()
	var hint string
	if e.ges != nil {
		hint = e.ges.hint()
	}
	v := View{
		Mode:          e.mode,
		Gesture:       hint,
		Status:        e.status,
		Stations:      ex.Stations,
		Links:         ex.Links,
		Routes:        ex.Routes,
		Selection:     slices.Clone(e.sel),
		TargetRoute:   e.targetRoute,
		PathHighlight: slices.Clone(e.pathHl),
		Markers:       e.markers,
		PlayTime:      e.playTime,
		Busy:          e.inflight,
		Sim:           e.lastSim,
	}
	e.views.Publish(v)
}

func short(id ID) string {
	s := string(id)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
