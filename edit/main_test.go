package edit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "nyiyui.ca/rosen"
	"nyiyui.ca/rosen/document"
	"nyiyui.ca/rosen/engine"
	"nyiyui.ca/rosen/playback"
)

func newTestEditor() *Editor {
	return NewEditor(NewMap(), Config{})
}

// line adds a chain of n stations joined by track links and returns both
// id slices.
func line(t *testing.T, e *Editor, n int) (sts, lks []ID) {
	t.Helper()
	for i := 0; i < n; i++ {
		sts = append(sts, e.m.AddStation(fmt.Sprintf("st%d", i), Point{X: float64(i), Y: 0}))
	}
	for i := 0; i+1 < n; i++ {
		id, err := e.m.AddLink(sts[i], sts[i+1], 3, LinkTrack)
		if err != nil {
			t.Fatalf("AddLink: %s", err)
		}
		lks = append(lks, id)
	}
	return sts, lks
}

func TestModeSwitchResets(t *testing.T) {
	e := newTestEditor()
	sts, _ := line(t, e, 2)
	e.Handle(SetMode{ModeEdit})
	e.Handle(SelectElement{sts[0]})
	e.Handle(NewLink{})
	if e.ges == nil {
		t.Fatal("expected an armed gesture")
	}
	e.Handle(SetMode{ModePathSelect})
	if e.ges != nil {
		t.Error("gesture survived a mode switch")
	}
	if len(e.sel) != 0 {
		t.Errorf("selection survived entering path_select: %v", e.sel)
	}

	// display and edit share the single selection
	e.Handle(SetMode{ModeDisplay})
	e.Handle(SelectElement{sts[1]})
	e.Handle(SetMode{ModeEdit})
	if diff := cmp.Diff([]ID{sts[1]}, e.sel); diff != "" {
		t.Errorf("selection (-want +got):\n%s", diff)
	}
}

func TestSelectToggleInMultiMode(t *testing.T) {
	e := newTestEditor()
	sts, _ := line(t, e, 3)
	e.Handle(SetMode{ModeRouteEdit})
	e.Handle(SelectElement{sts[0]})
	e.Handle(SelectElement{sts[1]})
	e.Handle(SelectElement{sts[0]})
	if diff := cmp.Diff([]ID{sts[1]}, e.sel); diff != "" {
		t.Errorf("selection (-want +got):\n%s", diff)
	}
	e.Handle(SelectElement{ID("ghost")})
	if diff := cmp.Diff([]ID{sts[1]}, e.sel); diff != "" {
		t.Errorf("unknown id changed the selection (-want +got):\n%s", diff)
	}
}

func TestEdgeCreate(t *testing.T) {
	e := newTestEditor()
	sts, lks := line(t, e, 3)
	e.Handle(SetMode{ModeEdit})

	// arming needs exactly one selected station
	e.Handle(SelectElement{lks[0]})
	e.Handle(NewLink{})
	if e.ges != nil {
		t.Fatal("armed from a link selection")
	}

	e.Handle(SelectElement{sts[0]})
	e.Handle(NewLink{})
	before := len(e.m.Links())
	e.Handle(SelectElement{sts[2]})
	if e.ges != nil {
		t.Error("gesture still armed after target pick")
	}
	if got := len(e.m.Links()); got != before+1 {
		t.Fatalf("got %d links, want %d", got, before+1)
	}
	if len(e.sel) != 1 {
		t.Fatalf("selection = %v, want the new link", e.sel)
	}
	l, ok := e.m.Link(e.sel[0])
	if !ok {
		t.Fatal("selected element is not a link")
	}
	if l.Source != sts[0] || l.Target != sts[2] || l.Weight != defaultLinkWeight || l.Type != LinkTrack {
		t.Errorf("link = %+v", l)
	}

	// a self-loop target aborts without touching the map
	e.Handle(SelectElement{sts[0]})
	e.Handle(NewLink{})
	e.Handle(SelectElement{sts[0]})
	if got := len(e.m.Links()); got != before+1 {
		t.Errorf("self-loop target added a link")
	}
	if e.ges != nil {
		t.Error("gesture survived a failed target pick")
	}

	// a link target aborts too
	e.Handle(SelectElement{sts[0]})
	e.Handle(NewLink{})
	e.Handle(SelectElement{lks[0]})
	if got := len(e.m.Links()); got != before+1 {
		t.Errorf("link target added a link")
	}
}

func TestWeightGesture(t *testing.T) {
	setups := []struct {
		name  string
		runes string
		want  int
	}{
		{"applies digits", "12", 12},
		{"filters non-digits", "1a2 .", 12},
		{"empty keeps prior", "", 3},
		{"zero keeps prior", "0", 3},
	}
	for i, s := range setups {
		t.Run(fmt.Sprintf("%d-%s", i, s.name), func(t *testing.T) {
			e := newTestEditor()
			_, lks := line(t, e, 2)
			e.Handle(SetMode{ModeEdit})
			e.Handle(SelectElement{lks[0]})
			e.Handle(EditWeight{})
			for _, r := range s.runes {
				e.Handle(Rune{r})
			}
			e.Handle(Commit{})
			if e.ges != nil {
				t.Error("gesture still armed after commit")
			}
			l, _ := e.m.Link(lks[0])
			if l.Weight != s.want {
				t.Errorf("weight = %d, want %d", l.Weight, s.want)
			}
		})
	}
}

func TestNameGesture(t *testing.T) {
	e := newTestEditor()
	sts, _ := line(t, e, 1)
	e.Handle(SetMode{ModeEdit})
	e.Handle(SelectElement{sts[0]})
	e.Handle(EditName{})
	for _, r := range "Ueno" {
		e.Handle(Rune{r})
	}
	e.Handle(Commit{})
	st, _ := e.m.Station(sts[0])
	if st.Name != "Ueno" {
		t.Errorf("name = %q, want %q", st.Name, "Ueno")
	}

	// an empty commit keeps the prior name
	e.Handle(EditName{})
	e.Handle(Commit{})
	st, _ = e.m.Station(sts[0])
	if st.Name != "Ueno" {
		t.Errorf("empty commit changed name to %q", st.Name)
	}

	// escape abandons the buffer
	e.Handle(EditName{})
	e.Handle(Rune{'x'})
	e.Handle(Escape{})
	e.Handle(Commit{})
	st, _ = e.m.Station(sts[0])
	if st.Name != "Ueno" {
		t.Errorf("escaped gesture changed name to %q", st.Name)
	}

	// backspace trims the buffer, rune-wise
	e.Handle(EditName{})
	for _, r := range "Akihabaraあ" {
		e.Handle(Rune{r})
	}
	e.Handle(Backspace{})
	e.Handle(Commit{})
	st, _ = e.m.Station(sts[0])
	if st.Name != "Akihabara" {
		t.Errorf("name = %q, want %q", st.Name, "Akihabara")
	}
}

func TestDeleteCascade(t *testing.T) {
	e := newTestEditor()
	sts, lks := line(t, e, 3)
	rid := e.m.NewRoute("loop", "#e6194b")
	r, _ := e.m.Route(rid)
	r.Stations = []ID{sts[0], sts[1], sts[2]}
	r.Links = []ID{lks[0], lks[1]}
	if err := e.m.PutRoute(r); err != nil {
		t.Fatal(err)
	}
	e.Handle(SetMode{ModeEdit})
	e.Handle(SelectElement{sts[1]})
	e.Handle(Delete{})
	if len(e.sel) != 0 {
		t.Errorf("selection = %v after delete", e.sel)
	}
	if got := len(e.m.Links()); got != 0 {
		t.Errorf("%d links survived the cascade", got)
	}
	r, _ = e.m.Route(rid)
	want := Route{ID: rid, Name: "loop", Color: "#e6194b", Stations: []ID{sts[0], sts[2]}, Links: []ID{}}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("route (-want +got):\n%s", diff)
	}
}

func TestCommandsRequireEditMode(t *testing.T) {
	e := newTestEditor()
	e.Handle(NewStation{Point{X: 1, Y: 2}})
	if got := len(e.m.Stations()); got != 0 {
		t.Fatalf("display mode created %d stations", got)
	}
	if !strings.Contains(e.status, "edit mode") {
		t.Errorf("status = %q", e.status)
	}
	e.Handle(SetMode{ModeEdit})
	e.Handle(NewStation{Point{X: 1, Y: 2}})
	if got := len(e.m.Stations()); got != 1 {
		t.Fatalf("got %d stations, want 1", got)
	}
	if len(e.sel) != 1 {
		t.Errorf("new station not selected: %v", e.sel)
	}
}

func TestPathSelectFiresAtTwo(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req struct {
			Source ID `json:"source"`
			Target ID `json:"target"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %s", err)
		}
		fmt.Fprintf(w, `{"length": 6, "path": [%q, %q]}`, req.Source, req.Target)
	}))
	defer srv.Close()

	e := NewEditor(NewMap(), Config{Client: engine.NewClient(srv.URL)})
	sts, _ := line(t, e, 3)
	e.Handle(SetMode{ModePathSelect})
	e.Handle(SelectElement{sts[0]})
	if calls != 0 {
		t.Fatal("fired with one element selected")
	}
	e.Handle(SelectElement{sts[2]})
	if len(e.sel) != 0 {
		t.Fatalf("selection = %v, want cleared before the result lands", e.sel)
	}

	select {
	case ev := <-e.events:
		e.Handle(ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no engine result arrived")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if diff := cmp.Diff([]ID{sts[0], sts[2]}, e.pathHl); diff != "" {
		t.Errorf("path highlight (-want +got):\n%s", diff)
	}
	if e.inflight != 0 {
		t.Errorf("inflight = %d, want 0", e.inflight)
	}
}

func TestEngineResultsApplyInArrivalOrder(t *testing.T) {
	e := newTestEditor()
	e.Handle(engineDone{op: "shortest-path", path: &engine.PathResult{Length: 1, Path: []ID{"a"}}})
	e.Handle(engineDone{op: "shortest-path", path: &engine.PathResult{Length: 2, Path: []ID{"b"}}})
	if diff := cmp.Diff([]ID{"b"}, e.pathHl); diff != "" {
		t.Errorf("path highlight (-want +got):\n%s", diff)
	}
}

func TestEngineErrorClearsInteraction(t *testing.T) {
	e := newTestEditor()
	sts, _ := line(t, e, 2)
	e.Handle(SetMode{ModeEdit})
	e.Handle(SelectElement{sts[0]})
	e.Handle(NewLink{})
	e.Handle(engineDone{op: "simulate", err: fmt.Errorf("engine: exploded")})
	if e.ges != nil {
		t.Error("gesture survived an engine error")
	}
	if len(e.sel) != 0 {
		t.Errorf("selection = %v, want cleared by an engine error", e.sel)
	}
	if !strings.Contains(e.status, "exploded") {
		t.Errorf("status = %q", e.status)
	}
}

func TestCommitRouteClearsSelection(t *testing.T) {
	e := newTestEditor()
	// a fork: center with two outgoing links
	a := e.m.AddStation("a", Point{})
	b := e.m.AddStation("b", Point{X: 1})
	c := e.m.AddStation("c", Point{Y: 1})
	ab, _ := e.m.AddLink(a, b, 3, LinkTrack)
	ac, _ := e.m.AddLink(a, c, 3, LinkTrack)

	e.Handle(SetMode{ModeRouteEdit})
	e.Handle(NewRoute{})
	for _, id := range []ID{a, b, c, ab, ac} {
		e.Handle(SelectElement{id})
	}
	e.Handle(CommitRoute{})
	if len(e.sel) != 0 {
		t.Errorf("selection = %v, want cleared even by a rejected commit", e.sel)
	}
	if !strings.Contains(e.status, "ambiguous") {
		t.Errorf("status = %q", e.status)
	}
	r, _ := e.m.Route(e.targetRoute)
	if len(r.Stations) != 0 {
		t.Errorf("ambiguous commit filled the route: %+v", r)
	}

	// reselect only the simple path and commit via the enter key path
	for _, id := range []ID{a, b, ab} {
		e.Handle(SelectElement{id})
	}
	e.Handle(Commit{})
	if len(e.sel) != 0 {
		t.Errorf("selection = %v after a successful commit", e.sel)
	}
	r, _ = e.m.Route(e.targetRoute)
	if diff := cmp.Diff([]ID{a, b}, r.Stations); diff != "" {
		t.Errorf("route stations (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ID{ab}, r.Links); diff != "" {
		t.Errorf("route links (-want +got):\n%s", diff)
	}
}

func TestCommitRouteNeedsTarget(t *testing.T) {
	e := newTestEditor()
	sts, _ := line(t, e, 2)
	e.Handle(SetMode{ModeRouteEdit})
	e.Handle(SelectElement{sts[0]})
	e.Handle(CommitRoute{})
	if !strings.Contains(e.status, "no target route") {
		t.Errorf("status = %q", e.status)
	}
}

func simResults(section ID) *engine.SimulationResults {
	return &engine.SimulationResults{
		TrainPositions: []engine.TrainPositions{
			{Time: 0, Trains: []engine.TrainState{{
				ID:          engine.TrainID{RouteIdx: 0, Count: 0},
				CurrSection: section,
				Pos:         0,
			}}},
		},
		TrainToRoute:      map[engine.TrainID]ID{{RouteIdx: 0, Count: 0}: "r1"},
		StationStatistics: map[ID]engine.StationStatistic{},
	}
}

func TestSimulateStartsPlayback(t *testing.T) {
	e := newTestEditor()
	sts, _ := line(t, e, 2)
	rid := e.m.NewRoute("r", "#3cb44b")
	res := simResults(sts[0])
	res.TrainToRoute[engine.TrainID{RouteIdx: 0, Count: 0}] = rid

	e.Handle(engineDone{op: "simulate", sim: res})
	if e.lastSim != res {
		t.Fatal("simulation results not retained")
	}
	if !e.player.Playing() {
		t.Fatal("playback did not start")
	}

	e.Handle(playTick{playback.Tick{Generation: e.player.Generation()}})
	v, ok := e.views.Last()
	if !ok {
		t.Fatal("no view published")
	}
	if len(v.Markers) != 1 {
		t.Fatalf("markers = %+v, want one", v.Markers)
	}
	st, _ := e.m.Station(sts[0])
	if v.Markers[0].Pos != st.Pos {
		t.Errorf("marker at %+v, want %+v", v.Markers[0].Pos, st.Pos)
	}
}

func TestNewRunResetsOverlay(t *testing.T) {
	e := newTestEditor()
	sts, _ := line(t, e, 2)
	rid := e.m.NewRoute("r", "#f58231")
	res := simResults(sts[0])
	res.TrainToRoute[engine.TrainID{RouteIdx: 0, Count: 0}] = rid
	res.TrainPositions[0].Time = 5

	e.Handle(engineDone{op: "simulate", sim: res})
	e.Handle(playTick{playback.Tick{Generation: e.player.Generation()}})
	if len(e.markers) != 1 || e.playTime != 5 {
		t.Fatalf("markers = %+v, playTime = %d; want the first run on screen", e.markers, e.playTime)
	}

	// a second run blanks the overlay until its own first tick
	e.Handle(engineDone{op: "optimize", sim: simResults(sts[1])})
	v, ok := e.views.Last()
	if !ok {
		t.Fatal("no view published")
	}
	if len(v.Markers) != 0 {
		t.Errorf("markers = %+v, want none before the new run ticks", v.Markers)
	}
	if v.PlayTime != 0 {
		t.Errorf("play time = %d, want 0 before the new run ticks", v.PlayTime)
	}
}

func TestViewPublishedPerEvent(t *testing.T) {
	e := newTestEditor()
	ch := make(chan View, 16)
	cancel := e.views.Subscribe("test", ch)
	defer cancel()
	e.Handle(SetMode{ModeEdit})
	e.Handle(NewStation{Point{X: 5, Y: 5}})
	if got := len(ch); got != 2 {
		t.Fatalf("got %d views, want 2", got)
	}
	<-ch
	v := <-ch
	if v.Mode != ModeEdit || len(v.Stations) != 1 || len(v.Selection) != 1 {
		t.Errorf("view = %+v", v)
	}
	if v.Status == "" {
		t.Error("empty status")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := document.OpenStore(filepath.Join(dir, "workspace.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	e := NewEditor(NewMap(), Config{Store: store})
	sts, _ := line(t, e, 2)
	e.Handle(SaveDoc{})
	if e.status != "saved" {
		t.Fatalf("status = %q", e.status)
	}

	// leave a playback overlay behind, then mutate and load back
	res := simResults(sts[0])
	res.TrainPositions[0].Time = 9
	e.Handle(engineDone{op: "simulate", sim: res})
	e.Handle(playTick{playback.Tick{Generation: e.player.Generation()}})
	if e.playTime != 9 {
		t.Fatalf("playTime = %d, want 9", e.playTime)
	}

	e.Handle(SetMode{ModeEdit})
	e.Handle(SelectElement{sts[0]})
	e.Handle(Delete{})
	if got := len(e.m.Stations()); got != 1 {
		t.Fatalf("got %d stations after delete", got)
	}
	e.Handle(LoadDoc{})
	if got := len(e.m.Stations()); got != 2 {
		t.Errorf("got %d stations after load, want 2", got)
	}
	if got := len(e.m.Links()); got != 1 {
		t.Errorf("got %d links after load, want 1", got)
	}
	if e.sel != nil || e.ges != nil {
		t.Error("interaction state survived a load")
	}
	if e.playTime != 0 || e.markers != nil || e.lastSim != nil {
		t.Error("playback state survived a load")
	}
}

func TestLoadWithoutStore(t *testing.T) {
	e := newTestEditor()
	e.Handle(LoadDoc{})
	if !strings.Contains(e.status, "no workspace") {
		t.Errorf("status = %q", e.status)
	}
}

func TestWriteStringline(t *testing.T) {
	e := newTestEditor()
	sts, lks := line(t, e, 2)
	rid := e.m.NewRoute("r", "#4363d8")
	r, _ := e.m.Route(rid)
	r.Stations = sts
	r.Links = lks
	if err := e.m.PutRoute(r); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "out.png")
	e.Handle(WriteStringline{Path: path})
	if !strings.Contains(e.status, "no simulation") {
		t.Fatalf("status = %q", e.status)
	}

	res := simResults(sts[0])
	res.TrainToRoute[engine.TrainID{RouteIdx: 0, Count: 0}] = rid
	res.TrainPositions = append(res.TrainPositions, engine.TrainPositions{
		Time: 1, Trains: []engine.TrainState{{
			ID:          engine.TrainID{RouteIdx: 0, Count: 0},
			CurrSection: lks[0],
			Pos:         2,
		}},
	})
	e.Handle(engineDone{op: "simulate", sim: res})
	e.Handle(WriteStringline{Path: path})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "\x89PNG") {
		t.Error("output is not a PNG")
	}
}
