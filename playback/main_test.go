package playback

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"nyiyui.ca/rosen"
	"nyiyui.ca/rosen/engine"
)

func buildMap(t testing.TB) (m *rosen.Map, a, b, ab, rid rosen.ID) {
	m = rosen.NewMap()
	a = m.AddStation("a", rosen.Point{X: 0, Y: 0})
	b = m.AddStation("b", rosen.Point{X: 10, Y: 0})
	var err error
	ab, err = m.AddLink(a, b, 4, rosen.LinkTrack)
	if err != nil {
		t.Fatalf("AddLink: %s", err)
	}
	rid = m.NewRoute("red", "#e6194b")
	if err := m.PutRoute(rosen.Route{ID: rid, Name: "red", Stations: []rosen.ID{a, b}, Links: []rosen.ID{ab}, Color: "#e6194b"}); err != nil {
		t.Fatalf("PutRoute: %s", err)
	}
	return m, a, b, ab, rid
}

func train(section rosen.ID, pos float64) engine.TrainState {
	return engine.TrainState{
		ID:          engine.TrainID{RouteIdx: 0, Count: 0},
		CurrSection: section,
		Pos:         pos,
	}
}

func TestAdvanceInterpolates(t *testing.T) {
	m, a, b, ab, rid := buildMap(t)
	res := &engine.SimulationResults{
		TrainPositions: []engine.TrainPositions{
			{Time: 0, Trains: []engine.TrainState{train(a, 0)}},
			{Time: 1, Trains: []engine.TrainState{train(ab, 1)}},
			{Time: 2, Trains: []engine.TrainState{train(ab, 9)}},
			{Time: 3, Trains: []engine.TrainState{train(b, 0)}},
		},
		TrainToRoute: map[engine.TrainID]rosen.ID{{RouteIdx: 0, Count: 0}: rid},
	}
	p := NewPlayer(time.Hour, func(Tick) {})
	defer p.Stop()
	frames := make(chan Frame, 8)
	cancel := p.Frames().Subscribe("test", frames)
	defer cancel()

	p.Start(res)
	wantPos := []rosen.Point{
		{X: 0, Y: 0},
		{X: 2.5, Y: 0}, // pos 1 of weight 4
		{X: 10, Y: 0},  // pos past the weight clamps to the target
		{X: 10, Y: 0},
	}
	for i, want := range wantPos {
		p.Advance(Tick{Generation: p.Generation()}, m)
		f := <-frames
		if !f.Playing {
			t.Fatalf("frame %d not playing", i)
		}
		if f.Time != uint32(i) {
			t.Fatalf("frame %d time = %d", i, f.Time)
		}
		if len(f.Markers) != 1 {
			t.Fatalf("frame %d markers = %+v", i, f.Markers)
		}
		mk := f.Markers[0]
		if diff := cmp.Diff(want, mk.Pos); diff != "" {
			t.Fatalf("frame %d pos (-want +got):\n%s", i, diff)
		}
		if mk.Color != "#e6194b" || mk.Route != rid {
			t.Fatalf("frame %d marker = %+v", i, mk)
		}
	}

	// past the end: overlay clears and playback stops
	p.Advance(Tick{Generation: p.Generation()}, m)
	f := <-frames
	if f.Playing || len(f.Markers) != 0 {
		t.Fatalf("final frame = %+v, want cleared", f)
	}
	if p.Playing() {
		t.Fatalf("player still playing after the last snapshot")
	}
}

func TestStaleGenerationDropped(t *testing.T) {
	m, a, _, _, rid := buildMap(t)
	res1 := &engine.SimulationResults{
		TrainPositions: []engine.TrainPositions{{Time: 100, Trains: []engine.TrainState{train(a, 0)}}},
		TrainToRoute:   map[engine.TrainID]rosen.ID{{RouteIdx: 0, Count: 0}: rid},
	}
	res2 := &engine.SimulationResults{
		TrainPositions: []engine.TrainPositions{{Time: 200, Trains: []engine.TrainState{train(a, 0)}}},
		TrainToRoute:   map[engine.TrainID]rosen.ID{{RouteIdx: 0, Count: 0}: rid},
	}
	p := NewPlayer(time.Hour, func(Tick) {})
	defer p.Stop()
	frames := make(chan Frame, 8)
	cancel := p.Frames().Subscribe("test", frames)
	defer cancel()

	p.Start(res1)
	stale := p.Generation()
	p.Start(res2) // supersedes res1

	p.Advance(Tick{Generation: stale}, m)
	select {
	case f := <-frames:
		t.Fatalf("stale tick produced frame %+v", f)
	default:
	}

	p.Advance(Tick{Generation: p.Generation()}, m)
	f := <-frames
	if f.Time != 200 {
		t.Fatalf("frame time = %d, want superseding run's snapshot", f.Time)
	}
}

func TestUnknownSectionAndUnmappedTrainSkipped(t *testing.T) {
	m, a, _, _, rid := buildMap(t)
	ghost := engine.TrainState{ID: engine.TrainID{RouteIdx: 0, Count: 1}, CurrSection: "gone", Pos: 0}
	unmapped := engine.TrainState{ID: engine.TrainID{RouteIdx: 9, Count: 9}, CurrSection: a, Pos: 0}
	res := &engine.SimulationResults{
		TrainPositions: []engine.TrainPositions{
			{Time: 0, Trains: []engine.TrainState{train(a, 0), ghost, unmapped}},
		},
		TrainToRoute: map[engine.TrainID]rosen.ID{
			{RouteIdx: 0, Count: 0}: rid,
			{RouteIdx: 0, Count: 1}: rid,
		},
	}
	p := NewPlayer(time.Hour, func(Tick) {})
	defer p.Stop()
	frames := make(chan Frame, 8)
	cancel := p.Frames().Subscribe("test", frames)
	defer cancel()

	p.Start(res)
	p.Advance(Tick{Generation: p.Generation()}, m)
	f := <-frames
	if len(f.Markers) != 1 {
		t.Fatalf("markers = %+v, want only the resolvable train", f.Markers)
	}
	if f.Markers[0].Train != (engine.TrainID{RouteIdx: 0, Count: 0}) {
		t.Fatalf("marker train = %s", f.Markers[0].Train)
	}
}

func TestStopClearsOverlay(t *testing.T) {
	m, a, _, _, rid := buildMap(t)
	res := &engine.SimulationResults{
		TrainPositions: []engine.TrainPositions{{Time: 0, Trains: []engine.TrainState{train(a, 0)}}},
		TrainToRoute:   map[engine.TrainID]rosen.ID{{RouteIdx: 0, Count: 0}: rid},
	}
	p := NewPlayer(time.Hour, func(Tick) {})
	frames := make(chan Frame, 8)
	cancel := p.Frames().Subscribe("test", frames)
	defer cancel()

	p.Start(res)
	p.Advance(Tick{Generation: p.Generation()}, m)
	<-frames
	p.Stop()
	f := <-frames
	if f.Playing || len(f.Markers) != 0 {
		t.Fatalf("stop frame = %+v, want cleared", f)
	}
}
