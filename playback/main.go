// Package playback advances externally simulated train trajectories at a
// fixed wall-clock cadence and resolves them into drawable markers.
//
// The ticker goroutine only posts Ticks; markers are resolved by Advance,
// which the editor calls on its loop goroutine so positions come from the
// live Map (dragging a station mid-playback moves its trains).
package playback

import (
	"time"

	"go.uber.org/zap"
	"nyiyui.ca/rosen"
	"nyiyui.ca/rosen/engine"
	"nyiyui.ca/rosen/notify"
)

// Marker is one train drawn on the map during playback. Markers are
// playback values only; they never enter the Map, so exports cannot
// contain them.
type Marker struct {
	Train engine.TrainID
	Route rosen.ID
	Color string
	Pos   rosen.Point
}

// Frame is everything drawn for one playback instant. Empty Markers clear
// the overlay.
type Frame struct {
	Time    uint32
	Playing bool
	Markers []Marker
}

// Tick is posted once per cadence interval. A Tick whose Generation is
// not the player's current one is dropped before any marker is computed.
type Tick struct {
	Generation uint64
}

// Player holds the current run. All methods must be called from the
// editor loop goroutine; only the internal ticker goroutine runs
// elsewhere, and it does nothing but post Ticks.
type Player struct {
	interval time.Duration
	post     func(Tick)
	frames   *notify.Multiplexer[Frame]

	generation uint64
	stopTicker func()
	res        *engine.SimulationResults
	idx        int
	playing    bool
}

func NewPlayer(interval time.Duration, post func(Tick)) *Player {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Player{
		interval: interval,
		post:     post,
		frames:   notify.NewMultiplexer[Frame]("playback-frames"),
	}
}

func (p *Player) Frames() *notify.Multiplexer[Frame] { return p.frames }

func (p *Player) Playing() bool { return p.playing }

// Generation returns the current run's generation counter.
func (p *Player) Generation() uint64 { return p.generation }

// Start begins playback of res from its first snapshot, superseding any
// run in progress.
func (p *Player) Start(res *engine.SimulationResults) {
	p.halt()
	p.generation++
	p.res = res
	p.idx = 0
	p.playing = true
	gen := p.generation
	stop := make(chan struct{})
	p.stopTicker = func() { close(stop) }
	go p.run(gen, stop)
	zap.S().Infow("playback start",
		"generation", gen,
		"snapshots", len(res.TrainPositions),
		"interval", p.interval)
}

func (p *Player) run(gen uint64, stop chan struct{}) {
	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			p.post(Tick{Generation: gen})
		}
	}
}

func (p *Player) halt() {
	if p.stopTicker != nil {
		p.stopTicker()
		p.stopTicker = nil
	}
}

// Stop halts the run and clears the marker overlay.
func (p *Player) Stop() {
	p.halt()
	p.playing = false
	p.res = nil
	p.frames.Publish(Frame{})
}

// Advance renders the frame for tk and moves to the next snapshot. Past
// the last snapshot it clears the overlay and stops.
func (p *Player) Advance(tk Tick, m *rosen.Map) {
	if !p.playing || tk.Generation != p.generation {
		zap.S().Debugf("playback: dropping stale tick (generation %d, current %d)", tk.Generation, p.generation)
		return
	}
	if p.idx >= len(p.res.TrainPositions) {
		zap.S().Infow("playback done", "generation", p.generation)
		p.Stop()
		return
	}
	snap := p.res.TrainPositions[p.idx]
	p.idx++
	markers := make([]Marker, 0, len(snap.Trains))
	for _, tr := range snap.Trains {
		mk, ok := p.resolve(tr, m)
		if !ok {
			continue
		}
		markers = append(markers, mk)
	}
	p.frames.Publish(Frame{Time: snap.Time, Playing: true, Markers: markers})
}

func (p *Player) resolve(tr engine.TrainState, m *rosen.Map) (Marker, bool) {
	routeID, ok := p.res.RouteOf(tr.ID)
	if !ok {
		zap.S().Debugf("playback: train %s has no route mapping", tr.ID)
		return Marker{}, false
	}
	var color string
	if r, ok := m.Route(routeID); ok {
		color = r.Color
	}
	mk := Marker{Train: tr.ID, Route: routeID, Color: color}
	switch m.KindOf(tr.CurrSection) {
	case rosen.KindStation:
		s, _ := m.Station(tr.CurrSection)
		mk.Pos = s.Pos
	case rosen.KindLink:
		l, _ := m.Link(tr.CurrSection)
		src, ok1 := m.Station(l.Source)
		tgt, ok2 := m.Station(l.Target)
		if !ok1 || !ok2 {
			panic("link with missing endpoint in map")
		}
		mk.Pos = rosen.Lerp(src.Pos, tgt.Pos, tr.Pos/float64(l.Weight))
	default:
		// the model may have been edited since the engine answered
		zap.S().Debugf("playback: train %s on unknown section %s", tr.ID, tr.CurrSection)
		return Marker{}, false
	}
	return mk, true
}
