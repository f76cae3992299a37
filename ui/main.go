// Package ui is the interactive terminal surface. It owns the camera
// and the widget layout, translates terminal events into editor events,
// and redraws whenever the editor publishes a View. It never touches
// the model directly.
package ui

import (
	"context"
	"fmt"
	"image"
	"strings"

	tui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"go.uber.org/zap"
	"nyiyui.ca/rosen"
	"nyiyui.ca/rosen/edit"
)

const panStep = 4

type Conf struct {
	Editor *edit.Editor
	// StringlinePath is where the g key writes the chart.
	StringlinePath string
}

type UI struct {
	ed     *edit.Editor
	nv     *NetworkView
	status *widgets.Paragraph
	routes *widgets.Paragraph
	view   edit.View
	drag   rosen.ID

	stringlinePath string
}

// Run blocks until the user quits or ctx is canceled. It must run on
// its own goroutine, not the editor's.
func Run(ctx context.Context, conf Conf) error {
	if err := tui.Init(); err != nil {
		return fmt.Errorf("init termui: %w", err)
	}
	defer tui.Close()

	u := &UI{
		ed:             conf.Editor,
		nv:             NewNetworkView(),
		status:         widgets.NewParagraph(),
		routes:         widgets.NewParagraph(),
		stringlinePath: conf.StringlinePath,
	}
	if u.stringlinePath == "" {
		u.stringlinePath = "stringline.png"
	}
	u.routes.Title = "routes"
	u.status.Title = "status"
	w, h := tui.TerminalDimensions()
	u.layout(w, h)

	views := make(chan edit.View, 16)
	cancel := conf.Editor.Views().Subscribe("ui", views)
	defer cancel()

	events := tui.PollEvents()
	u.render()
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-views:
			u.view = v
			u.render()
		case e := <-events:
			if done := u.handle(e); done {
				return nil
			}
		}
	}
}

func (u *UI) layout(w, h int) {
	side := 26
	if w < 40 {
		side = 0
	}
	u.nv.SetRect(0, 0, w-side, h-3)
	u.routes.SetRect(w-side, 0, w, h-3)
	u.status.SetRect(0, h-3, w, h)
}

func (u *UI) render() {
	u.nv.View = u.view
	u.status.Text = statusText(u.view)
	u.routes.Text = routesText(u.view)
	tui.Render(u.nv, u.routes, u.status)
}

// handle translates one terminal event. It returns true to quit.
func (u *UI) handle(e tui.Event) bool {
	switch e.ID {
	case "<C-c>":
		return true
	case "<Resize>":
		re := e.Payload.(tui.Resize)
		u.layout(re.Width, re.Height)
		u.render()
		return false
	case "<MouseLeft>":
		m := e.Payload.(tui.Mouse)
		u.mouse(image.Pt(m.X, m.Y), m.Drag)
		return false
	case "<MouseRelease>":
		u.drag = ""
		return false
	case "<MouseWheelUp>":
		u.nv.Cam.Zoom(1.25)
		u.render()
		return false
	case "<MouseWheelDown>":
		u.nv.Cam.Zoom(1 / 1.25)
		u.render()
		return false
	}
	if e.Type == tui.MouseEvent {
		return false
	}

	// an active gesture captures the keyboard, q included; only ctrl-c
	// quits from inside one
	if u.view.Gesture != "" {
		switch e.ID {
		case "<Enter>":
			u.ed.Post(edit.Commit{})
		case "<Escape>":
			u.ed.Post(edit.Escape{})
		case "<Backspace>":
			u.ed.Post(edit.Backspace{})
		case "<Space>":
			u.ed.Post(edit.Rune{R: ' '})
		default:
			if rs := []rune(e.ID); len(rs) == 1 {
				u.ed.Post(edit.Rune{R: rs[0]})
			}
		}
		return false
	}

	switch e.ID {
	case "q":
		return true
	case "1":
		u.ed.Post(edit.SetMode{Mode: edit.ModeDisplay})
	case "2":
		u.ed.Post(edit.SetMode{Mode: edit.ModeEdit})
	case "3":
		u.ed.Post(edit.SetMode{Mode: edit.ModePathSelect})
	case "4":
		u.ed.Post(edit.SetMode{Mode: edit.ModeRouteEdit})
	case "n":
		u.ed.Post(edit.NewStation{At: u.nv.Cam.Center})
	case "d":
		u.ed.Post(edit.Delete{})
	case "l":
		u.ed.Post(edit.NewLink{})
	case "w":
		u.ed.Post(edit.EditWeight{})
	case "e":
		u.ed.Post(edit.EditName{})
	case "t":
		u.ed.Post(edit.ToggleType{})
	case "r":
		u.ed.Post(edit.CommitRoute{})
	case "R":
		u.ed.Post(edit.NewRoute{})
	case "<Tab>":
		u.cycleRoute()
	case "<Enter>":
		u.ed.Post(edit.Commit{})
	case "<Escape>":
		u.ed.Post(edit.Escape{})
	case "s":
		u.ed.Post(edit.Simulate{})
	case "o":
		u.ed.Post(edit.Optimize{})
	case "S":
		u.ed.Post(edit.SaveDoc{})
	case "L":
		u.ed.Post(edit.LoadDoc{})
	case "g":
		u.ed.Post(edit.WriteStringline{Path: u.stringlinePath})
	case "<Left>":
		u.nv.Cam.Pan(-panStep, 0)
		u.render()
	case "<Right>":
		u.nv.Cam.Pan(panStep, 0)
		u.render()
	case "<Up>":
		u.nv.Cam.Pan(0, -panStep)
		u.render()
	case "<Down>":
		u.nv.Cam.Pan(0, panStep)
		u.render()
	case "+", "=":
		u.nv.Cam.Zoom(1.25)
		u.render()
	case "-":
		u.nv.Cam.Zoom(1 / 1.25)
		u.render()
	case "<Home>":
		u.nv.Cam = DefaultCamera()
		u.render()
	default:
		zap.S().Debugf("ui: unbound key %q", e.ID)
	}
	return false
}

func (u *UI) mouse(cell image.Point, drag bool) {
	if drag {
		if u.drag != "" && u.view.Mode == edit.ModeEdit {
			u.ed.Post(edit.MoveStation{ID: u.drag, To: u.nv.Cam.ToWorld(cell, u.nv.Inner)})
		}
		return
	}
	id, ok := u.nv.ElementAt(cell)
	if !ok {
		u.drag = ""
		u.ed.Post(edit.ClearSelection{})
		return
	}
	if u.view.Mode == edit.ModeEdit && u.isStation(id) {
		u.drag = id
	}
	u.ed.Post(edit.SelectElement{ID: id})
}

func (u *UI) isStation(id rosen.ID) bool {
	for _, st := range u.view.Stations {
		if st.ID == id {
			return true
		}
	}
	return false
}

// cycleRoute advances the route_edit target through the routes list.
func (u *UI) cycleRoute() {
	rs := u.view.Routes
	if len(rs) == 0 {
		return
	}
	next := 0
	for i, r := range rs {
		if r.ID == u.view.TargetRoute {
			next = (i + 1) % len(rs)
			break
		}
	}
	u.ed.Post(edit.SelectRoute{ID: rs[next].ID})
}

func statusText(v edit.View) string {
	b := new(strings.Builder)
	fmt.Fprintf(b, "[%s]", v.Mode)
	if v.Gesture != "" {
		fmt.Fprintf(b, " %s", v.Gesture)
	}
	if v.Busy > 0 {
		fmt.Fprintf(b, " engine:%d", v.Busy)
	}
	if len(v.Selection) > 0 {
		fmt.Fprintf(b, " sel:%d", len(v.Selection))
	}
	fmt.Fprintf(b, " | %s", v.Status)
	return b.String()
}

func routesText(v edit.View) string {
	b := new(strings.Builder)
	for _, r := range v.Routes {
		mark := " "
		if r.ID == v.TargetRoute {
			mark = ">"
		}
		fmt.Fprintf(b, "%s %s (%d stn)\n", mark, r.Name, len(r.Stations))
	}
	if v.Sim != nil {
		fmt.Fprintf(b, "\nt=%d", v.PlayTime)
	}
	return b.String()
}
