package ui

import (
	"image"
	"math"
	"strconv"
	"strings"

	tui "github.com/gizak/termui/v3"
	"nyiyui.ca/rosen"
	"nyiyui.ca/rosen/edit"
)

// Camera maps world coordinates to terminal cells. Cells are roughly
// twice as tall as wide, so the Y scale is halved to keep shapes from
// stretching.
type Camera struct {
	Center rosen.Point
	Scale  float64 // cells per world unit along X
}

func DefaultCamera() Camera { return Camera{Scale: 4} }

func (c Camera) ToCell(p rosen.Point, inner image.Rectangle) image.Point {
	x := (p.X-c.Center.X)*c.Scale + float64(inner.Dx())/2
	y := (p.Y-c.Center.Y)*c.Scale/2 + float64(inner.Dy())/2
	return image.Pt(inner.Min.X+int(math.Round(x)), inner.Min.Y+int(math.Round(y)))
}

func (c Camera) ToWorld(cell image.Point, inner image.Rectangle) rosen.Point {
	x := float64(cell.X-inner.Min.X) - float64(inner.Dx())/2
	y := float64(cell.Y-inner.Min.Y) - float64(inner.Dy())/2
	return rosen.Point{
		X: c.Center.X + x/c.Scale,
		Y: c.Center.Y + y*2/c.Scale,
	}
}

// Pan shifts the center by a distance given in cells.
func (c *Camera) Pan(dx, dy float64) {
	c.Center.X += dx / c.Scale
	c.Center.Y += dy * 2 / c.Scale
}

func (c *Camera) Zoom(factor float64) {
	c.Scale *= factor
	if c.Scale < 0.5 {
		c.Scale = 0.5
	}
	if c.Scale > 32 {
		c.Scale = 32
	}
}

const (
	stationRune = '●'
	markerRune  = '◆'
	walkRune    = '·'
)

// NetworkView draws the network with selection, shortest-path, and
// playback overlays. It renders whatever View it was last given; all
// interpretation of clicks stays in the event loop.
type NetworkView struct {
	tui.Block
	Cam  Camera
	View edit.View
}

func NewNetworkView() *NetworkView {
	nv := &NetworkView{Cam: DefaultCamera()}
	nv.Border = true
	nv.BorderLeft, nv.BorderRight, nv.BorderTop, nv.BorderBottom = true, true, true, true
	nv.BorderStyle = tui.NewStyle(tui.ColorWhite)
	nv.TitleStyle = tui.NewStyle(tui.ColorWhite)
	nv.Title = "network"
	return nv
}

func (nv *NetworkView) Draw(buf *tui.Buffer) {
	nv.Block.Draw(buf)
	inner := nv.Inner
	v := nv.View

	sel := make(map[rosen.ID]bool, len(v.Selection))
	for _, id := range v.Selection {
		sel[id] = true
	}
	onPath := make(map[rosen.ID]bool, len(v.PathHighlight))
	for _, id := range v.PathHighlight {
		onPath[id] = true
	}
	// color elements by route membership; the first route listed wins
	routeColor := map[rosen.ID]tui.Color{}
	for i := len(v.Routes) - 1; i >= 0; i-- {
		col := termColor(v.Routes[i].Color)
		for _, id := range v.Routes[i].Stations {
			routeColor[id] = col
		}
		for _, id := range v.Routes[i].Links {
			routeColor[id] = col
		}
	}

	pos := make(map[rosen.ID]image.Point, len(v.Stations))
	for _, st := range v.Stations {
		pos[st.ID] = nv.Cam.ToCell(st.Pos, inner)
	}

	for _, l := range v.Links {
		a, aok := pos[l.Source]
		b, bok := pos[l.Target]
		if !aok || !bok {
			continue
		}
		style := tui.NewStyle(8) // dim gray
		if col, ok := routeColor[l.ID]; ok {
			style = tui.NewStyle(col)
		}
		if onPath[l.ID] {
			style = tui.NewStyle(tui.ColorCyan)
		}
		if sel[l.ID] {
			style = tui.NewStyle(tui.ColorYellow, tui.ColorClear, tui.ModifierBold)
		}
		drawSegment(buf, inner, a, b, l.Type, style)
	}

	for _, st := range v.Stations {
		p := pos[st.ID]
		if !p.In(inner) {
			continue
		}
		style := tui.NewStyle(tui.ColorWhite, tui.ColorClear, tui.ModifierBold)
		if col, ok := routeColor[st.ID]; ok {
			style = tui.NewStyle(col, tui.ColorClear, tui.ModifierBold)
		}
		if onPath[st.ID] {
			style = tui.NewStyle(tui.ColorCyan, tui.ColorClear, tui.ModifierBold)
		}
		if sel[st.ID] {
			style = tui.NewStyle(tui.ColorYellow, tui.ColorClear, tui.ModifierBold)
		}
		buf.SetCell(tui.NewCell(stationRune, style), p)
		drawLabel(buf, inner, st.Name, image.Pt(p.X+2, p.Y))
	}

	for _, mk := range v.Markers {
		p := nv.Cam.ToCell(mk.Pos, inner)
		if !p.In(inner) {
			continue
		}
		style := tui.NewStyle(termColor(mk.Color), tui.ColorClear, tui.ModifierBold)
		buf.SetCell(tui.NewCell(markerRune, style), p)
	}
}

func drawLabel(buf *tui.Buffer, clip image.Rectangle, s string, at image.Point) {
	if at.Y < clip.Min.Y || at.Y >= clip.Max.Y {
		return
	}
	x := at.X
	for _, r := range s {
		if x >= clip.Max.X {
			return
		}
		if x >= clip.Min.X {
			buf.SetCell(tui.NewCell(r, tui.NewStyle(tui.ColorWhite)), image.Pt(x, at.Y))
		}
		x++
	}
}

// drawSegment draws a Bresenham line clipped to clip. Track links use a
// rune matching the segment's slope; walk links use dots.
func drawSegment(buf *tui.Buffer, clip image.Rectangle, a, b image.Point, typ rosen.LinkType, style tui.Style) {
	r := segmentRune(typ, b.X-a.X, b.Y-a.Y)
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	x, y := a.X, a.Y
	for {
		if p := image.Pt(x, y); p.In(clip) {
			buf.SetCell(tui.NewCell(r, style), p)
		}
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func segmentRune(typ rosen.LinkType, vx, vy int) rune {
	if typ == rosen.LinkWalk {
		return walkRune
	}
	switch {
	case vy == 0:
		return '─'
	case vx == 0:
		return '│'
	case (vx > 0) == (vy > 0):
		return '╲'
	default:
		return '╱'
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ElementAt picks the element under a terminal cell: the nearest station
// within two cells, else the nearest link within about one cell.
func (nv *NetworkView) ElementAt(cell image.Point) (rosen.ID, bool) {
	inner := nv.Inner
	v := nv.View

	var bestID rosen.ID
	best := math.MaxFloat64
	for _, st := range v.Stations {
		p := nv.Cam.ToCell(st.Pos, inner)
		d := float64((p.X-cell.X)*(p.X-cell.X) + (p.Y-cell.Y)*(p.Y-cell.Y))
		if d < best {
			best, bestID = d, st.ID
		}
	}
	if best <= 2 {
		return bestID, true
	}

	bestID, best = "", math.MaxFloat64
	pos := make(map[rosen.ID]image.Point, len(v.Stations))
	for _, st := range v.Stations {
		pos[st.ID] = nv.Cam.ToCell(st.Pos, inner)
	}
	for _, l := range v.Links {
		a, aok := pos[l.Source]
		b, bok := pos[l.Target]
		if !aok || !bok {
			continue
		}
		d := pointSegDist(cell, a, b)
		if d < best {
			best, bestID = d, l.ID
		}
	}
	if best <= 1.2 {
		return bestID, true
	}
	return "", false
}

func pointSegDist(p, a, b image.Point) float64 {
	px, py := float64(p.X), float64(p.Y)
	ax, ay := float64(a.X), float64(a.Y)
	bx, by := float64(b.X), float64(b.Y)
	vx, vy := bx-ax, by-ay
	l2 := vx*vx + vy*vy
	if l2 == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	t := ((px-ax)*vx + (py-ay)*vy) / l2
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return math.Hypot(px-(ax+t*vx), py-(ay+t*vy))
}

var ansiPalette = []struct {
	c       tui.Color
	r, g, b int
}{
	{tui.ColorRed, 255, 0, 0},
	{tui.ColorGreen, 0, 220, 0},
	{tui.ColorYellow, 255, 255, 0},
	{tui.ColorBlue, 70, 70, 255},
	{tui.ColorMagenta, 255, 0, 255},
	{tui.ColorCyan, 0, 255, 255},
	{tui.ColorWhite, 255, 255, 255},
}

// termColor approximates a #rrggbb color with the nearest basic
// terminal color.
func termColor(hex string) tui.Color {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return tui.ColorWhite
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return tui.ColorWhite
	}
	r, g, b := int(n>>16&0xff), int(n>>8&0xff), int(n&0xff)
	best := tui.ColorWhite
	bestD := math.MaxInt32
	for _, p := range ansiPalette {
		d := (r-p.r)*(r-p.r) + (g-p.g)*(g-p.g) + (b-p.b)*(b-p.b)
		if d < bestD {
			bestD, best = d, p.c
		}
	}
	return best
}
