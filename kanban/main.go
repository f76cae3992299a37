// Package kanban is the read-only web surface: a status page, SSE
// streams of the network document and playback frames, and stringline
// renders on demand. It never mutates the model; it only watches what
// the editor publishes.
package kanban

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/r3labs/sse/v2"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"nyiyui.ca/rosen"
	"nyiyui.ca/rosen/document"
	"nyiyui.ca/rosen/edit"
	"nyiyui.ca/rosen/engine"
	"nyiyui.ca/rosen/notify"
	"nyiyui.ca/rosen/playback"
	"nyiyui.ca/rosen/stringline"
)

//go:embed index.html
var templates embed.FS

type Conf struct {
	Views  *notify.Multiplexer[edit.View]
	Frames *notify.Multiplexer[playback.Frame]
}

type Server struct {
	conf    Conf
	sm      *http.ServeMux
	sse     *sse.Server
	t       *template.Template
	handler http.Handler
	viewCh  chan edit.View
	frameCh chan playback.Frame
	cancels []func()

	mu     sync.Mutex
	latest edit.View
}

func NewServer(conf Conf) *Server {
	s := &Server{
		conf:    conf,
		sm:      http.NewServeMux(),
		sse:     sse.New(),
		viewCh:  make(chan edit.View, 8),
		frameCh: make(chan playback.Frame, 8),
	}
	s.t = template.Must(template.New("index").
		Funcs(sprig.FuncMap()).
		ParseFS(templates, "*.html"))
	s.sm.HandleFunc("/", s.handleIndex)
	s.sm.Handle("/events", s.sse)
	s.sm.HandleFunc("/stringline.png", s.handleStringline)
	s.handler = cors.Default().Handler(s.sm)
	s.sse.CreateStream("network")
	s.sse.CreateStream("frame")
	s.cancels = append(s.cancels,
		conf.Views.Subscribe("kanban", s.viewCh),
		conf.Frames.Subscribe("kanban", s.frameCh))
	go s.forwardViews()
	go s.forwardFrames()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close detaches from the editor and stops the SSE streams. Forward
// goroutines end once their channels drain.
func (s *Server) Close() {
	for _, cancel := range s.cancels {
		cancel()
	}
	close(s.viewCh)
	close(s.frameCh)
	s.sse.Close()
}

// forwardViews republishes each View as the canonical document payload
// on the network stream, and keeps the latest View for the handlers.
func (s *Server) forwardViews() {
	for v := range s.viewCh {
		s.mu.Lock()
		s.latest = v
		s.mu.Unlock()
		g, routes := document.FromExport(rosen.Export{
			Stations: v.Stations,
			Links:    v.Links,
			Routes:   v.Routes,
		})
		data, err := json.Marshal(map[string]any{"graph": g, "routes": routes})
		if err != nil {
			zap.S().Warnf("kanban: marshal network: %s", err)
			continue
		}
		s.sse.TryPublish("network", &sse.Event{Data: data})
	}
}

func (s *Server) forwardFrames() {
	for f := range s.frameCh {
		data, err := json.Marshal(f)
		if err != nil {
			zap.S().Warnf("kanban: marshal frame: %s", err)
			continue
		}
		s.sse.TryPublish("frame", &sse.Event{Data: data})
	}
}

func (s *Server) latestView() edit.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

type statRow struct {
	Station string
	Cells   []*engine.WaitStats
	Overall *engine.WaitStats
}

type statTable struct {
	Columns []string
	Rows    []statRow
}

// statsTable flattens station statistics into rows aligned to a fixed
// route column order, which templates cannot do over maps.
func statsTable(v edit.View) statTable {
	var table statTable
	if v.Sim == nil {
		return table
	}
	routes := append([]rosen.Route(nil), v.Routes...)
	sort.Slice(routes, func(i, j int) bool { return routes[i].Name < routes[j].Name })
	for _, r := range routes {
		table.Columns = append(table.Columns, r.Name)
	}
	names := make(map[rosen.ID]string, len(v.Stations))
	for _, st := range v.Stations {
		names[st.ID] = st.Name
	}
	for id, stat := range v.Sim.StationStatistics {
		name, ok := names[id]
		if !ok {
			// the station may have been deleted since the run
			name = string(id)
		}
		row := statRow{Station: name, Overall: stat.OverallArrivalTimes}
		for _, r := range routes {
			if w, ok := stat.ArrivalTimes[r.ID]; ok {
				w := w
				row.Cells = append(row.Cells, &w)
			} else {
				row.Cells = append(row.Cells, nil)
			}
		}
		table.Rows = append(table.Rows, row)
	}
	sort.Slice(table.Rows, func(i, j int) bool { return table.Rows[i].Station < table.Rows[j].Station })
	return table
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	v := s.latestView()
	err := s.t.ExecuteTemplate(w, "index", map[string]any{
		"v":      v,
		"table":  statsTable(v),
		"hasSim": v.Sim != nil,
		"now":    time.Now().Format("15:04:05"),
	})
	if err != nil {
		zap.S().Warnf("kanban: render index: %s", err)
	}
}

func (s *Server) handleStringline(w http.ResponseWriter, r *http.Request) {
	v := s.latestView()
	if v.Sim == nil {
		http.Error(w, "no simulation yet", http.StatusNotFound)
		return
	}
	cutoff := stringline.LastTime(v.Sim)
	if q := r.URL.Query().Get("cutoff"); q != "" {
		c, err := strconv.ParseFloat(q, 64)
		if err != nil {
			http.Error(w, "cutoff must be a number", http.StatusBadRequest)
			return
		}
		cutoff = c
	}
	var filter map[rosen.ID]bool
	if ids := r.URL.Query()["route"]; len(ids) > 0 {
		filter = make(map[rosen.ID]bool, len(ids))
		for _, id := range ids {
			filter[rosen.ID(id)] = true
		}
	}
	var buf bytes.Buffer
	err := stringline.Render(&buf, v.Sim, v.Routes, cutoff, filter)
	if errors.Is(err, stringline.ErrNothingToDraw) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	} else if err != nil {
		zap.S().Warnf("kanban: render stringline: %s", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}
