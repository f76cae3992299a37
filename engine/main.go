// Package engine is the HTTP client for the external optimization and
// simulation engine. The wire contract is plain JSON request/response;
// calls carry no timeout, long runs simply resolve when they resolve and
// the editor stays responsive in the meantime.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"nyiyui.ca/rosen"
)

// Node is the request-side node payload. The engine only needs ids;
// names and positions stay editor-side.
type Node struct {
	ID rosen.ID `json:"id"`
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

// Route is the request-side route payload. Offset is the departure phase
// offset in engine time units and is always serialized; colors are not
// sent.
type Route struct {
	Name   string     `json:"name"`
	ID     rosen.ID   `json:"id"`
	Nodes  []rosen.ID `json:"nodes"`
	Edges  []rosen.ID `json:"edges"`
	Offset int        `json:"offset"`
}

// RequestGraph converts an export into the engine's graph payload.
func RequestGraph(ex rosen.Export) Graph {
	g := Graph{
		Nodes: make([]Node, 0, len(ex.Stations)),
		Edges: make([]Edge, 0, len(ex.Links)),
	}
	for _, s := range ex.Stations {
		g.Nodes = append(g.Nodes, Node{ID: s.ID})
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
	return g
}

// RequestRoutes converts an export's routes into the engine's payload,
// keyed by route id. Empty memberships serialize as [] rather than null;
// the engine rejects null arrays.
func RequestRoutes(ex rosen.Export) map[rosen.ID]Route {
	routes := make(map[rosen.ID]Route, len(ex.Routes))
	for _, r := range ex.Routes {
		routes[r.ID] = Route{
			Name:   r.Name,
			ID:     r.ID,
			Nodes:  orEmpty(r.Stations),
			Edges:  orEmpty(r.Links),
			Offset: r.Offset,
		}
	}
	return routes
}

func orEmpty(ids []rosen.ID) []rosen.ID {
	if ids == nil {
		return []rosen.ID{}
	}
	return ids
}

// TrainID identifies one departure: the route's index in the request plus
// a departure counter. As a JSON value it is the tuple [route_idx, count];
// as a JSON object key (train_to_route) it is the string
// "<route_idx>_<count>".
type TrainID struct {
	RouteIdx uint32
	Count    uint32
}

func (id TrainID) String() string {
	return fmt.Sprintf("%d_%d", id.RouteIdx, id.Count)
}

func (id TrainID) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint32{id.RouteIdx, id.Count})
}

func (id *TrainID) UnmarshalJSON(data []byte) error {
	var tuple [2]uint32
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("train id: %w", err)
	}
	id.RouteIdx, id.Count = tuple[0], tuple[1]
	return nil
}

func ParseTrainID(s string) (TrainID, error) {
	idx, count, ok := strings.Cut(s, "_")
	if !ok {
		return TrainID{}, fmt.Errorf("train id %q: no separator", s)
	}
	a, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return TrainID{}, fmt.Errorf("train id %q: %w", s, err)
	}
	b, err := strconv.ParseUint(count, 10, 32)
	if err != nil {
		return TrainID{}, fmt.Errorf("train id %q: %w", s, err)
	}
	return TrainID{RouteIdx: uint32(a), Count: uint32(b)}, nil
}

// MarshalText and UnmarshalText carry the object-key form, so maps keyed
// by TrainID decode straight off the wire.
func (id TrainID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TrainID) UnmarshalText(text []byte) error {
	parsed, err := ParseTrainID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// TrainState places one train at one instant. CurrSection is a station or
// link id; on a link, Pos is time units elapsed on that link (divide by
// the link weight for progress). DistanceTravelled is cumulative over the
// route up to the start of CurrSection.
type TrainState struct {
	ID                TrainID  `json:"id"`
	CurrSection       rosen.ID `json:"curr_section"`
	Pos               float64  `json:"pos"`
	DistanceTravelled float64  `json:"distance_travelled"`
}

type TrainPositions struct {
	Time   uint32       `json:"time"`
	Trains []TrainState `json:"trains"`
}

type WaitStats struct {
	MinWait     float64 `json:"min_wait"`
	MaxWait     float64 `json:"max_wait"`
	AverageWait float64 `json:"average_wait"`
}

// StationStatistic summarizes waits between consecutive arrivals at one
// station. OverallArrivalTimes is nil when fewer than two routes serve
// the station.
type StationStatistic struct {
	ArrivalTimes        map[rosen.ID]WaitStats `json:"arrival_times"`
	OverallArrivalTimes *WaitStats             `json:"overall_arrival_times"`
}

type SimulationResults struct {
	TrainPositions    []TrainPositions              `json:"train_positions"`
	TrainToRoute      map[TrainID]rosen.ID          `json:"train_to_route"`
	StationStatistics map[rosen.ID]StationStatistic `json:"station_statistics"`
}

// RouteOf resolves the route a train belongs to.
func (r *SimulationResults) RouteOf(id TrainID) (rosen.ID, bool) {
	route, ok := r.TrainToRoute[id]
	return route, ok
}

type PathResult struct {
	Length int        `json:"length"`
	Path   []rosen.ID `json:"path"`
}

// GatewayError wraps any transport or decode failure talking to the
// engine. It is never fatal to the editor.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("engine %s: %s", e.Op, e.Err) }
func (e *GatewayError) Unwrap() error { return e.Err }

type Client struct {
	BaseURL string
	// HTTP has no Timeout set on purpose; see the package comment.
	HTTP *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
	}
}

func (c *Client) post(ctx context.Context, op, path string, reqBody, respBody any) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return &GatewayError{Op: op, Err: fmt.Errorf("encode: %w", err)}
	}
	zap.S().Debugw("engine call", "op", op, "bytes", len(data))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &GatewayError{Op: op, Err: fmt.Errorf("status %s: %s", resp.Status, body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return &GatewayError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// ShortestPath returns nil with no error when the target is unreachable
// (the engine answers JSON null).
func (c *Client) ShortestPath(ctx context.Context, g Graph, routes map[rosen.ID]Route, source, target rosen.ID) (*PathResult, error) {
	req := struct {
		Graph  Graph              `json:"graph"`
		Routes map[rosen.ID]Route `json:"routes"`
		Source rosen.ID           `json:"source"`
		Target rosen.ID           `json:"target"`
	}{g, routes, source, target}
	var res *PathResult
	if err := c.post(ctx, "shortest-path", "/v0/shortest-path", req, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Simulate runs the given routes at a fixed departure frequency.
func (c *Client) Simulate(ctx context.Context, g Graph, routes map[rosen.ID]Route, frequency uint64) (*SimulationResults, error) {
	req := struct {
		Graph     Graph              `json:"graph"`
		Routes    map[rosen.ID]Route `json:"routes"`
		Frequency uint64             `json:"frequency"`
	}{g, routes, frequency}
	res := new(SimulationResults)
	if err := c.post(ctx, "simulate", "/v0/simulate", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Optimize lets the engine choose departure frequencies itself.
func (c *Client) Optimize(ctx context.Context, g Graph, routes map[rosen.ID]Route) (*SimulationResults, error) {
	req := struct {
		Graph  Graph              `json:"graph"`
		Routes map[rosen.ID]Route `json:"routes"`
	}{g, routes}
	res := new(SimulationResults)
	if err := c.post(ctx, "optimize", "/v0/optimize", req, res); err != nil {
		return nil, err
	}
	return res, nil
}
