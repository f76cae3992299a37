// Package rosen implements the core of an interactive rail network editor:
// stations and weighted links drawn on a plane, routes (ordered simple
// paths) over them, and playback/projection of externally simulated train
// trajectories.
package rosen

import (
	"fmt"

	"github.com/google/uuid"
)

// ID identifies a station, link, or route. All three share one namespace
// (documents may carry arbitrary non-empty strings; generated ids are
// UUIDs).
type ID string

func NewID() ID { return ID(uuid.NewString()) }

// Point is a position in workspace coordinates, not screen coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Lerp interpolates from a to b. t is clamped to [0, 1].
func Lerp(a, b Point, t float64) Point {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return Point{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
	}
}

type LinkType string

const (
	// LinkTrack carries trains. Only track links may be part of a route.
	LinkTrack LinkType = "track"
	// LinkWalk is a pedestrian transfer between stations.
	LinkWalk LinkType = "walk"
)

func (t LinkType) Valid() bool { return t == LinkTrack || t == LinkWalk }

type Station struct {
	ID   ID
	Name string
	Pos  Point
}

// Link is a directed connection between two stations. Weight is the
// traversal duration in engine time units and must be positive.
type Link struct {
	ID     ID
	Source ID
	Target ID
	Weight int
	Type   LinkType
}

// Route is an ordered simple path over track links. Stations is the
// visiting order; Links[i] joins Stations[i] to Stations[i+1]. Offset is
// the departure phase offset in engine time units (zero for most routes).
type Route struct {
	ID       ID
	Name     string
	Stations []ID
	Links    []ID
	Color    string
	Offset   int
}

// ElementKind discriminates what an ID refers to within a Map.
type ElementKind int

const (
	KindNone ElementKind = iota
	KindStation
	KindLink
	KindRoute
)

func (k ElementKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindStation:
		return "station"
	case KindLink:
		return "link"
	case KindRoute:
		return "route"
	default:
		panic(fmt.Sprintf("invalid ElementKind %d", int(k)))
	}
}

// ValidationError reports input that would corrupt the model. The
// offending operation is rejected and prior state is retained.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return "validation: " + e.Reason }

func validationf(format string, args ...any) ValidationError {
	return ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// AmbiguousRouteError reports a selection that does not form exactly one
// simple path. The target route is left unchanged.
type AmbiguousRouteError struct {
	Reason string
}

func (e AmbiguousRouteError) Error() string { return "ambiguous route: " + e.Reason }

func ambiguousf(format string, args ...any) AmbiguousRouteError {
	return AmbiguousRouteError{Reason: fmt.Sprintf(format, args...)}
}
