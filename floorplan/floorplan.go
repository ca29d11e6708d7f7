// Package floorplan is the static map a session runs on: emitter
// positions, the walkable graph and named rooms. The JSON layout is the
// one written by the floorplan editor app.
package floorplan

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"navengine-go/fusion"
	"navengine-go/geom"
	"navengine-go/route"
)

// ErrInvalid wraps every structural problem found while loading a floorplan.
var ErrInvalid = errors.New("invalid floorplan")

// Room is a named destination.
type Room struct {
	ID   int     `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Name string  `json:"name"`
}

// Pos returns the room coordinate.
func (r Room) Pos() geom.Point { return geom.Pt(r.X, r.Y) }

// Floorplan is one mapped floor. Coordinates are metres.
type Floorplan struct {
	WidthMeters  float64          `json:"widthMeters"`
	HeightMeters float64          `json:"heightMeters"`
	ImageBase64  string           `json:"imageBase64,omitempty"`
	Nodes        []route.Node     `json:"nodes"`
	Edges        []route.Edge     `json:"edges"`
	Emitters     []fusion.Emitter `json:"routers"`
	Rooms        []Room           `json:"rooms"`
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate reports the first structural problem: non-finite or negative
// dimensions, non-finite coordinates, repeated ids, repeated or empty
// emitter labels, repeated room names, and edges that are self loops or
// reference missing nodes.
func (f *Floorplan) Validate() error {
	if !finite(f.WidthMeters, f.HeightMeters) || f.WidthMeters < 0 || f.HeightMeters < 0 {
		return invalid("dimensions %gx%g", f.WidthMeters, f.HeightMeters)
	}

	nodes := make(map[int]bool, len(f.Nodes))
	for _, n := range f.Nodes {
		if nodes[n.ID] {
			return invalid("duplicate node id %d", n.ID)
		}
		if !finite(n.X, n.Y) {
			return invalid("node %d has non-finite coordinates", n.ID)
		}
		nodes[n.ID] = true
	}
	for _, e := range f.Edges {
		if !nodes[e.From] || !nodes[e.To] {
			return invalid("edge %d-%d references a missing node", e.From, e.To)
		}
		if e.From == e.To {
			return invalid("edge %d-%d is a self loop", e.From, e.To)
		}
	}

	ids := make(map[int]bool, len(f.Emitters))
	labels := make(map[string]bool, len(f.Emitters))
	for _, e := range f.Emitters {
		switch {
		case ids[e.ID]:
			return invalid("duplicate router id %d", e.ID)
		case e.Label == "":
			return invalid("router %d has no ssid", e.ID)
		case labels[e.Label]:
			return invalid("duplicate router ssid %q", e.Label)
		case !finite(e.X, e.Y):
			return invalid("router %d has non-finite coordinates", e.ID)
		}
		ids[e.ID] = true
		labels[e.Label] = true
	}

	rooms := make(map[int]bool, len(f.Rooms))
	names := make(map[string]bool, len(f.Rooms))
	for _, r := range f.Rooms {
		key := strings.ToLower(r.Name)
		switch {
		case rooms[r.ID]:
			return invalid("duplicate room id %d", r.ID)
		case strings.TrimSpace(r.Name) == "":
			return invalid("room %d has no name", r.ID)
		case names[key]:
			return invalid("duplicate room name %q", r.Name)
		case !finite(r.X, r.Y):
			return invalid("room %d has non-finite coordinates", r.ID)
		}
		rooms[r.ID] = true
		names[key] = true
	}
	return nil
}

// Graph builds the routing graph.
func (f *Floorplan) Graph() (*route.Graph, error) {
	g, err := route.NewGraph(f.Nodes, f.Edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return g, nil
}

// Room finds a room by name, ignoring case.
func (f *Floorplan) Room(name string) (Room, bool) {
	for _, r := range f.Rooms {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return Room{}, false
}

// RoomNames returns the room names sorted.
func (f *Floorplan) RoomNames() []string {
	out := make([]string, 0, len(f.Rooms))
	for _, r := range f.Rooms {
		out = append(out, r.Name)
	}
	sort.Strings(out)
	return out
}

// Image decodes the embedded floor image. The editor writes MIME-style
// base64 with line breaks, which are stripped first.
func (f *Floorplan) Image() ([]byte, error) {
	if f.ImageBase64 == "" {
		return nil, nil
	}
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, f.ImageBase64)
	return base64.StdEncoding.DecodeString(clean)
}

// SetImage stores img as base64.
func (f *Floorplan) SetImage(img []byte) {
	f.ImageBase64 = base64.StdEncoding.EncodeToString(img)
}

// NextNodeID returns one past the largest node id.
func (f *Floorplan) NextNodeID() int {
	next := 1
	for _, n := range f.Nodes {
		if n.ID >= next {
			next = n.ID + 1
		}
	}
	return next
}
