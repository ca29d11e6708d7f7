// Package session runs the estimation loop: each scan goes through the
// fusion pipeline, the fix is snapped onto the walkable graph, and the route
// to the current destination is recomputed when either end moves.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"navengine-go/floorplan"
	"navengine-go/fusion"
	"navengine-go/geom"
	"navengine-go/logging"
	"navengine-go/route"
)

// ErrUnknownRoom is returned when a destination names a room the floorplan
// does not have.
var ErrUnknownRoom = errors.New("unknown room")

// Update is the state after one cycle or destination change.
type Update struct {
	Session string       `json:"session"`
	Seq     uint64       `json:"seq"`
	Time    time.Time    `json:"time"`
	Cycle   fusion.Cycle `json:"cycle"`
	// Start is the last snapped position; it survives cycles without a fix.
	Start *route.Node `json:"start,omitempty"`
	Goal  *route.Node `json:"goal,omitempty"`
	// Route is the current route, empty when unreachable or either end is missing.
	Route route.Route `json:"route"`
	// RouteChanged is set when start or goal moved and Route was recomputed.
	RouteChanged bool `json:"routeChanged"`
}

// Publisher receives every Update produced by Run and by destination changes.
// Publish is called without the session lock held and must not block for long.
type Publisher interface {
	Publish(Update)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Update)

func (f PublisherFunc) Publish(u Update) { f(u) }

// Publishers fans one Update out in order.
type Publishers []Publisher

func (ps Publishers) Publish(u Update) {
	for _, p := range ps {
		p.Publish(u)
	}
}

// Options configures a Session.
type Options struct {
	Pipeline  fusion.Options
	Publisher Publisher
	// Now stamps updates; defaults to time.Now.
	Now func() time.Time
}

// Session owns one positioning run over a floorplan. All methods are safe
// for concurrent use; cycles and destination changes are serialised.
type Session struct {
	id   string
	opts Options

	mu       sync.Mutex
	fp       *floorplan.Floorplan
	graph    *route.Graph
	pipeline *fusion.Pipeline
	seq      uint64
	start    *route.Node
	goal     *route.Node
	route    route.Route
	last     Update
}

// New validates fp and builds its graph and pipeline.
func New(fp *floorplan.Floorplan, opts Options) (*Session, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Session{id: uuid.NewString(), opts: opts}
	if err := s.load(fp); err != nil {
		return nil, err
	}
	s.last = Update{Session: s.id, Time: opts.Now(), Route: route.Route{}}
	return s, nil
}

func (s *Session) load(fp *floorplan.Floorplan) error {
	if fp == nil {
		return fmt.Errorf("%w: nil floorplan", floorplan.ErrInvalid)
	}
	if err := fp.Validate(); err != nil {
		return err
	}
	g, err := fp.Graph()
	if err != nil {
		return err
	}
	p, err := fusion.NewPipeline(fp.Emitters, s.opts.Pipeline)
	if err != nil {
		return fmt.Errorf("%w: %w", floorplan.ErrInvalid, err)
	}
	s.fp, s.graph, s.pipeline = fp, g, p
	return nil
}

// ID is the random session identifier.
func (s *Session) ID() string { return s.id }

// Floorplan returns the active floorplan.
func (s *Session) Floorplan() *floorplan.Floorplan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fp
}

// Graph returns the active routing graph.
func (s *Session) Graph() *route.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

// Step runs one full cycle for sample and returns the resulting Update. It
// does not publish; Run does.
func (s *Session) Step(sample fusion.RawSample) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	cycle := s.pipeline.Process(sample)
	if len(cycle.Unmatched) > 0 {
		logging.Tracef("session %s: unmatched labels %v", s.id, cycle.Unmatched)
	}

	changed := false
	if cycle.Fix.Valid() {
		if n, ok := s.graph.Nearest(cycle.Fix.Position); ok && (s.start == nil || s.start.ID != n.ID) {
			s.start = &n
			changed = true
		}
	}
	if changed {
		s.recompute()
	}

	u := s.update(cycle, changed)
	logging.Diagf("cycle %d: %s fix at (%.2f, %.2f) from %d emitters, route %d nodes",
		u.Seq, cycle.Fix.Quality, cycle.Fix.Position.X, cycle.Fix.Position.Y, cycle.Fix.Used, len(u.Route))
	return u
}

// recompute must be called with mu held.
func (s *Session) recompute() {
	if s.start == nil || s.goal == nil {
		s.route = route.Route{}
		return
	}
	r, err := route.FindRoute(s.graph, s.start.ID, s.goal.ID)
	if err != nil {
		// start and goal always come from the graph
		logging.Opsf("route %d -> %d: %v", s.start.ID, s.goal.ID, err)
		r = route.Route{}
	}
	if len(r) == 0 {
		logging.Diagf("goal %d unreachable from %d", s.goal.ID, s.start.ID)
	}
	s.route = r
}

// update must be called with mu held.
func (s *Session) update(cycle fusion.Cycle, changed bool) Update {
	s.seq++
	u := Update{
		Session:      s.id,
		Seq:          s.seq,
		Time:         s.opts.Now(),
		Cycle:        cycle,
		Start:        copyNode(s.start),
		Goal:         copyNode(s.goal),
		Route:        s.route,
		RouteChanged: changed,
	}
	if u.Route == nil {
		u.Route = route.Route{}
	}
	s.last = u
	return u
}

func copyNode(n *route.Node) *route.Node {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// Snapshot returns the most recent Update.
func (s *Session) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Session) publish(u Update) {
	if s.opts.Publisher != nil {
		s.opts.Publisher.Publish(u)
	}
}

// setGoal must be called with mu held. It returns the Update to publish.
func (s *Session) setGoal(goal *route.Node) Update {
	changed := (s.goal == nil) != (goal == nil) || (goal != nil && s.goal.ID != goal.ID)
	s.goal = goal
	if changed {
		s.recompute()
	}
	return s.update(s.last.Cycle, changed)
}

// SetDestinationNode routes to node id.
func (s *Session) SetDestinationNode(id int) (Update, error) {
	s.mu.Lock()
	n, ok := s.graph.Node(id)
	if !ok {
		s.mu.Unlock()
		return Update{}, fmt.Errorf("destination %d: %w", id, route.ErrUnknownNode)
	}
	u := s.setGoal(&n)
	s.mu.Unlock()
	s.publish(u)
	return u, nil
}

// SetDestinationPoint snaps p onto the graph and routes there.
func (s *Session) SetDestinationPoint(p geom.Point) (Update, error) {
	s.mu.Lock()
	u, err := s.setGoalAt(p)
	s.mu.Unlock()
	if err != nil {
		return Update{}, err
	}
	s.publish(u)
	return u, nil
}

// SetDestinationRoom routes to the graph node nearest the named room.
func (s *Session) SetDestinationRoom(name string) (Update, error) {
	s.mu.Lock()
	room, ok := s.fp.Room(name)
	if !ok {
		s.mu.Unlock()
		return Update{}, fmt.Errorf("destination %q: %w", name, ErrUnknownRoom)
	}
	u, err := s.setGoalAt(room.Pos())
	s.mu.Unlock()
	if err != nil {
		return Update{}, err
	}
	s.publish(u)
	return u, nil
}

// setGoalAt snaps p onto the current graph. Callers hold mu.
func (s *Session) setGoalAt(p geom.Point) (Update, error) {
	n, ok := s.graph.Nearest(p)
	if !ok {
		return Update{}, fmt.Errorf("destination (%.2f, %.2f): empty graph: %w", p.X, p.Y, route.ErrUnknownNode)
	}
	return s.setGoal(&n), nil
}

// ClearDestination drops the goal and the route.
func (s *Session) ClearDestination() Update {
	s.mu.Lock()
	u := s.setGoal(nil)
	s.mu.Unlock()
	s.publish(u)
	return u
}

// Reload swaps in a new floorplan. The filter bank starts over and the
// snapped start and route are cleared; the goal is kept when its node id
// still exists.
func (s *Session) Reload(fp *floorplan.Floorplan) error {
	s.mu.Lock()
	if err := s.load(fp); err != nil {
		s.mu.Unlock()
		return err
	}
	s.start = nil
	if s.goal != nil {
		if n, ok := s.graph.Node(s.goal.ID); ok {
			s.goal = &n
		} else {
			s.goal = nil
		}
	}
	s.route = route.Route{}
	u := s.update(fusion.Cycle{}, true)
	s.mu.Unlock()

	logging.Opsf("session %s: reloaded floorplan with %d emitters, %d nodes", s.id, len(fp.Emitters), len(fp.Nodes))
	s.publish(u)
	return nil
}

// Run processes samples in arrival order until ctx is cancelled or samples
// is closed, publishing each Update. It returns ctx.Err() on cancel and nil
// when the channel closes.
func (s *Session) Run(ctx context.Context, samples <-chan fusion.RawSample) error {
	logging.Opsf("session %s: running", s.id)
	for {
		select {
		case <-ctx.Done():
			logging.Opsf("session %s: stopped: %v", s.id, ctx.Err())
			return ctx.Err()
		case sample, ok := <-samples:
			if !ok {
				logging.Opsf("session %s: sample source closed", s.id)
				return nil
			}
			s.publish(s.Step(sample))
		}
	}
}
