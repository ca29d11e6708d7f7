package server

import (
	"encoding/json"
	"math"

	"navengine-go/logging"
	"navengine-go/rbc"
	"navengine-go/session"
)

// MessageSender is satisfied by *rbc.Sender.
type MessageSender interface {
	Send(data []byte, flag uint32)
}

// Broadcaster is satisfied by *web.Hub.
type Broadcaster interface {
	Broadcast(data []byte)
}

// ResultPublisher forwards session updates: fixes and changed routes go
// to RBC, and every update is pushed to the web hub as JSON.
type ResultPublisher struct {
	// Device is the id stamped on RBC lines.
	Device uint32
	RBC    MessageSender
	Hub    Broadcaster
}

// Publish implements session.Publisher.
func (p *ResultPublisher) Publish(u session.Update) {
	fix := u.Cycle.Fix
	if fix.Valid() && (math.Abs(fix.Position.X) > 1000 || math.Abs(fix.Position.Y) > 1000) {
		logging.Opsf("large coordinate: seq=%d x=%.2f y=%.2f", u.Seq, fix.Position.X, fix.Position.Y)
	}

	if p.RBC != nil {
		seq := uint16(u.Seq)
		if fix.Valid() {
			p.RBC.Send(rbc.FormatPosition(p.Device, u.Time, seq, fix.Quality.String(), fix.Position.X, fix.Position.Y), rbc.FlagPosition)
		}
		if u.RouteChanged {
			p.RBC.Send(rbc.FormatRoute(p.Device, u.Time, seq, u.Route.IDs()), rbc.FlagRoute)
			if u.Goal != nil && u.Start != nil && len(u.Route) == 0 {
				p.RBC.Send(rbc.FormatWarning(p.Device, u.Time, "goal unreachable"), rbc.FlagWarning)
			}
		}
	}

	if p.Hub != nil {
		b, err := json.Marshal(u)
		if err != nil {
			logging.Opsf("encode update %d: %v", u.Seq, err)
			return
		}
		p.Hub.Broadcast(b)
	}
}
