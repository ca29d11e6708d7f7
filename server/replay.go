package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"navengine-go/binlog"
	"navengine-go/logging"
)

// Pacer sleeps so that recorded timestamps are reproduced at speed times
// real time. A speed of 0 or less never sleeps.
type Pacer struct {
	speed     float64
	first     time.Time
	startReal time.Time
}

func NewPacer(speed float64) *Pacer { return &Pacer{speed: speed} }

// Wait blocks until ts is due or ctx is done.
func (p *Pacer) Wait(ctx context.Context, ts time.Time) error {
	if p.first.IsZero() {
		p.first = ts
		p.startReal = time.Now()
		return ctx.Err()
	}
	if p.speed <= 0 {
		return ctx.Err()
	}
	target := time.Duration(float64(ts.Sub(p.first)) / p.speed)
	delay := target - time.Since(p.startReal)
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Replay feeds a recording through the same decode path as live traffic.
// Samples are never dropped: the replay waits for the consumer. The sample
// channel is closed when the recording ends.
func (s *UdpServer) Replay(ctx context.Context, path string, speed float64) error {
	defer s.closeSamples()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rd, err := binlog.NewReader(f)
	if err != nil {
		return fmt.Errorf("replay %s: %w", path, err)
	}

	logging.Opsf("replaying %s at %.1fx speed", path, speed)
	pacer := NewPacer(speed)
	count := 0
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("replay %s: %w", path, err)
		}
		if binlog.IsMetadata(rec.Flag) {
			continue
		}
		if err := pacer.Wait(ctx, rec.Time); err != nil {
			return err
		}
		count++
		if count <= 10 {
			logging.Diagf("replay pkt #%d: ts=%s len=%d flag=%x from %s",
				count, rec.Time.Format(time.RFC3339Nano), len(rec.Payload), rec.Flag, rec.Addr)
		}
		if err := s.handlePacket(ctx, rec.Payload, rec.Addr, rec.Time, true); err != nil {
			return err
		}
	}
	logging.Opsf("replay ended after %d packets", count)
	return nil
}
