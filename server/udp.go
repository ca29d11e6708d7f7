// Package server receives scan reports over UDP, turns them into samples
// for a session, and publishes session updates to RBC and web consumers.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"navengine-go/binlog"
	"navengine-go/fusion"
	"navengine-go/logging"
)

const (
	DefaultPort   = 44333
	MaxPacketSize = 65535

	// PcapFlag is RX_PKT | RBB_PKT | PROT_UDP.
	PcapFlag = binlog.FlagUDPData

	DefaultQueue = 16
)

// LabelFunc resolves an emitter id from an id-keyed frame to its label.
type LabelFunc func(id int) (string, bool)

// Stats counts ingest outcomes.
type Stats struct {
	Datagrams uint64 `json:"datagrams"`
	Frames    uint64 `json:"frames"`
	BadCRC    uint64 `json:"badCrc"`
	Malformed uint64 `json:"malformed"`
	Unknown   uint64 `json:"unknown"`
	Queued    uint64 `json:"queued"`
	Dropped   uint64 `json:"dropped"`
}

type UdpServer struct {
	conn      *net.UDPConn
	samples   chan fusion.RawSample
	pcap      *binlog.PcapWriter
	VerifyCRC bool
	// Device, when non-zero, ignores frames from any other address.
	Device uint32

	stopped   atomic.Bool
	closeOnce sync.Once

	datagrams, frames, badCRC, malformed, unknown, queued, dropped atomic.Uint64

	mu     sync.Mutex
	labels LabelFunc
	// Map device -> last seen sender.
	lastGw map[uint32]*net.UDPAddr
}

// NewUdpServer binds port on all interfaces. A port of 0 uses DefaultPort;
// negative picks a free port. queue bounds the sample channel.
func NewUdpServer(port int, queue int) (*UdpServer, error) {
	switch {
	case port == 0:
		port = DefaultPort
	case port < 0:
		port = 0
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port, IP: net.IPv4zero})
	if err != nil {
		return nil, err
	}

	conn.SetReadBuffer(256 * 1024)
	return newServer(conn, queue), nil
}

// NewOfflineServer returns a server without a socket, for Replay.
func NewOfflineServer(queue int) *UdpServer { return newServer(nil, queue) }

func newServer(conn *net.UDPConn, queue int) *UdpServer {
	if queue <= 0 {
		queue = DefaultQueue
	}
	return &UdpServer{
		conn:      conn,
		samples:   make(chan fusion.RawSample, queue),
		VerifyCRC: true,
		lastGw:    make(map[uint32]*net.UDPAddr),
	}
}

// Addr is the bound local address.
func (s *UdpServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Samples delivers decoded scans. It is closed when Start or Replay returns.
func (s *UdpServer) Samples() <-chan fusion.RawSample { return s.samples }

func (s *UdpServer) SetPcapWriter(pw *binlog.PcapWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcap = pw
}

// SetLabelResolver enables id-keyed frames.
func (s *UdpServer) SetLabelResolver(f LabelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = f
}

// LabelsFromEmitters resolves ids against an emitter list.
func LabelsFromEmitters(emitters []fusion.Emitter) LabelFunc {
	m := make(map[int]string, len(emitters))
	for _, e := range emitters {
		m[e.ID] = e.Label
	}
	return func(id int) (string, bool) {
		l, ok := m[id]
		return l, ok
	}
}

// LastSender returns the address device was last heard from.
func (s *UdpServer) LastSender(device uint32) (*net.UDPAddr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.lastGw[device]
	return a, ok
}

func (s *UdpServer) Stats() Stats {
	return Stats{
		Datagrams: s.datagrams.Load(),
		Frames:    s.frames.Load(),
		BadCRC:    s.badCRC.Load(),
		Malformed: s.malformed.Load(),
		Unknown:   s.unknown.Load(),
		Queued:    s.queued.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Start reads datagrams until Stop. Each decoded scan is offered to the
// sample channel; when the consumer is still busy with earlier samples and
// the channel is full, the scan is dropped.
func (s *UdpServer) Start() {
	defer s.closeSamples()
	if s.conn == nil {
		return
	}
	buf := make([]byte, MaxPacketSize)
	logging.Opsf("UDP server listening on %s", s.conn.LocalAddr())

	for !s.stopped.Load() {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.stopped.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Opsf("udp read error: %v", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.handlePacket(context.Background(), data, addr, time.Now(), false)
	}
}

func (s *UdpServer) Stop() {
	s.stopped.Store(true)
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *UdpServer) closeSamples() {
	s.closeOnce.Do(func() { close(s.samples) })
}

// handlePacket decodes every frame in data. With block set, samples wait
// for channel space instead of being dropped.
func (s *UdpServer) handlePacket(ctx context.Context, data []byte, addr *net.UDPAddr, ts time.Time, block bool) error {
	s.datagrams.Add(1)
	frames, bad := SplitFrames(data, s.VerifyCRC)
	if bad > 0 {
		s.badCRC.Add(uint64(bad))
		logging.Diagf("%d frames with bad crc from %s", bad, addr)
	}

	s.mu.Lock()
	pcap, labels := s.pcap, s.labels
	s.mu.Unlock()

	for _, f := range frames {
		s.frames.Add(1)
		if pcap != nil {
			if err := pcap.WritePacketAt(ts, PcapFlag, addr, f.Raw); err != nil {
				logging.Opsf("pcap write: %v", err)
			}
		}
		if s.Device != 0 && f.Header.Addr != s.Device {
			continue
		}
		if addr != nil {
			s.mu.Lock()
			s.lastGw[f.Header.Addr] = addr
			s.mu.Unlock()
		}

		sample, ok := s.decode(f, labels)
		if !ok {
			continue
		}
		logging.Tracef("device %x: %d readings", f.Header.Addr, len(sample))
		if err := s.enqueue(ctx, sample, block); err != nil {
			return err
		}
	}
	return nil
}

func (s *UdpServer) decode(f Frame, labels LabelFunc) (fusion.RawSample, bool) {
	switch f.Header.Type {
	case TypeScanReport:
		r, err := ParseScanReport(f.Body)
		if err != nil {
			s.malformed.Add(1)
			logging.Diagf("device %x: %v", f.Header.Addr, err)
			return nil, false
		}
		return r.Sample(), true

	case TypeRssiFrameS:
		samples, err := ParseRssiFrameS(f.Body)
		if err != nil {
			s.malformed.Add(1)
			logging.Diagf("device %x: %v", f.Header.Addr, err)
			return nil, false
		}
		if labels == nil {
			s.unknown.Add(1)
			return nil, false
		}
		out := make(fusion.RawSample, len(samples))
		for _, smp := range samples {
			label, ok := labels(smp.AnchorID)
			if !ok {
				logging.Tracef("device %x: unknown emitter id %d", f.Header.Addr, smp.AnchorID)
				continue
			}
			if old, seen := out[label]; !seen || float64(smp.RSSIDb) > old {
				out[label] = float64(smp.RSSIDb)
			}
		}
		return out, true

	default:
		s.unknown.Add(1)
		return nil, false
	}
}

func (s *UdpServer) enqueue(ctx context.Context, sample fusion.RawSample, block bool) error {
	if block {
		select {
		case s.samples <- sample:
			s.queued.Add(1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case s.samples <- sample:
		s.queued.Add(1)
	default:
		n := s.dropped.Add(1)
		logging.Opsf("sample queue full, dropped scan (%d dropped so far)", n)
	}
	return nil
}
