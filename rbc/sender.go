package rbc

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"navengine-go/logging"
)

const tcpQueueLen = 1000

type Message struct {
	Data []byte
	Flag uint32
}

type UdpTarget struct {
	addr *net.UDPAddr
	flag uint32
}

// TcpClient owns one outbound connection, redialled on failure. Messages
// queue while it is down and are dropped when the queue is full.
type TcpClient struct {
	addr  string
	flag  uint32
	queue chan *Message
	stop  chan struct{}
	wg    sync.WaitGroup
}

// Sender fans messages out to every target whose mask covers the flag.
type Sender struct {
	udpTargets []*UdpTarget
	tcpClients []*TcpClient
	connUDP    *net.UDPConn
	header     []byte
	running    atomic.Bool
	dropped    atomic.Uint64
}

func NewSender() *Sender {
	return &Sender{}
}

// SetHeader prefixes every message with hdr and a colon. Call before Start.
func (s *Sender) SetHeader(hdr string) {
	if hdr == "" {
		s.header = nil
	} else {
		s.header = []byte(hdr + ":")
	}
}

func (s *Sender) AddUDPSender(addr string, flag uint32) error {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	s.udpTargets = append(s.udpTargets, &UdpTarget{addr: uaddr, flag: flag})
	return nil
}

func (s *Sender) AddTCPSender(addr string, flag uint32) {
	s.tcpClients = append(s.tcpClients, &TcpClient{
		addr:  addr,
		flag:  flag,
		queue: make(chan *Message, tcpQueueLen),
		stop:  make(chan struct{}),
	})
}

func (s *Sender) Start() error {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	s.connUDP = conn
	s.running.Store(true)

	for _, c := range s.tcpClients {
		c.Start()
	}
	return nil
}

func (s *Sender) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.connUDP != nil {
		s.connUDP.Close()
	}
	for _, c := range s.tcpClients {
		c.Stop()
	}
}

// Dropped counts TCP messages discarded because a queue was full.
func (s *Sender) Dropped() uint64 { return s.dropped.Load() }

// Send delivers data to matching targets. It never blocks.
func (s *Sender) Send(data []byte, flag uint32) {
	if !s.running.Load() {
		return
	}

	msgData := data
	if len(s.header) > 0 {
		msgData = make([]byte, len(s.header)+len(data))
		copy(msgData, s.header)
		copy(msgData[len(s.header):], data)
	}

	for _, t := range s.udpTargets {
		if (t.flag & flag) == flag {
			if _, err := s.connUDP.WriteToUDP(msgData, t.addr); err != nil {
				logging.Tracef("rbc udp send to %s: %v", t.addr, err)
			}
		}
	}

	msg := &Message{Data: msgData, Flag: flag}
	for _, c := range s.tcpClients {
		if (c.flag & flag) == flag {
			select {
			case c.queue <- msg:
			default:
				s.dropped.Add(1)
			}
		}
	}
}

func (c *TcpClient) Start() {
	c.wg.Add(1)
	go c.loop()
}

func (c *TcpClient) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *TcpClient) loop() {
	defer c.wg.Done()
	var conn net.Conn

	connect := func() bool {
		if conn != nil {
			return true
		}
		var err error
		conn, err = net.DialTimeout("tcp", c.addr, 2*time.Second)
		if err != nil {
			conn = nil
			return false
		}
		return true
	}
	pause := func(d time.Duration) bool {
		select {
		case <-c.stop:
			return false
		case <-time.After(d):
			return true
		}
	}

	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()
	for {
		var msg *Message
		select {
		case <-c.stop:
			return
		case msg = <-c.queue:
		}

		if !connect() {
			if !pause(500 * time.Millisecond) {
				return
			}
			if !connect() {
				continue // drop this message
			}
		}

		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Write(msg.Data); err != nil {
			logging.Opsf("rbc tcp write to %s failed: %v", c.addr, err)
			conn.Close()
			conn = nil
			if !pause(100 * time.Millisecond) {
				return
			}
		}
	}
}
