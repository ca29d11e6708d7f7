// Package binlog records raw datagrams in a pcap-style file and reads them
// back. Each record carries a secondary header with a flag word and the
// sender's port and IPv4 address.
package binlog

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

const (
	PcapMagic = 0xA1B2C3D4

	pcapGlobalLen = 24
	pcapRecordLen = 16
	phdr2Len      = 8
)

// Record flags. The metadata flags mark blocks that are not datagrams.
const (
	FlagRx       = 0x001
	FlagRBB      = 0x008
	FlagProtoUDP = 0x100

	// FlagUDPData is what the ingest server stamps on every datagram.
	FlagUDPData = FlagRx | FlagRBB | FlagProtoUDP

	flagAnchor = 0x04
	flagTag    = 0x08
	flagStats  = 0x10
)

// IsMetadata reports whether flag marks a metadata block rather than a
// recorded datagram.
func IsMetadata(flag uint16) bool {
	return flag == flagAnchor || flag == flagTag || flag == flagStats
}

// PcapWriter appends records. It is safe for concurrent use.
type PcapWriter struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewPcapWriter creates path and writes the global header.
func NewPcapWriter(path string) (*PcapWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	pw, err := NewPcapWriterTo(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return pw, nil
}

// NewPcapWriterTo writes the global header to w. Close closes w when it is
// an io.Closer.
func NewPcapWriterTo(w io.Writer) (*PcapWriter, error) {
	pw := &PcapWriter{
		w:   w,
		buf: make([]byte, pcapRecordLen+phdr2Len), // reused buffer for headers
	}
	if err := pw.writeGlobalHeader(); err != nil {
		return nil, err
	}
	return pw, nil
}

func (pw *PcapWriter) writeGlobalHeader() error {
	// Magic(4), Major(2), Minor(2), Zone(4), Sig(4), Snap(4), Link(4)
	b := make([]byte, pcapGlobalLen)
	binary.LittleEndian.PutUint32(b[0:], PcapMagic)
	binary.LittleEndian.PutUint16(b[4:], 2)
	binary.LittleEndian.PutUint16(b[6:], 4)
	binary.LittleEndian.PutUint32(b[16:], 65535) // SnapLen
	binary.LittleEndian.PutUint32(b[20:], 1)     // LinkType, ignored by readers

	_, err := pw.w.Write(b)
	return err
}

// WritePacket records data received now from addr.
func (pw *PcapWriter) WritePacket(flag uint16, addr *net.UDPAddr, data []byte) error {
	return pw.WritePacketAt(time.Now(), flag, addr, data)
}

// WritePacketAt records data with an explicit timestamp.
func (pw *PcapWriter) WritePacketAt(ts time.Time, flag uint16, addr *net.UDPAddr, data []byte) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	totalLen := uint32(len(data) + phdr2Len)

	// ts_sec(4), ts_usec(4), incl_len(4), orig_len(4)
	binary.LittleEndian.PutUint32(pw.buf[0:], uint32(ts.Unix()))
	binary.LittleEndian.PutUint32(pw.buf[4:], uint32(ts.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(pw.buf[8:], totalLen)
	binary.LittleEndian.PutUint32(pw.buf[12:], totalLen)

	// flag(2), port(2), ip(4)
	h2 := pw.buf[pcapRecordLen:]
	binary.LittleEndian.PutUint16(h2[0:], flag)
	port := uint16(0)
	var ip4 net.IP
	if addr != nil {
		port = uint16(addr.Port)
		ip4 = addr.IP.To4()
	}
	binary.LittleEndian.PutUint16(h2[2:], port)
	if ip4 != nil {
		// network byte order, as other tools expect
		copy(h2[4:8], ip4)
	} else {
		binary.LittleEndian.PutUint32(h2[4:], 0)
	}

	if _, err := pw.w.Write(pw.buf); err != nil {
		return err
	}
	_, err := pw.w.Write(data)
	return err
}

func (pw *PcapWriter) Close() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if c, ok := pw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
