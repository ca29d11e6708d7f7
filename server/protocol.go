package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"navengine-go/fusion"
)

const (
	UnibMagic   = 0x7857 // Little Endian for 'W' 'x'
	UnibHdrLen  = 9
	UnibWrapLen = 11 // header + crc16

	// MaxBodyLen is the largest body the 11-bit length field can carry.
	MaxBodyLen = 1<<11 - 1

	// TypeRssiFrameS carries (emitter id, rssi) pairs for scanners that
	// were provisioned with emitter ids.
	TypeRssiFrameS = 0x61
	// TypeScanReport carries (label, rssi) pairs straight from a scan.
	TypeScanReport = 0x62

	// FlagSeconds marks a body prefixed with one seconds byte.
	FlagSeconds = 0x2

	maxRssiFrameSamples = 15
)

var (
	ErrShortFrame = errors.New("frame too short")
	ErrBadMagic   = errors.New("invalid magic")
	ErrBadCRC     = errors.New("crc mismatch")
)

type UnibHeader struct {
	Magic   uint16
	Addr    uint32
	Flags   uint8
	Type    uint16
	BodyLen int
}

// ParseHeader parses the UNIB header from the beginning of the packet.
func ParseHeader(data []byte) (*UnibHeader, error) {
	if len(data) < UnibHdrLen {
		return nil, ErrShortFrame
	}

	magic := binary.LittleEndian.Uint16(data[0:2])
	if magic != UnibMagic {
		return nil, fmt.Errorf("%w: 0x%x", ErrBadMagic, magic)
	}

	addr := binary.LittleEndian.Uint32(data[2:6])

	// Byte 6: flags in the low 3 bits, type low 5 bits above.
	b6 := data[6]
	flags := b6 & 0x7
	typLow := uint16(b6 >> 3)

	// Byte 7: type high 5 bits, length low 3 bits above.
	b7 := data[7]
	typHigh := uint16(b7 & 0x1F)
	lenLow := int(b7 >> 5)

	// Byte 8: length high 8 bits.
	lenHigh := int(data[8])

	return &UnibHeader{
		Magic:   magic,
		Addr:    addr,
		Flags:   flags,
		Type:    typLow + (typHigh << 5),
		BodyLen: lenLow + (lenHigh << 3),
	}, nil
}

// CRC16 is CRC-16/XMODEM: polynomial 0x1021, initial value 0.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// PackFrame wraps body in a UNIB header and CRC trailer.
func PackFrame(addr uint32, typ uint16, flags uint8, body []byte) ([]byte, error) {
	if len(body) > MaxBodyLen {
		return nil, fmt.Errorf("frame body %d bytes exceeds %d", len(body), MaxBodyLen)
	}
	if typ >= 1<<10 {
		return nil, fmt.Errorf("frame type 0x%x out of range", typ)
	}
	n := len(body)
	pkt := make([]byte, UnibHdrLen, UnibWrapLen+n)
	binary.LittleEndian.PutUint16(pkt[0:], UnibMagic)
	binary.LittleEndian.PutUint32(pkt[2:], addr)
	pkt[6] = flags&0x7 | byte(typ&0x1F)<<3
	pkt[7] = byte(typ>>5)&0x1F | byte(n&0x7)<<5
	pkt[8] = byte(n >> 3)
	pkt = append(pkt, body...)
	return binary.LittleEndian.AppendUint16(pkt, CRC16(pkt)), nil
}

// CheckCRC verifies the trailer of one complete frame.
func CheckCRC(raw []byte) error {
	if len(raw) < UnibWrapLen {
		return ErrShortFrame
	}
	end := len(raw) - 2
	if CRC16(raw[:end]) != binary.LittleEndian.Uint16(raw[end:]) {
		return ErrBadCRC
	}
	return nil
}

// Frame is one decoded UNIB frame. Body excludes the seconds prefix.
type Frame struct {
	Header UnibHeader
	Body   []byte
	// Raw is the complete frame, header to crc.
	Raw []byte
}

// SplitFrames walks a datagram that may hold several concatenated frames.
// Bytes that do not start a valid frame are skipped one at a time so the
// scan resynchronises after garbage; a frame whose crc fails is skipped
// whole. The count of frames rejected for a bad crc is returned.
func SplitFrames(data []byte, verifyCRC bool) (frames []Frame, badCRC int) {
	offset := 0
	for len(data)-offset >= UnibWrapLen {
		hdr, err := ParseHeader(data[offset:])
		if err != nil {
			offset++
			continue
		}
		total := UnibWrapLen + hdr.BodyLen
		if offset+total > len(data) {
			break
		}
		raw := data[offset : offset+total]
		bodyEnd := UnibHdrLen + hdr.BodyLen
		if verifyCRC && CheckCRC(raw) != nil {
			badCRC++
			offset++
			continue
		}
		body := raw[UnibHdrLen:bodyEnd]
		if hdr.Flags&FlagSeconds != 0 && len(body) > 0 {
			body = body[1:]
		}
		frames = append(frames, Frame{Header: *hdr, Body: body, Raw: raw})
		offset += total
	}
	return frames, badCRC
}

// ScanEntry is one emitter heard by a scan.
type ScanEntry struct {
	Label string
	RSSI  int
}

// ScanReport is the body of a TypeScanReport frame: seq u16, count u8,
// then count entries of (label length u8, label, rssi int8).
type ScanReport struct {
	Seq     uint16
	Entries []ScanEntry
}

// MarshalBinary encodes the report body.
func (r ScanReport) MarshalBinary() ([]byte, error) {
	if len(r.Entries) > 255 {
		return nil, fmt.Errorf("scan report has %d entries, max 255", len(r.Entries))
	}
	body := binary.LittleEndian.AppendUint16(nil, r.Seq)
	body = append(body, byte(len(r.Entries)))
	for _, e := range r.Entries {
		if len(e.Label) == 0 || len(e.Label) > 255 {
			return nil, fmt.Errorf("scan label %q: length must be 1..255", e.Label)
		}
		if e.RSSI < -128 || e.RSSI > 127 {
			return nil, fmt.Errorf("scan label %q: rssi %d out of range", e.Label, e.RSSI)
		}
		body = append(body, byte(len(e.Label)))
		body = append(body, e.Label...)
		body = append(body, byte(int8(e.RSSI)))
	}
	return body, nil
}

// ParseScanReport decodes a TypeScanReport body.
func ParseScanReport(body []byte) (ScanReport, error) {
	if len(body) < 3 {
		return ScanReport{}, fmt.Errorf("scan report: %w", ErrShortFrame)
	}
	r := ScanReport{Seq: binary.LittleEndian.Uint16(body[0:2])}
	num := int(body[2])
	pos := 3
	r.Entries = make([]ScanEntry, 0, num)
	for i := 0; i < num; i++ {
		if pos >= len(body) {
			return ScanReport{}, fmt.Errorf("scan entry %d truncated", i)
		}
		n := int(body[pos])
		pos++
		if n == 0 || pos+n+1 > len(body) {
			return ScanReport{}, fmt.Errorf("scan entry %d truncated", i)
		}
		label := string(body[pos : pos+n])
		rssi := int(int8(body[pos+n]))
		pos += n + 1
		r.Entries = append(r.Entries, ScanEntry{Label: label, RSSI: rssi})
	}
	return r, nil
}

// Sample converts the report into a RawSample. A label heard twice keeps
// its strongest reading.
func (r ScanReport) Sample() fusion.RawSample {
	s := make(fusion.RawSample, len(r.Entries))
	for _, e := range r.Entries {
		if old, ok := s[e.Label]; !ok || float64(e.RSSI) > old {
			s[e.Label] = float64(e.RSSI)
		}
	}
	return s
}

// NewScanReport builds a report from a sample, entries sorted by label.
// Powers are rounded to whole dBm and clamped to the int8 range.
func NewScanReport(seq uint16, sample fusion.RawSample) ScanReport {
	labels := make([]string, 0, len(sample))
	for l := range sample {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	r := ScanReport{Seq: seq, Entries: make([]ScanEntry, 0, len(labels))}
	for _, l := range labels {
		r.Entries = append(r.Entries, ScanEntry{Label: l, RSSI: clampRSSI(sample[l])})
	}
	return r
}

func clampRSSI(v float64) int {
	if math.IsNaN(v) {
		return -128
	}
	return int(math.Max(-128, math.Min(127, math.Round(v))))
}

// PackScanReport encodes r as a complete frame from device.
func PackScanReport(device uint32, r ScanReport) ([]byte, error) {
	body, err := r.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return PackFrame(device, TypeScanReport, 0, body)
}

type RssiSample struct {
	AnchorID int
	RSSIDb   int
}

// ParseRssiFrameS decodes the short RSSI frame: seq u8, count in the high
// nibble of the next byte, then count entries of (id u16, rssi int8).
func ParseRssiFrameS(body []byte) ([]RssiSample, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("rssi_s frame: %w", ErrShortFrame)
	}
	num := int(body[1] >> 4)

	base := 2
	samples := make([]RssiSample, 0, num)
	for i := 0; i < num; i++ {
		if base+3 > len(body) {
			return nil, fmt.Errorf("rssi_s sample truncated")
		}
		addr := binary.LittleEndian.Uint16(body[base : base+2])
		rssi := int8(body[base+2])
		base += 3

		samples = append(samples, RssiSample{
			AnchorID: int(addr),
			RSSIDb:   int(rssi),
		})
	}
	return samples, nil
}

// PackRssiFrameS encodes an id-keyed frame body. At most 15 samples fit.
func PackRssiFrameS(seq uint8, samples []RssiSample) ([]byte, error) {
	if len(samples) > maxRssiFrameSamples {
		return nil, fmt.Errorf("rssi_s frame holds at most %d samples, got %d", maxRssiFrameSamples, len(samples))
	}
	body := []byte{seq, byte(len(samples)) << 4}
	for _, s := range samples {
		if s.AnchorID < 0 || s.AnchorID > 0xFFFF {
			return nil, fmt.Errorf("rssi_s anchor id %d out of range", s.AnchorID)
		}
		body = binary.LittleEndian.AppendUint16(body, uint16(s.AnchorID))
		body = append(body, byte(int8(clampRSSI(float64(s.RSSIDb)))))
	}
	return body, nil
}
