package binlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// maxPayload bounds a record payload; larger stated lengths mean a corrupt file.
const maxPayload = 65535

// ErrRecordTooLarge reports a record header whose length exceeds maxPayload.
var ErrRecordTooLarge = errors.New("pcap record too large")

// Record is one entry of a recording.
type Record struct {
	Time    time.Time
	Flag    uint16
	Addr    *net.UDPAddr
	Payload []byte
}

// Reader iterates the records of a recording.
type Reader struct {
	r   *bufio.Reader
	rec []byte
}

// NewReader checks the global header and positions r at the first record.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	hdr := make([]byte, pcapGlobalLen)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:4]); magic != PcapMagic {
		return nil, fmt.Errorf("pcap header: bad magic 0x%08x", magic)
	}
	return &Reader{r: br, rec: make([]byte, pcapRecordLen+phdr2Len)}, nil
}

// Next returns the next record, or io.EOF after the last complete one. A
// record truncated by an interrupted recording also ends the stream; a stated
// length beyond maxPayload returns ErrRecordTooLarge.
func (rd *Reader) Next() (Record, error) {
	for {
		if _, err := io.ReadFull(rd.r, rd.rec[:pcapRecordLen]); err != nil {
			return Record{}, eof(err)
		}
		tsSec := binary.LittleEndian.Uint32(rd.rec[0:4])
		tsUsec := binary.LittleEndian.Uint32(rd.rec[4:8])
		inclLen := binary.LittleEndian.Uint32(rd.rec[8:12])
		if inclLen < phdr2Len {
			// malformed record, skip the stated length
			if _, err := rd.r.Discard(int(inclLen)); err != nil {
				return Record{}, eof(err)
			}
			continue
		}
		if inclLen > phdr2Len+maxPayload {
			return Record{}, fmt.Errorf("record length %d: %w", inclLen, ErrRecordTooLarge)
		}

		h2 := rd.rec[pcapRecordLen:]
		if _, err := io.ReadFull(rd.r, h2); err != nil {
			return Record{}, eof(err)
		}
		payload := make([]byte, int(inclLen)-phdr2Len)
		if _, err := io.ReadFull(rd.r, payload); err != nil {
			return Record{}, eof(err)
		}

		ip := make(net.IP, 4)
		copy(ip, h2[4:8])
		return Record{
			Time:    time.Unix(int64(tsSec), int64(tsUsec)*1000),
			Flag:    binary.LittleEndian.Uint16(h2[0:2]),
			Addr:    &net.UDPAddr{IP: ip, Port: int(binary.LittleEndian.Uint16(h2[2:4]))},
			Payload: payload,
		}, nil
	}
}

func eof(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

// ReadFile loads every datagram record of path, skipping metadata blocks.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rd, err := NewReader(f)
	if err != nil {
		return nil, err
	}
	var out []Record
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if IsMetadata(rec.Flag) {
			continue
		}
		out = append(out, rec)
	}
}
