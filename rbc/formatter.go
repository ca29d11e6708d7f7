package rbc

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeLayout renders RBC timestamps as YYYYMMDDhhmmss.mmm.
const timeLayout = "20060102150405.000"

// fillLength patches the total line length into the three blanks the
// header reserves after its colon. The hundreds digit stays blank below 100.
func fillLength(b []byte, at int) []byte {
	n := len(b)
	if n >= 100 {
		b[at] = byte('0' + (n/100)%10)
	}
	b[at+1] = byte('0' + (n/10)%10)
	b[at+2] = byte('0' + n%10)
	return b
}

func line(kind string, body string) []byte {
	return fillLength([]byte(kind+":   ,"+body+"\r\n"), len(kind)+1)
}

// FormatPosition renders a fix as
// "display:NNN,<device>,<seq>,<time>,<quality>,<x>,<y>".
func FormatPosition(device uint32, ts time.Time, seq uint16, quality string, x, y float64) []byte {
	return line("display", fmt.Sprintf("%016X,%d,%s,%s,%.2f,%.2f",
		device, seq, ts.Format(timeLayout), quality, x, y))
}

// FormatRoute renders a route as
// "route:NNN,<device>,<seq>,<time>,<n>,<id;id;...>". An empty route has n=0
// and an empty id list.
func FormatRoute(device uint32, ts time.Time, seq uint16, ids []int) []byte {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return line("route", fmt.Sprintf("%016X,%d,%s,%d,%s",
		device, seq, ts.Format(timeLayout), len(ids), strings.Join(parts, ";")))
}

// FormatWarning renders "warning:NNN,<device>,<time>,<text>".
func FormatWarning(device uint32, ts time.Time, text string) []byte {
	return line("warning", fmt.Sprintf("%016X,%s,%s", device, ts.Format(timeLayout), text))
}
