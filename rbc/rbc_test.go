package rbc

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stamp = time.Date(2024, 5, 1, 8, 30, 5, 250*int(time.Millisecond), time.UTC)

func lengthField(t *testing.T, msg []byte, at int) int {
	t.Helper()
	n, err := strconv.Atoi(strings.TrimSpace(string(msg[at : at+3])))
	require.NoError(t, err)
	return n
}

func TestFormatPosition(t *testing.T) {
	msg := FormatPosition(0xB50AC, stamp, 7, "full", 6.666, 3.5)
	s := string(msg)
	assert.True(t, strings.HasPrefix(s, "display:"))
	assert.True(t, strings.HasSuffix(s, ",00000000000B50AC,7,20240501083005.250,full,6.67,3.50\r\n"))
	assert.Equal(t, len(msg), lengthField(t, msg, 8))
}

func TestFormatRoute(t *testing.T) {
	msg := FormatRoute(1, stamp, 9, []int{5, 4, 6})
	assert.True(t, strings.HasSuffix(string(msg), ",3,5;4;6\r\n"))
	assert.Equal(t, len(msg), lengthField(t, msg, 6))

	empty := FormatRoute(1, stamp, 9, nil)
	assert.True(t, strings.HasSuffix(string(empty), ",0,\r\n"))
}

func TestFillLengthHundreds(t *testing.T) {
	body := strings.Repeat("x", 120)
	msg := FormatWarning(1, stamp, body)
	assert.Equal(t, len(msg), lengthField(t, msg, 8))
	assert.NotEqual(t, byte(' '), msg[8])
}

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSenderUDPMask(t *testing.T) {
	posConn := listenUDP(t)
	routeConn := listenUDP(t)

	s := NewSender()
	s.SetHeader("NAV")
	require.NoError(t, s.AddUDPSender(posConn.LocalAddr().String(), FlagPosition))
	require.NoError(t, s.AddUDPSender(routeConn.LocalAddr().String(), FlagPosition|FlagRoute))
	require.NoError(t, s.Start())
	defer s.Stop()

	s.Send([]byte("route-line"), FlagRoute)
	s.Send([]byte("pos-line"), FlagPosition)

	buf := make([]byte, 256)
	posConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := posConn.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "NAV:pos-line", string(buf[:n]), "position-only target skips routes")

	routeConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err = routeConn.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "NAV:route-line", string(buf[:n]))
}

func TestSenderTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- line
	}()

	s := NewSender()
	s.AddTCPSender(ln.Addr().String(), FlagRoute)
	require.NoError(t, s.Start())
	defer s.Stop()
	s.Send(FormatRoute(2, stamp, 1, []int{1, 2}), FlagRoute)

	select {
	case line := <-got:
		assert.True(t, strings.HasPrefix(line, "route:"))
		assert.True(t, strings.HasSuffix(line, ",2,1;2\r\n"))
	case <-time.After(3 * time.Second):
		t.Fatal("tcp consumer got nothing")
	}
}

func TestSendBeforeStartIsNoop(t *testing.T) {
	s := NewSender()
	s.AddTCPSender("127.0.0.1:1", FlagPosition)
	s.Send([]byte("x"), FlagPosition)
	assert.Zero(t, s.Dropped())
	s.Stop()
}
