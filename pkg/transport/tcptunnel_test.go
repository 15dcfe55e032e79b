package transport

import (
	"bufio"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTunnelServer accepts one connection and echoes every frame back
// with source/destination ports swapped, enough to exercise the pipe
// round trip without a real peer.
func fakeTunnelServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		header := make([]byte, tcpHeaderLength)
		for {
			if _, err := readFull(r, header); err != nil {
				return
			}
			bodyLen := binary.BigEndian.Uint16(header[0:2])
			destPort := binary.BigEndian.Uint16(header[2:4])
			srcPort := binary.BigEndian.Uint16(header[4:6])
			body := make([]byte, bodyLen)
			if _, err := readFull(r, body); err != nil {
				return
			}

			var reply [tcpHeaderLength]byte
			binary.BigEndian.PutUint16(reply[0:2], bodyLen)
			binary.BigEndian.PutUint16(reply[2:4], srcPort) // swap: answer to the original sender's port
			binary.BigEndian.PutUint16(reply[4:6], destPort)
			if _, err := conn.Write(reply[:]); err != nil {
				return
			}
			if _, err := conn.Write(body); err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestTCPTunnelPipeRoundTrip(t *testing.T) {
	addr := fakeTunnelServer(t)

	tun := NewTCPTunnel(nil, addr)
	require.NoError(t, tun.Start())
	defer tun.Stop()

	localPort, err := tun.AddPipe(5000)
	require.NoError(t, err)
	require.NotZero(t, localPort)

	// A plain UDP socket talks to the pipe exactly like it would talk to
	// any other UDP peer.
	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(localPort)})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestTCPTunnelAddPipeIsIdempotent(t *testing.T) {
	addr := fakeTunnelServer(t)
	tun := NewTCPTunnel(nil, addr)
	require.NoError(t, tun.Start())
	defer tun.Stop()

	p1, err := tun.AddPipe(7000)
	require.NoError(t, err)
	p2, err := tun.AddPipe(7000)
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}

func TestTCPTunnelRemovePipe(t *testing.T) {
	addr := fakeTunnelServer(t)
	tun := NewTCPTunnel(nil, addr)
	require.NoError(t, tun.Start())
	defer tun.Stop()

	localPort, err := tun.AddPipe(8000)
	require.NoError(t, err)
	tun.RemovePipe(8000)

	localPort2, err := tun.AddPipe(8000)
	require.NoError(t, err)
	require.NotEqual(t, localPort, localPort2)
}

func TestTCPTunnelBodyLengthClamped(t *testing.T) {
	addr := fakeTunnelServer(t)
	tun := NewTCPTunnel(nil, addr)
	require.NoError(t, tun.Start())
	defer tun.Stop()

	oversized := make([]byte, tcpMaxBodyLength+500)
	err := tun.writeFrame(oversized, 1, 2)
	require.NoError(t, err)
}
