package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/videograce/confcore/pkg/rtpwire"
)

func TestUDPSocketRoundTrip(t *testing.T) {
	a := NewUDPSocket(nil, 0)
	b := NewUDPSocket(nil, 0)

	received := make(chan *rtpwire.Packet, 1)
	b.OnRTP = func(pkt *rtpwire.Packet, from *Address) { received <- pkt }

	require.NoError(t, a.Start())
	defer a.Stop()
	require.NoError(t, b.Start())
	defer b.Stop()

	pkt := &rtpwire.Packet{
		Header:  rtpwire.Header{SequenceNumber: 42, Timestamp: 1000, SSRC: 7},
		Payload: []byte("hello"),
	}
	to := &Address{Host: "127.0.0.1", Port: uint16(b.LocalPort())}
	require.NoError(t, a.SendRTP(pkt, to))

	select {
	case got := <-received:
		require.EqualValues(t, 42, got.Header.SequenceNumber)
		require.Equal(t, []byte("hello"), got.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

func TestUDPSocketRTCPRoundTrip(t *testing.T) {
	a := NewUDPSocket(nil, 0)
	b := NewUDPSocket(nil, 0)

	received := make(chan *rtpwire.RTCPPacket, 1)
	b.OnRTCP = func(pkt *rtpwire.RTCPPacket, from *Address) { received <- pkt }

	require.NoError(t, a.Start())
	defer a.Stop()
	require.NoError(t, b.Start())
	defer b.Stop()

	pkt := &rtpwire.RTCPPacket{Type: rtpwire.RTCPTypeRR, RR: &rtpwire.ReceiverReport{SSRC: 99}}
	to := &Address{Host: "127.0.0.1", Port: uint16(b.LocalPort())}
	require.NoError(t, a.SendRTCP(pkt, to))

	select {
	case got := <-received:
		require.Equal(t, uint32(99), got.RR.SSRC)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

func TestUDPSocketStopIsIdempotent(t *testing.T) {
	s := NewUDPSocket(nil, 0)
	require.NoError(t, s.Start())
	s.Stop()
	require.NotPanics(t, func() { s.Stop() })
}
