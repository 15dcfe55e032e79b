// Package transport implements the uniform media socket contract and
// its three concrete carriers: direct UDP, a length-prefixed TCP
// tunnel (for networks that block UDP), and a WebSocket-Media (WSM)
// relay for networks that block both. Grounded on
// original_source/Engine/Transport/{UDPSocket.cpp,TCP,WSM}.
package transport

import "github.com/videograce/confcore/pkg/rtpwire"

// PacketKind distinguishes an RTP media packet from an RTCP control
// packet on a socket that carries both, matching the original's
// Transport::PacketType.
type PacketKind int

const (
	PacketRTP PacketKind = iota
	PacketRTCP
)

// Address identifies a remote endpoint a Socket sends to or received a
// packet from.
type Address struct {
	Host string
	Port uint16
}

func (a Address) String() string {
	if a.Host == "" {
		return ""
	}
	return a.Host + ":" + portString(a.Port)
}

func portString(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

// Socket is the uniform sink every transport carrier implements, the Go
// shape of the original's Transport::ISocket. OnRTP/OnRTCP are set by
// the caller before Start and invoked from the carrier's own read loop.
type Socket interface {
	Start() error
	Stop()
	SendRTP(pkt *rtpwire.Packet, to *Address) error
	SendRTCP(pkt *rtpwire.RTCPPacket, to *Address) error
	// SetHandlers installs the receive-side sinks; callers (pkg/session's
	// renderer sessions) must call this before Start.
	SetHandlers(onRTP RTPHandler, onRTCP RTCPHandler)
}

// RTPHandler is invoked for every RTP packet a Socket receives.
type RTPHandler func(pkt *rtpwire.Packet, from *Address)

// RTCPHandler is invoked for every RTCP packet a Socket receives.
type RTCPHandler func(pkt *rtpwire.RTCPPacket, from *Address)
