package session

import (
	"sync"

	"github.com/videograce/confcore/pkg/rtpwire"
	"github.com/videograce/confcore/pkg/transport"
)

// fakeSocket is an in-memory transport.Socket that records every sent
// packet instead of touching the network, so session tests can assert on
// wire-level fields without a real UDP round trip.
type fakeSocket struct {
	mu      sync.Mutex
	started bool
	onRTP   transport.RTPHandler
	onRTCP  transport.RTCPHandler
	rtpOut  []*rtpwire.Packet
	rtcpOut []*rtpwire.RTCPPacket
}

func (s *fakeSocket) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeSocket) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
}

func (s *fakeSocket) SendRTP(pkt *rtpwire.Packet, to *transport.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rtpOut = append(s.rtpOut, pkt)
	return nil
}

func (s *fakeSocket) SendRTCP(pkt *rtpwire.RTCPPacket, to *transport.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rtcpOut = append(s.rtcpOut, pkt)
	return nil
}

func (s *fakeSocket) SetHandlers(onRTP transport.RTPHandler, onRTCP transport.RTCPHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRTP = onRTP
	s.onRTCP = onRTCP
}

func (s *fakeSocket) deliverRTP(pkt *rtpwire.Packet) {
	s.mu.Lock()
	onRTP := s.onRTP
	s.mu.Unlock()
	if onRTP != nil {
		onRTP(pkt, &transport.Address{})
	}
}

func (s *fakeSocket) sentRTP() []*rtpwire.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*rtpwire.Packet(nil), s.rtpOut...)
}

func (s *fakeSocket) sentRTCP() []*rtpwire.RTCPPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*rtpwire.RTCPPacket(nil), s.rtcpOut...)
}
