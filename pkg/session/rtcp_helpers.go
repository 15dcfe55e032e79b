package session

import (
	"github.com/videograce/confcore/pkg/rtpwire"
	"github.com/videograce/confcore/pkg/transport"
)

const appMessageForceKeyFrame = rtpwire.AppMessageForceKeyFrame

// sendAppMessage wraps an RTCP APP packet with an empty payload and
// sends it to the peer, the shape every session's control-plane
// feedback (force-keyframe, packet-loss stats) shares.
func sendAppMessage(sock transport.Socket, to *transport.Address, msgType rtpwire.AppMessageType, ssrc uint32) error {
	pkt := &rtpwire.RTCPPacket{
		Type: rtpwire.RTCPTypeAPP,
		App: &rtpwire.AppPacket{
			MessageType: msgType,
			SSRC:        ssrc,
		},
	}
	return sock.SendRTCP(pkt, to)
}
