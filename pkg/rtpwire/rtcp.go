package rtpwire

import (
	"encoding/binary"
	"fmt"
)

// RTCP packet types, RFC 3550 §12.1 numbering kept for wire compatibility
// even though the bodies below are this protocol's own reduced shape.
const (
	RTCPTypeSR   uint8 = 200
	RTCPTypeRR   uint8 = 201
	RTCPTypeSDES uint8 = 202
	RTCPTypeBYE  uint8 = 203
	RTCPTypeAPP  uint8 = 204
)

// AppMessageType enumerates the RTCP_APP sub-messages this protocol defines
// (force key-frame requests, stats pushes, remote-control events, and so
// on — see original_source/Engine/Transport/RTP/RTCPPacket.h).
type AppMessageType uint32

const (
	AppMessageUndefined AppMessageType = iota
	AppMessageForceKeyFrame
	AppMessageStat
	AppMessageReduceComplexity
	AppMessageSetFrameRate
	AppMessageUDPTest
	AppMessageRemoteControl
)

// RemoteControlAction enumerates the remote-desktop-control sub-commands
// packed into an AppMessageRemoteControl payload.
type RemoteControlAction uint8

const (
	RemoteControlMove RemoteControlAction = iota
	RemoteControlLeftUp
	RemoteControlLeftDown
	RemoteControlCenterUp
	RemoteControlCenterDown
	RemoteControlRightUp
	RemoteControlRightDown
	RemoteControlLeftDblClick
	RemoteControlRightDblClick
	RemoteControlWheel
	RemoteControlKeyUp
	RemoteControlKeyDown
)

// Payload types for the two media codecs this protocol carries over RTP.
// original_source/Engine/Audio/OpusEncoderImpl.cpp and
// Engine/Video/VP8EncoderImpl.cpp both assign these from a
// Transport::RTPPayloadType enum whose header wasn't part of the
// retrieved source tree, so these use the conventional dynamic
// payload-type values the WebRTC/Opus ecosystem settled on instead.
const (
	PayloadTypeOpus uint8 = 111
	PayloadTypeVP8  uint8 = 100
)

// rtcpHeaderSize is the 4-byte common header: version/padding/count octet,
// packet-type octet, and a 2-byte length-in-blocks field.
const rtcpHeaderSize = 4

// maxRTCPBlocks hardens the decoder against a peer claiming an oversized
// block count; the original clamps to 1 on parse, and this protocol never
// legitimately sends more than one block per packet.
const maxRTCPBlocks = 1

// SenderReport is this protocol's reduced RTCP_SR body: sender
// identification and the NTP/RTP timestamp pair, with no receiver report
// blocks appended.
type SenderReport struct {
	SSRC         uint32
	NTPSeconds   uint32
	NTPFraction  uint32
	RTPTimestamp uint32
	PacketCount  uint32
	OctetCount   uint32
}

const senderReportBlockSize = 24

// ReceiverReport is this protocol's reduced RTCP_RR body: just the SSRC of
// the reporting receiver, with no loss/jitter statistics attached.
type ReceiverReport struct {
	SSRC uint32
}

const receiverReportBlockSize = 4

// AppPacket is this protocol's RTCP_APP body: an application message type,
// the SSRC it concerns, and an 8-byte opaque payload (remote-control
// coordinates, a keyframe request reason, and so on).
type AppPacket struct {
	MessageType AppMessageType
	SSRC        uint32
	Payload     [8]byte
}

const appBlockSize = 4 + 4 + 8

// RTCPPacket is a parsed RTCP packet: exactly one of SR, RR, or App is set,
// selected by Type.
type RTCPPacket struct {
	Padding bool
	Type    uint8

	SR  *SenderReport
	RR  *ReceiverReport
	App *AppPacket
}

// Marshal serializes the packet. Length is always written as 1 (in
// 32-bit-word-blocks), matching RTCPPacket::Serialize's hardcoded value.
func (p *RTCPPacket) Marshal() ([]byte, error) {
	var body []byte

	switch p.Type {
	case RTCPTypeSR:
		if p.SR == nil {
			return nil, fmt.Errorf("rtpwire: RTCP SR packet missing SenderReport")
		}
		body = make([]byte, senderReportBlockSize)
		binary.BigEndian.PutUint32(body[0:4], p.SR.SSRC)
		binary.BigEndian.PutUint32(body[4:8], p.SR.NTPSeconds)
		binary.BigEndian.PutUint32(body[8:12], p.SR.NTPFraction)
		binary.BigEndian.PutUint32(body[12:16], p.SR.RTPTimestamp)
		binary.BigEndian.PutUint32(body[16:20], p.SR.PacketCount)
		binary.BigEndian.PutUint32(body[20:24], p.SR.OctetCount)
	case RTCPTypeRR:
		if p.RR == nil {
			return nil, fmt.Errorf("rtpwire: RTCP RR packet missing ReceiverReport")
		}
		body = make([]byte, receiverReportBlockSize)
		binary.BigEndian.PutUint32(body[0:4], p.RR.SSRC)
	case RTCPTypeAPP:
		if p.App == nil {
			return nil, fmt.Errorf("rtpwire: RTCP APP packet missing AppPacket")
		}
		body = make([]byte, appBlockSize)
		binary.BigEndian.PutUint32(body[0:4], uint32(p.App.MessageType))
		binary.BigEndian.PutUint32(body[4:8], p.App.SSRC)
		copy(body[8:16], p.App.Payload[:])
	default:
		return nil, fmt.Errorf("rtpwire: unsupported RTCP type %d for marshal", p.Type)
	}

	buf := make([]byte, rtcpHeaderSize+len(body))

	firstOctet := byte(rtpVersion << 6)
	if p.Padding {
		firstOctet |= 0x20
	}
	buf[0] = firstOctet
	buf[1] = p.Type
	binary.BigEndian.PutUint16(buf[2:4], 1)
	copy(buf[rtcpHeaderSize:], body)

	return buf, nil
}

// Unmarshal parses buf into the packet, clamping a peer-declared length
// field to maxRTCPBlocks the way RTCPPacket::Parse does.
func (p *RTCPPacket) Unmarshal(buf []byte) error {
	if len(buf) < rtcpHeaderSize {
		return fmt.Errorf("rtpwire: buffer too short for RTCP header: %d bytes", len(buf))
	}

	firstOctet := buf[0]
	version := firstOctet >> 6
	if version != rtpVersion {
		return fmt.Errorf("rtpwire: unsupported RTCP version %d", version)
	}
	p.Padding = firstOctet&0x20 != 0
	p.Type = buf[1]

	length := binary.BigEndian.Uint16(buf[2:4])
	if length > maxRTCPBlocks {
		length = maxRTCPBlocks
	}

	offset := rtcpHeaderSize
	for i := uint16(0); i < length; i++ {
		switch p.Type {
		case RTCPTypeSR:
			if offset+senderReportBlockSize > len(buf) {
				return fmt.Errorf("rtpwire: RTCP SR body overruns buffer")
			}
			p.SR = &SenderReport{
				SSRC:         binary.BigEndian.Uint32(buf[offset : offset+4]),
				NTPSeconds:   binary.BigEndian.Uint32(buf[offset+4 : offset+8]),
				NTPFraction:  binary.BigEndian.Uint32(buf[offset+8 : offset+12]),
				RTPTimestamp: binary.BigEndian.Uint32(buf[offset+12 : offset+16]),
				PacketCount:  binary.BigEndian.Uint32(buf[offset+16 : offset+20]),
				OctetCount:   binary.BigEndian.Uint32(buf[offset+20 : offset+24]),
			}
			offset += senderReportBlockSize
		case RTCPTypeRR:
			if offset+receiverReportBlockSize > len(buf) {
				return fmt.Errorf("rtpwire: RTCP RR body overruns buffer")
			}
			p.RR = &ReceiverReport{SSRC: binary.BigEndian.Uint32(buf[offset : offset+4])}
			offset += receiverReportBlockSize
		case RTCPTypeAPP:
			if offset+appBlockSize > len(buf) {
				return fmt.Errorf("rtpwire: RTCP APP body overruns buffer")
			}
			app := &AppPacket{
				MessageType: AppMessageType(binary.BigEndian.Uint32(buf[offset : offset+4])),
				SSRC:        binary.BigEndian.Uint32(buf[offset+4 : offset+8]),
			}
			copy(app.Payload[:], buf[offset+8:offset+16])
			p.App = app
			offset += appBlockSize
		case RTCPTypeSDES, RTCPTypeBYE:
			// Recognized but carry no fixed body in this protocol; nothing to read.
		default:
			return fmt.Errorf("rtpwire: unknown RTCP type %d", p.Type)
		}
	}

	return nil
}
