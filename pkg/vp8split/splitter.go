// Package vp8split implements the VP8 RTP splitter and collector: the
// send side fragments an encoded VP8 frame across multiple RTP packets
// under a fixed MTU, and the receive side reassembles those fragments
// back into a frame, gated on a CRC32 computed over the whole frame by
// the splitter. Grounded on original_source/Engine/Video/
// VP8RTPSplitter.cpp and VP8RTPCollector.cpp.
package vp8split

import (
	"github.com/videograce/confcore/pkg/rtpwire"
)

// FragmentSize caps the payload carried per RTP packet, leaving room for
// the VP8 payload descriptor byte and the IP/UDP/RTP headers below path
// MTU. 1200 matches the common WebRTC-ecosystem convention for VP8 (kept
// here as the Open Question decision recorded in SPEC_FULL.md §6).
const FragmentSize = 1200

// sFlagMask is the S bit (first packet of a frame) in the one-byte VP8
// payload descriptor this protocol emits: X=0 R=0 N=0 S=1 PART_ID=0.
const sFlagMask = 0x10

// Splitter fragments VP8 frames into RTP packets, one per call to Send.
// Not safe for concurrent use by multiple goroutines.
type Splitter struct {
	buffer  [1 + FragmentSize]byte
	lastSeq uint16

	// Send is invoked once per fragment packet, in order.
	Send func(pkt *rtpwire.Packet)
}

// NewSplitter returns a ready-to-use Splitter.
func NewSplitter(send func(pkt *rtpwire.Packet)) *Splitter {
	return &Splitter{Send: send}
}

// Reset clears the fragmentation sequence counter, used when a session
// restarts a video stream from scratch.
func (s *Splitter) Reset() {
	s.lastSeq = 0
}

// SplitFrame fragments one encoded VP8 frame, carried in an input RTP
// packet whose header supplies the timestamp/SSRC/payload type template
// and whose sequence number becomes the frame's original-sequence marker
// in every fragment's extension.
func (s *Splitter) SplitFrame(frame *rtpwire.Packet) {
	crc := rtpwire.CRC32(frame.Payload)

	s.buffer[0] = sFlagMask

	for pos := 0; pos < len(frame.Payload) || (pos == 0 && len(frame.Payload) == 0); {
		s.lastSeq++

		size := len(frame.Payload) - pos
		if size > FragmentSize {
			size = FragmentSize
		}
		copy(s.buffer[1:], frame.Payload[pos:pos+size])

		out := &rtpwire.Packet{
			Header: frame.Header,
			Payload: append([]byte(nil), s.buffer[:1+size]...),
		}
		out.Header.SequenceNumber = s.lastSeq
		out.Header.Extension = true
		out.Header.ExtensionWords = 2
		out.Header.ExtensionCRC32 = crc
		out.Header.ExtensionOrigSeq = uint32(frame.Header.SequenceNumber)

		s.Send(out)

		pos += size
		s.buffer[0] = 0 // clear S flag after the first fragment

		if len(frame.Payload) == 0 {
			break
		}
	}
}
