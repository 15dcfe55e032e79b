package vp8split

import "github.com/videograce/confcore/pkg/rtpwire"

// unpackerBufferSize bounds how much of a reassembled frame the collector
// will hold; a fragment landing past it is silently dropped rather than
// growing the buffer unbounded.
const unpackerBufferSize = 1024 * 1024

// payloadDescriptorSize returns the size, in bytes, of the VP8 payload
// descriptor prefixing a fragment, derived from its X/I/L/T/K bits.
func payloadDescriptorSize(firstTwoOctets uint16) uint8 {
	size := uint8(1)

	first := byte(firstTwoOctets >> 8)
	second := byte(firstTwoOctets)

	if first&0x80 != 0 { // X
		size++
		if second&0x80 != 0 { // I
			size++
		}
		if second&0x40 != 0 { // L
			size++
		}
		if second&0x20 != 0 || second&0x10 != 0 { // T or K
			size++
		}
	}

	return size
}

// Collector reassembles VP8 frames from fragmented RTP packets, gated on
// the splitter's CRC32-over-the-whole-frame check: a frame is only
// delivered once the next frame's first fragment confirms the buffered
// bytes hash to the CRC the splitter attached to its first fragment.
// Not safe for concurrent use by multiple goroutines.
type Collector struct {
	buffer []byte
	size   int

	header              rtpwire.Header
	lastPacketSeq       uint16
	haveLastPacketSeq   bool
	firstFramePacketSeq uint16
	currentFrameSeq     uint32
	lastCRC32           uint32

	// OnFrame is invoked once per reassembled frame.
	OnFrame func(pkt *rtpwire.Packet)
}

// NewCollector returns a ready-to-use Collector.
func NewCollector(onFrame func(pkt *rtpwire.Packet)) *Collector {
	return &Collector{
		buffer:  make([]byte, unpackerBufferSize),
		OnFrame: onFrame,
	}
}

// Reset clears all reassembly state, used on a stream restart.
func (c *Collector) Reset() {
	c.header = rtpwire.Header{}
	c.size = 0
	c.haveLastPacketSeq = false
	c.firstFramePacketSeq = 0
	c.currentFrameSeq = 0
	c.lastCRC32 = 0
}

// Process feeds one received RTP fragment into the reassembler.
func (c *Collector) Process(pkt *rtpwire.Packet) {
	if len(pkt.Payload) == 0 {
		return
	}
	if c.haveLastPacketSeq && c.lastPacketSeq == pkt.Header.SequenceNumber {
		return // duplicate
	}
	c.lastPacketSeq = pkt.Header.SequenceNumber
	c.haveLastPacketSeq = true

	firstTwoOctets := uint16(pkt.Payload[0])
	if len(pkt.Payload) > 1 {
		firstTwoOctets = uint16(pkt.Payload[0])<<8 | uint16(pkt.Payload[1])
	}
	descSize := payloadDescriptorSize(firstTwoOctets)

	if pkt.Payload[0]&sFlagMask != 0 { // S bit: first packet of a frame
		c.firstFramePacketSeq = c.lastPacketSeq
		c.currentFrameSeq = pkt.Header.ExtensionOrigSeq

		if c.size != 0 && c.lastCRC32 == rtpwire.CRC32(c.buffer[:c.size]) {
			c.emit()
		}

		c.lastCRC32 = pkt.Header.ExtensionCRC32
		c.header = pkt.Header
		c.size = 0
	}

	if pkt.Header.ExtensionOrigSeq == c.currentFrameSeq && len(pkt.Payload) > int(descSize) {
		data := pkt.Payload[descSize:]
		pos := int(c.lastPacketSeq-c.firstFramePacketSeq) * FragmentSize

		if pos+len(data) <= unpackerBufferSize {
			copy(c.buffer[pos:], data)
			if pos+len(data) > c.size {
				c.size = pos + len(data)
			}
		}
	}
}

func (c *Collector) emit() {
	out := &rtpwire.Packet{
		Header:  c.header,
		Payload: append([]byte(nil), c.buffer[:c.size]...),
	}
	out.Header.SequenceNumber = uint16(c.header.ExtensionOrigSeq)
	c.OnFrame(out)
}
