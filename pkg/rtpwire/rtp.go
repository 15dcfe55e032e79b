// Package rtpwire implements the RTP and RTCP wire formats used by the
// confcore transport layer. Both formats start from RFC 3550 but diverge
// from it in ways the original engine's RTPPacket.cpp/RTCPPacket.cpp codify
// exactly: the RTP header extension is a profile-agnostic block of either
// one word (crc32 only, emitted by the Opus/VP8 encoders) or two words
// (crc32, original sequence number, emitted by the VP8 splitter) instead of
// an RFC 5285 extension, and RTCP is a reduced clone — SR without report
// blocks, RR as a bare SSRC, APP as a fixed 16-byte record. Both are
// hand-rolled here rather than built on a general-purpose RTP/RTCP library,
// since neither shape fits one (see DESIGN.md).
package rtpwire

import (
	"encoding/binary"
	"fmt"
)

const rtpVersion = 2

const fixedHeaderSize = 12

// Header is an RTP header, RFC 3550 §5.1, plus this protocol's one- or
// two-word extension (CRC32 of the reassembled frame, and, in the
// two-word form, the frame's original sequence number before VP8
// splitting).
type Header struct {
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32

	// ExtensionWords selects the extension block's shape when Extension is
	// true: 1 word (ExtensionCRC32 only, used by the Opus/VP8 encoders per
	// original_source/Engine/Codecs/OpusEncoderImpl.cpp's eX[0]=crc32) or 2
	// words (ExtensionCRC32 + ExtensionOrigSeq, used by the VP8 splitter).
	ExtensionWords   uint16
	ExtensionCRC32   uint32
	ExtensionOrigSeq uint32

	// ExtensionExtra holds any extension words beyond the two this
	// protocol interprets (CRC32, OrigSeq). The core never emits more
	// than two, but Unmarshal preserves a foreign packet's trailing
	// words here so MarshalTo can write them back unchanged instead of
	// zero-filling the gap.
	ExtensionExtra []byte
}

// Packet is a full RTP packet: header plus payload.
type Packet struct {
	Header
	Payload []byte
}

// MarshalSize returns the number of bytes Marshal will produce.
func (p *Packet) MarshalSize() int {
	size := fixedHeaderSize + 4*len(p.CSRC)
	if p.Extension {
		size += 4 + 4*int(extensionWords(p.ExtensionWords)) // profile+length word, then N extension words
	}
	return size + len(p.Payload)
}

// extensionWords returns the effective extension word count: callers
// that only set ExtensionCRC32 (the Opus/VP8 encode path) may leave
// ExtensionWords unset, which defaults to 1.
func extensionWords(words uint16) uint16 {
	if words == 0 {
		return 1
	}
	return words
}

// Marshal serializes the packet into a newly allocated buffer.
func (p *Packet) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	n, err := p.MarshalTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// MarshalTo serializes the packet into buf, returning the number of bytes
// written. buf must be at least MarshalSize() bytes.
func (p *Packet) MarshalTo(buf []byte) (int, error) {
	if len(p.CSRC) > 15 {
		return 0, fmt.Errorf("rtpwire: too many CSRC entries: %d", len(p.CSRC))
	}
	if len(buf) < p.MarshalSize() {
		return 0, fmt.Errorf("rtpwire: buffer too small")
	}

	firstOctet := byte(rtpVersion << 6)
	if p.Padding {
		firstOctet |= 0x20
	}
	if p.Extension {
		firstOctet |= 0x10
	}
	firstOctet |= byte(len(p.CSRC)) & 0x0f

	secondOctet := p.PayloadType & 0x7f
	if p.Marker {
		secondOctet |= 0x80
	}

	buf[0] = firstOctet
	buf[1] = secondOctet
	binary.BigEndian.PutUint16(buf[2:4], p.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], p.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], p.SSRC)

	offset := fixedHeaderSize
	for _, csrc := range p.CSRC {
		binary.BigEndian.PutUint32(buf[offset:offset+4], csrc)
		offset += 4
	}

	if p.Extension {
		words := extensionWords(p.ExtensionWords)
		binary.BigEndian.PutUint16(buf[offset:offset+2], 0) // profile: unused by this protocol
		binary.BigEndian.PutUint16(buf[offset+2:offset+4], words)
		binary.BigEndian.PutUint32(buf[offset+4:offset+8], p.ExtensionCRC32)
		offset += 8
		if words >= 2 {
			binary.BigEndian.PutUint32(buf[offset:offset+4], p.ExtensionOrigSeq)
			offset += 4
		}
		if words > 2 {
			extra := int(words-2) * 4
			copy(buf[offset:offset+extra], p.ExtensionExtra)
			offset += extra
		}
	}

	n := copy(buf[offset:], p.Payload)
	return offset + n, nil
}

// Unmarshal parses buf into the packet, rejecting anything whose declared
// header size runs past the buffer (the same hardening RTPPacket::Parse
// applies).
func (p *Packet) Unmarshal(buf []byte) error {
	if len(buf) < fixedHeaderSize {
		return fmt.Errorf("rtpwire: buffer too short for RTP header: %d bytes", len(buf))
	}

	firstOctet := buf[0]
	version := firstOctet >> 6
	if version != rtpVersion {
		return fmt.Errorf("rtpwire: unsupported RTP version %d", version)
	}

	p.Padding = firstOctet&0x20 != 0
	p.Extension = firstOctet&0x10 != 0
	cc := int(firstOctet & 0x0f)

	secondOctet := buf[1]
	p.Marker = secondOctet&0x80 != 0
	p.PayloadType = secondOctet & 0x7f

	p.SequenceNumber = binary.BigEndian.Uint16(buf[2:4])
	p.Timestamp = binary.BigEndian.Uint32(buf[4:8])
	p.SSRC = binary.BigEndian.Uint32(buf[8:12])

	headerSize := fixedHeaderSize + 4*cc
	if headerSize > len(buf) {
		return fmt.Errorf("rtpwire: CSRC count overruns buffer")
	}

	p.CSRC = p.CSRC[:0]
	offset := fixedHeaderSize
	for i := 0; i < cc; i++ {
		p.CSRC = append(p.CSRC, binary.BigEndian.Uint32(buf[offset:offset+4]))
		offset += 4
	}

	if p.Extension {
		if headerSize+4 > len(buf) {
			return fmt.Errorf("rtpwire: extension header overruns buffer")
		}
		extLenWords := binary.BigEndian.Uint16(buf[offset+2 : offset+4])
		headerSize += 4 + int(extLenWords)*4
		if headerSize > len(buf) {
			return fmt.Errorf("rtpwire: extension body overruns buffer")
		}
		p.ExtensionWords = extLenWords
		if extLenWords >= 1 {
			p.ExtensionCRC32 = binary.BigEndian.Uint32(buf[offset+4 : offset+8])
		}
		if extLenWords >= 2 {
			p.ExtensionOrigSeq = binary.BigEndian.Uint32(buf[offset+8 : offset+12])
		}
		if extLenWords > 2 {
			extra := int(extLenWords-2) * 4
			p.ExtensionExtra = append(p.ExtensionExtra[:0], buf[offset+12:offset+12+extra]...)
		} else {
			p.ExtensionExtra = p.ExtensionExtra[:0]
		}
	}

	p.Payload = buf[headerSize:]
	return nil
}
