package rtpwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  Packet
	}{
		{
			name: "no extension, no CSRC",
			pkt: Packet{
				Header: Header{
					Marker:         true,
					PayloadType:    96,
					SequenceNumber: 1001,
					Timestamp:      90000,
					SSRC:           0xdeadbeef,
				},
				Payload: []byte{0x01, 0x02, 0x03, 0x04},
			},
		},
		{
			name: "with CRC+origseq extension (VP8 splitter, 2 words)",
			pkt: Packet{
				Header: Header{
					PayloadType:      98,
					SequenceNumber:   42,
					Timestamp:        1234,
					SSRC:             7,
					Extension:        true,
					ExtensionWords:   2,
					ExtensionCRC32:   0x11223344,
					ExtensionOrigSeq: 41,
				},
				Payload: []byte{0xaa, 0xbb},
			},
		},
		{
			name: "with CRC-only extension (Opus/VP8 encode, 1 word)",
			pkt: Packet{
				Header: Header{
					PayloadType:    111,
					SequenceNumber: 7,
					Timestamp:      5678,
					SSRC:           3,
					Extension:      true,
					ExtensionWords: 1,
					ExtensionCRC32: 0x55667788,
				},
				Payload: []byte{0x01},
			},
		},
		{
			name: "with CSRC list",
			pkt: Packet{
				Header: Header{
					PayloadType:    111,
					SequenceNumber: 5,
					Timestamp:      500,
					SSRC:           99,
					CSRC:           []uint32{1, 2, 3},
				},
				Payload: []byte{0xff},
			},
		},
		{
			name: "empty payload",
			pkt: Packet{
				Header: Header{
					PayloadType:    96,
					SequenceNumber: 0,
					Timestamp:      0,
					SSRC:           0,
				},
				Payload: nil,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := tt.pkt.Marshal()
			require.NoError(t, err)

			var out Packet
			require.NoError(t, out.Unmarshal(buf))

			require.Equal(t, tt.pkt.Marker, out.Marker)
			require.Equal(t, tt.pkt.PayloadType, out.PayloadType)
			require.Equal(t, tt.pkt.SequenceNumber, out.SequenceNumber)
			require.Equal(t, tt.pkt.Timestamp, out.Timestamp)
			require.Equal(t, tt.pkt.SSRC, out.SSRC)
			require.Equal(t, tt.pkt.Extension, out.Extension)
			if tt.pkt.Extension {
				require.Equal(t, extensionWords(tt.pkt.ExtensionWords), out.ExtensionWords)
				require.Equal(t, tt.pkt.ExtensionCRC32, out.ExtensionCRC32)
				require.Equal(t, tt.pkt.ExtensionOrigSeq, out.ExtensionOrigSeq)
			}
			if len(tt.pkt.CSRC) > 0 {
				require.Equal(t, tt.pkt.CSRC, out.CSRC)
			}
			require.Equal(t, tt.pkt.Payload, out.Payload)
		})
	}
}

func TestPacketRoundTripPreservesForeignExtensionWords(t *testing.T) {
	// A foreign packet with a 4-word extension block (more than the two
	// this protocol interprets). Hand-built since this core never emits
	// such a packet itself.
	buf := []byte{
		0x90, 0x60, 0x00, 0x01, // version 2, extension bit, CC=0, PT=96, seq=1
		0x00, 0x00, 0x00, 0x00, // timestamp
		0x00, 0x00, 0x00, 0x01, // SSRC
		0x00, 0x00, 0x00, 0x04, // extension profile=0, length=4 words
		0x11, 0x22, 0x33, 0x44, // word 0: CRC32
		0x00, 0x00, 0x00, 0x29, // word 1: OrigSeq
		0xca, 0xfe, 0xba, 0xbe, // word 2: unknown to this protocol
		0xde, 0xad, 0xbe, 0xef, // word 3: unknown to this protocol
		0x01, 0x02, // payload
	}

	var pkt Packet
	require.NoError(t, pkt.Unmarshal(buf))
	require.Equal(t, uint16(4), pkt.ExtensionWords)
	require.Equal(t, []byte{0xca, 0xfe, 0xba, 0xbe, 0xde, 0xad, 0xbe, 0xef}, pkt.ExtensionExtra)

	out, err := pkt.Marshal()
	require.NoError(t, err)
	require.Equal(t, buf, out)
}

func TestUnmarshalRejectsShortBuffer(t *testing.T) {
	var p Packet
	err := p.Unmarshal([]byte{0x80, 0x60})
	require.Error(t, err)
}

func TestUnmarshalRejectsBadVersion(t *testing.T) {
	buf := make([]byte, 12)
	buf[0] = 0x00 // version 0
	var p Packet
	err := p.Unmarshal(buf)
	require.Error(t, err)
}

func TestUnmarshalRejectsExtensionOverrun(t *testing.T) {
	// X bit set, but buffer ends right after the fixed header.
	buf := make([]byte, 12)
	buf[0] = 0x90 // version 2, X=1
	var p Packet
	err := p.Unmarshal(buf)
	require.Error(t, err)
}

func TestCRC32MatchesAcrossCalls(t *testing.T) {
	data := []byte("a VP8 keyframe's worth of bytes, or close enough")
	require.Equal(t, CRC32(data), CRC32(data))
	require.NotEqual(t, CRC32(data), CRC32(append(append([]byte{}, data...), 0x00)))
	require.Equal(t, uint32(0), CRC32(nil))
}
