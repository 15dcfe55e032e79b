package vp8split

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/videograce/confcore/pkg/rtpwire"
)

func TestSplitterCollectorRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		frameSize int
	}{
		{"smaller than one fragment", 100},
		{"exactly one fragment", FragmentSize},
		{"several fragments", FragmentSize*3 + 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := make([]byte, tt.frameSize)
			for i := range frame {
				frame[i] = byte(i)
			}

			var fragments []*rtpwire.Packet
			splitter := NewSplitter(func(pkt *rtpwire.Packet) {
				fragments = append(fragments, pkt)
			})

			input := &rtpwire.Packet{
				Header: rtpwire.Header{
					PayloadType:    98,
					SequenceNumber: 500,
					Timestamp:      90000,
					SSRC:           123,
				},
				Payload: frame,
			}
			splitter.SplitFrame(input)

			require.NotEmpty(t, fragments)
			require.True(t, fragments[0].Payload[0]&sFlagMask != 0)
			for _, f := range fragments[1:] {
				require.True(t, f.Payload[0]&sFlagMask == 0)
			}

			var collected *rtpwire.Packet
			collector := NewCollector(func(pkt *rtpwire.Packet) {
				collected = pkt
			})
			for _, f := range fragments {
				collector.Process(f)
			}
			// Trigger delivery of the final frame: the collector only emits on
			// the NEXT frame's first fragment, so send one more.
			next := &rtpwire.Packet{
				Header: rtpwire.Header{
					PayloadType:      98,
					SequenceNumber:   fragments[len(fragments)-1].Header.SequenceNumber + 1,
					Extension:        true,
					ExtensionCRC32:   rtpwire.CRC32([]byte{0x00}),
					ExtensionOrigSeq: 501,
				},
				Payload: []byte{sFlagMask, 0x00},
			}
			collector.Process(next)

			require.NotNil(t, collected)
			require.True(t, bytes.Equal(collected.Payload, frame))
			require.EqualValues(t, 500, collected.Header.SequenceNumber)
		})
	}
}

func TestCollectorDropsDuplicatePacket(t *testing.T) {
	var frames int
	collector := NewCollector(func(pkt *rtpwire.Packet) { frames++ })

	pkt := &rtpwire.Packet{
		Header: rtpwire.Header{
			SequenceNumber:   1,
			Extension:        true,
			ExtensionCRC32:   rtpwire.CRC32([]byte{0xaa}),
			ExtensionOrigSeq: 10,
		},
		Payload: []byte{sFlagMask, 0xaa},
	}
	collector.Process(pkt)
	collector.Process(pkt) // duplicate seq, must be ignored

	require.Equal(t, 0, frames) // no next frame arrived yet to trigger emit
}

func TestCollectorDropsEmptyPayload(t *testing.T) {
	collector := NewCollector(func(pkt *rtpwire.Packet) {
		t.Fatal("OnFrame should not be called for an empty-payload packet")
	})
	collector.Process(&rtpwire.Packet{Header: rtpwire.Header{SequenceNumber: 1}, Payload: nil})
}
