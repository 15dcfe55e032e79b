package rtpwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRTCPRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  RTCPPacket
	}{
		{
			name: "sender report",
			pkt: RTCPPacket{
				Type: RTCPTypeSR,
				SR: &SenderReport{
					SSRC:         1,
					NTPSeconds:   2,
					NTPFraction:  3,
					RTPTimestamp: 4,
					PacketCount:  5,
					OctetCount:   6,
				},
			},
		},
		{
			name: "receiver report",
			pkt: RTCPPacket{
				Type: RTCPTypeRR,
				RR:   &ReceiverReport{SSRC: 0x1234},
			},
		},
		{
			name: "app message",
			pkt: RTCPPacket{
				Type: RTCPTypeAPP,
				App: &AppPacket{
					MessageType: AppMessageForceKeyFrame,
					SSRC:        0xaabb,
					Payload:     [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := tt.pkt.Marshal()
			require.NoError(t, err)

			var out RTCPPacket
			require.NoError(t, out.Unmarshal(buf))
			require.Equal(t, tt.pkt.Type, out.Type)

			switch tt.pkt.Type {
			case RTCPTypeSR:
				require.Equal(t, tt.pkt.SR, out.SR)
			case RTCPTypeRR:
				require.Equal(t, tt.pkt.RR, out.RR)
			case RTCPTypeAPP:
				require.Equal(t, tt.pkt.App, out.App)
			}
		})
	}
}

func TestRTCPLengthClamp(t *testing.T) {
	pkt := RTCPPacket{Type: RTCPTypeRR, RR: &ReceiverReport{SSRC: 1}}
	buf, err := pkt.Marshal()
	require.NoError(t, err)

	// A hostile peer claims length=5 blocks; only one RR block (4 bytes)
	// actually follows. The decoder must clamp to 1 and not read past buf.
	buf[2] = 0
	buf[3] = 5

	var out RTCPPacket
	require.NoError(t, out.Unmarshal(buf))
	require.Equal(t, &ReceiverReport{SSRC: 1}, out.RR)
}

func TestRTCPUnmarshalRejectsShortBuffer(t *testing.T) {
	var p RTCPPacket
	require.Error(t, p.Unmarshal([]byte{0x80}))
}

func TestRTCPUnmarshalRejectsBodyOverrun(t *testing.T) {
	buf := []byte{0x80, RTCPTypeSR, 0x00, 0x01} // header claims an SR block that isn't there
	var p RTCPPacket
	require.Error(t, p.Unmarshal(buf))
}
