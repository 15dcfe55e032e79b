package rtpwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMouseActionRoundTrip(t *testing.T) {
	m := MouseAction{Action: RemoteControlLeftDown, X: 1024, Y: 768}
	got := ParseMouseAction(m.MarshalPayload())
	require.Equal(t, m, got)
}

func TestWheelActionRoundTrip(t *testing.T) {
	w := WheelAction{Delta: -120}
	payload := w.MarshalPayload()
	require.Equal(t, RemoteControlWheel, ActionOf(payload))
	require.Equal(t, w, ParseWheelAction(payload))
}

func TestKeyActionRoundTrip(t *testing.T) {
	down := KeyAction{Down: true, Modifier: 0x03, Key: 0x41}
	gotDown := ParseKeyAction(down.MarshalPayload())
	require.Equal(t, down, gotDown)

	up := KeyAction{Down: false, Modifier: 0, Key: 0x41}
	gotUp := ParseKeyAction(up.MarshalPayload())
	require.Equal(t, up, gotUp)
}
