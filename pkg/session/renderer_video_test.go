package session

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/videograce/confcore/pkg/crypto"
	"github.com/videograce/confcore/pkg/rtpwire"
	"github.com/videograce/confcore/pkg/transport"
)

func TestRendererVideoSessionRequestsKeyFrameOnStart(t *testing.T) {
	key := testKey(t)
	sock := &fakeSocket{}

	s, err := NewRendererVideoSession(1, 100, 200, transport.Address{}, 5, Resolution{Width: 320, Height: 240}, key, sock, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(sock.sentRTCP()) > 0
	}, time.Second, 5*time.Millisecond)

	app := sock.sentRTCP()[0]
	require.Equal(t, rtpwire.RTCPTypeAPP, app.Type)
	require.Equal(t, rtpwire.AppMessageForceKeyFrame, app.App.MessageType)
}

func TestRendererVideoSessionDropsNonKeyFrameWhileWaiting(t *testing.T) {
	key := testKey(t)
	sock := &fakeSocket{}

	s, err := NewRendererVideoSession(1, 100, 200, transport.Address{}, 5, Resolution{Width: 320, Height: 240}, key, sock, testLogger(t))
	require.NoError(t, err)

	var sunk bool
	s.OnFrame = func(img *image.YCbCr, isKey bool) { sunk = true }

	s.jb.Start()
	// Two packets so the jitter buffer's release threshold is met.
	// Interframe byte: low bit of first byte set to 1 means not a key frame.
	s.jb.Push(&rtpwire.Packet{Header: rtpwire.Header{SequenceNumber: 1}, Payload: []byte{0x01}})
	s.jb.Push(&rtpwire.Packet{Header: rtpwire.Header{SequenceNumber: 2}, Payload: []byte{0x01}})
	s.pullAndDecode()

	require.False(t, sunk)
	require.True(t, s.keyFrameWait)
}

func TestRendererVideoSessionEncodedFrameSinkFiresRegardlessOfDecodeOutcome(t *testing.T) {
	key := testKey(t)
	sock := &fakeSocket{}

	s, err := NewRendererVideoSession(1, 100, 200, transport.Address{}, 5, Resolution{Width: 320, Height: 240}, key, sock, testLogger(t))
	require.NoError(t, err)

	var gotFrames [][]byte
	var gotKeys []bool
	s.OnEncodedFrame = func(frame []byte, isKey bool) {
		gotFrames = append(gotFrames, frame)
		gotKeys = append(gotKeys, isKey)
	}

	s.jb.Start()
	s.jb.Push(&rtpwire.Packet{Header: rtpwire.Header{SequenceNumber: 1}, Payload: []byte{0x01}})
	s.jb.Push(&rtpwire.Packet{Header: rtpwire.Header{SequenceNumber: 2}, Payload: []byte{0x01}})
	s.pullAndDecode()

	require.Len(t, gotFrames, 1)
	require.False(t, gotKeys[0], "low bit set means not a keyframe")
}

func TestRendererVideoSessionKeyFrameThrottlesRepeatedRequests(t *testing.T) {
	key := testKey(t)
	sock := &fakeSocket{}

	s, err := NewRendererVideoSession(1, 100, 200, transport.Address{}, 5, Resolution{Width: 320, Height: 240}, key, sock, testLogger(t))
	require.NoError(t, err)

	s.requestKeyFrame()
	s.requestKeyFrame()
	s.requestKeyFrame()

	require.Len(t, sock.sentRTCP(), 1)
}

func TestRendererVideoSessionOnRTPDecryptsFragmentIntoCollector(t *testing.T) {
	key := testKey(t)
	sock := &fakeSocket{}

	s, err := NewRendererVideoSession(1, 100, 200, transport.Address{}, 5, Resolution{Width: 320, Height: 240}, key, sock, testLogger(t))
	require.NoError(t, err)

	enc, err := crypto.NewEncryptor(key)
	require.NoError(t, err)

	// S-bit set, no X bit, single-fragment frame.
	plainFragment := append([]byte{0x10}, []byte("frame-bytes")...)
	pkt := &rtpwire.Packet{
		Header:  rtpwire.Header{SequenceNumber: 1, ExtensionOrigSeq: 1, ExtensionCRC32: rtpwire.CRC32([]byte("frame-bytes"))},
		Payload: enc.Encrypt(plainFragment),
	}

	require.NotPanics(t, func() { s.onRTP(pkt, &transport.Address{}) })
}

func TestRendererVideoSessionMirror(t *testing.T) {
	key := testKey(t)
	sock := &fakeSocket{}

	s, err := NewRendererVideoSession(1, 100, 200, transport.Address{}, 5, Resolution{Width: 320, Height: 240}, key, sock, testLogger(t))
	require.NoError(t, err)
	require.False(t, s.Mirror())

	s.SetMirror(true)
	require.True(t, s.Mirror())
}
