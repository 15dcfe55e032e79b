package session

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/videograce/confcore/pkg/rtpwire"
	"github.com/videograce/confcore/pkg/transport"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func toneFrame(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 2000
		} else {
			out[i] = -2000
		}
	}
	return out
}

func TestCaptureAudioSessionSendsEncryptedRTP(t *testing.T) {
	sock := &fakeSocket{}
	frames := make(chan struct{})
	mic := func() ([]int16, error) {
		<-frames
		return toneFrame(480), nil
	}

	s := NewCaptureAudioSession(1, 7, transport.Address{Host: "127.0.0.1", Port: 5000}, 48000, 32, 10, 0, testKey(t), sock, mic, testLogger(t))
	require.NoError(t, s.Start())
	defer s.Stop()

	frames <- struct{}{}
	require.Eventually(t, func() bool {
		return len(sock.sentRTP()) > 0
	}, time.Second, 5*time.Millisecond)

	pkt := sock.sentRTP()[0]
	require.Equal(t, rtpwire.PayloadTypeOpus, pkt.Header.PayloadType)
	require.EqualValues(t, 7, pkt.Header.SSRC)
	require.True(t, pkt.Header.Extension)
	require.NotEqual(t, toneFrame(480), pkt.Payload) // encrypted, not plaintext
}

func TestCaptureAudioSessionMuteSuppressesSend(t *testing.T) {
	sock := &fakeSocket{}
	frames := make(chan struct{})
	mic := func() ([]int16, error) {
		<-frames
		return toneFrame(480), nil
	}

	s := NewCaptureAudioSession(1, 7, transport.Address{}, 48000, 32, 10, 0, testKey(t), sock, mic, testLogger(t))
	s.SetMute(true)
	require.NoError(t, s.Start())
	defer s.Stop()

	frames <- struct{}{}
	time.Sleep(30 * time.Millisecond)
	require.Empty(t, sock.sentRTP())
}

func TestCaptureAudioSessionStartIsIdempotent(t *testing.T) {
	sock := &fakeSocket{}
	mic := func() ([]int16, error) {
		time.Sleep(time.Millisecond)
		return toneFrame(480), nil
	}

	s := NewCaptureAudioSession(1, 7, transport.Address{}, 48000, 32, 10, 0, testKey(t), sock, mic, testLogger(t))
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	s.Stop()
}
