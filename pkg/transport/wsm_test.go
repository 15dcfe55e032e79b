package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/videograce/confcore/pkg/rtpwire"
)

// fakeWSMServer accepts one connection, answers connect_request with a
// successful connect_response, and echoes any media frame's data back
// inside a fresh media envelope so the client sees its own packet come
// back (enough to exercise the JSON wire format without a real relay).
func fakeWSMServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				s := string(data)
				switch {
				case strings.Contains(s, `"connect_request"`):
					resp, _ := json.Marshal(wsmConnectResponseEnvelope{
						ConnectResponse: wsmConnectResponseBody{ConnectionID: 1, Result: 0},
					})
					_ = conn.WriteMessage(websocket.TextMessage, resp)
				case strings.Contains(s, `"media"`):
					_ = conn.WriteMessage(websocket.TextMessage, data)
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestWSMSocketLogonAndMediaRoundTrip(t *testing.T) {
	addr := fakeWSMServer(t)
	s := NewWSMSocket(nil, addr, "token", "10.0.0.1:5000")

	received := make(chan *rtpwire.Packet, 1)
	s.OnRTP = func(pkt *rtpwire.Packet, from *Address) { received <- pkt }

	require.NoError(t, s.Start())
	defer s.Stop()

	require.True(t, s.waitConnected(time.Second))

	pkt := &rtpwire.Packet{Header: rtpwire.Header{SequenceNumber: 5, SSRC: 11}, Payload: []byte("ab")}
	require.NoError(t, s.SendRTP(pkt, nil))

	select {
	case got := <-received:
		require.EqualValues(t, 5, got.Header.SequenceNumber)
		require.Equal(t, uint32(11), got.Header.SSRC)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed media frame")
	}
}

func TestWSMSocketQueuesWhileOffline(t *testing.T) {
	s := NewWSMSocket(nil, "127.0.0.1:0", "token", "")
	pkt := &rtpwire.Packet{Header: rtpwire.Header{SequenceNumber: 1}, Payload: []byte("x")}

	require.NoError(t, s.sendMedia(wsmMediaRTP, 1, pkt.Marshal()))
	require.False(t, s.Connected())
	require.Len(t, s.offlineQueue, 1)
}

func TestWSMSocketDropsUnsupportedRTCP(t *testing.T) {
	s := NewWSMSocket(nil, "127.0.0.1:0", "token", "")
	err := s.SendRTCP(&rtpwire.RTCPPacket{Type: rtpwire.RTCPTypeSR, SR: &rtpwire.SenderReport{SSRC: 1}}, nil)
	require.NoError(t, err)
}
