package nettest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeSpeedServer answers every speed_test_request with a fixed-size
// data blob, enough to exercise the kbps derivation without a real
// signalling server.
func fakeSpeedServer(t *testing.T, blobSize int) string {
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
				if !strings.Contains(string(data), cmdSpeedTestRequest) {
					continue
				}
				resp, _ := json.Marshal(speedEnvelope{
					cmdSpeedTestResponse: mustMarshal(speedTestResponseBody{
						ID:   knownBlobID,
						Data: strings.Repeat("x", blobSize),
					}),
				})
				_ = conn.WriteMessage(websocket.TextMessage, resp)
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestSpeedProbeRunAveragesIterations(t *testing.T) {
	addr := fakeSpeedServer(t, 1024)

	p, err := NewSpeedProbe(nil, addr, false)
	require.NoError(t, err)
	defer p.Close()

	var seen []int
	avg, err := p.Run(3, func(iteration int, kbps float64) {
		seen = append(seen, iteration)
		require.Greater(t, kbps, 0.0)
	})
	require.NoError(t, err)
	require.Greater(t, avg, 0.0)
	require.Equal(t, []int{0, 1, 2}, seen)
}

func TestSpeedProbeRejectsNonPositiveIterations(t *testing.T) {
	addr := fakeSpeedServer(t, 64)
	p, err := NewSpeedProbe(nil, addr, false)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Run(0, nil)
	require.Error(t, err)
}
