package nettest

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// knownBlobID is the fixed identifier spec.md §4.10 names for the
// WebSocket speed test's request blob.
const knownBlobID = "00000000-0000-0000-0000-000000000001"

const (
	cmdSpeedTestRequest  = "speed_test_request"
	cmdSpeedTestResponse = "speed_test_response"
)

type speedTestRequestBody struct {
	ID string `json:"id"`
}

type speedTestResponseBody struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

type speedEnvelope map[string]json.RawMessage

// SpeedProbe measures signalling-link throughput by requesting a known
// blob over its own dedicated WebSocket connection and timing delivery,
// per spec.md §4.10.
type SpeedProbe struct {
	log  *slog.Logger
	addr string
	conn *websocket.Conn
}

// NewSpeedProbe constructs a probe that will dial address ("host:port").
func NewSpeedProbe(log *slog.Logger, address string, secure bool) (*SpeedProbe, error) {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: address, Path: "/"}

	dialer := websocket.DefaultDialer
	if secure {
		dialer = &websocket.Dialer{TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}}
	}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("nettest: speed probe dial: %w", err)
	}
	return &SpeedProbe{log: log, addr: address, conn: conn}, nil
}

// Close releases the probe's WebSocket connection.
func (p *SpeedProbe) Close() error {
	return p.conn.Close()
}

// Run requests the known blob iterations times, reporting kbps per
// iteration via onProgress, and returns the average across all
// iterations.
func (p *SpeedProbe) Run(iterations int, onProgress func(iteration int, kbps float64)) (float64, error) {
	if iterations <= 0 {
		return 0, fmt.Errorf("nettest: iterations must be positive")
	}

	var total float64
	for i := 0; i < iterations; i++ {
		kbps, err := p.runOnce()
		if err != nil {
			return 0, fmt.Errorf("nettest: speed test iteration %d: %w", i, err)
		}
		total += kbps
		if onProgress != nil {
			onProgress(i, kbps)
		}
	}
	return total / float64(iterations), nil
}

func (p *SpeedProbe) runOnce() (float64, error) {
	req, err := json.Marshal(speedEnvelope{cmdSpeedTestRequest: mustMarshal(speedTestRequestBody{ID: knownBlobID})})
	if err != nil {
		return 0, err
	}

	start := time.Now()
	if err := p.conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return 0, fmt.Errorf("request: %w", err)
	}

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return 0, fmt.Errorf("response: %w", err)
		}
		var env speedEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		raw, ok := env[cmdSpeedTestResponse]
		if !ok {
			continue
		}
		var resp speedTestResponseBody
		if err := json.Unmarshal(raw, &resp); err != nil {
			return 0, err
		}
		elapsed := time.Since(start)
		bits := float64(len(resp.Data)) * 8
		if elapsed <= 0 {
			return 0, fmt.Errorf("nettest: non-positive elapsed time")
		}
		return bits / 1000 / elapsed.Seconds(), nil
	}
}

func mustMarshal(v any) json.RawMessage {
	buf, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return buf
}
