package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/videograce/confcore/pkg/rtpwire"
)

// WSM media kinds, grounded on original_source/Engine/Proto/CmdMedia.cpp's
// MediaType enum.
const (
	wsmMediaRTP  = 1
	wsmMediaRTCP = 2
)

type wsmMediaBody struct {
	MediaType int    `json:"mt,omitempty"`
	SSRC      uint32 `json:"ssrc,omitempty"`
	Addr      string `json:"a,omitempty"`
	Data      string `json:"d"`
}

type wsmEnvelope struct {
	Media *wsmMediaBody `json:"media,omitempty"`
}

type wsmConnectRequestBody struct {
	Type        int    `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

type wsmConnectRequestEnvelope struct {
	ConnectRequest wsmConnectRequestBody `json:"connect_request"`
}

type wsmConnectResponseBody struct {
	ConnectionID int64 `json:"connection_id"`
	Result       int   `json:"result"`
}

type wsmConnectResponseEnvelope struct {
	ConnectResponse wsmConnectResponseBody `json:"connect_response"`
}

type wsmPingEnvelope struct {
	Ping struct{} `json:"ping"`
}

type wsmDisconnectEnvelope struct {
	Disconnect struct{} `json:"disconnect"`
}

// wsmConnectRequestTypeWSMedia matches Proto::CONNECT_REQUEST::Type::WSMedia.
const wsmConnectRequestTypeWSMedia = 2

// WSMSocket carries RTP/RTCP as base64-encoded JSON frames over one
// WebSocket connection, the carrier used when the network path blocks
// both UDP and raw TCP. Grounded on
// original_source/Engine/Transport/WSM/WSMSocket.cpp.
type WSMSocket struct {
	log         *slog.Logger
	address     string
	accessToken string
	destAddr    string

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	connectionID int64
	offlineQueue [][]byte
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	OnRTP  RTPHandler
	OnRTCP RTCPHandler
}

// SetHandlers installs the receive-side sinks; call before Start.
func (s *WSMSocket) SetHandlers(onRTP RTPHandler, onRTCP RTCPHandler) {
	s.OnRTP = onRTP
	s.OnRTCP = onRTCP
}

// NewWSMSocket constructs a WSM socket that will connect to address
// ("host:port", no scheme) with accessToken, sending destAddr as the
// remote media address tag on every frame.
func NewWSMSocket(log *slog.Logger, address, accessToken, destAddr string) *WSMSocket {
	return &WSMSocket{log: log, address: address, accessToken: accessToken, destAddr: destAddr}
}

// Start dials the WebSocket endpoint and begins the read loop. The
// original deliberately uses http (not https) since the media payload
// it carries is already encrypted end-to-end.
func (s *WSMSocket) Start() error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	url := "ws://" + s.address
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("transport: wsm dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.readLoop(ctx, conn)

	if s.log != nil {
		s.log.Info("wsm socket connected", "address", s.address)
	}
	return s.logon()
}

// Stop sends a disconnect notice and closes the WebSocket connection.
func (s *WSMSocket) Stop() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	cancel := s.cancel
	s.mu.Unlock()

	if conn != nil {
		env := wsmDisconnectEnvelope{}
		if buf, err := json.Marshal(env); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, buf)
		}
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *WSMSocket) logon() error {
	env := wsmConnectRequestEnvelope{ConnectRequest: wsmConnectRequestBody{
		Type:        wsmConnectRequestTypeWSMedia,
		AccessToken: s.accessToken,
	}}
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: wsm socket not started")
	}
	return conn.WriteMessage(websocket.TextMessage, buf)
}

func (s *WSMSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.log != nil {
				s.log.Info("wsm socket closed", "error", err)
			}
			return
		}
		s.handleMessage(data)
	}
}

func (s *WSMSocket) handleMessage(data []byte) {
	lower := strings.ToLower(string(data))

	switch {
	case strings.Contains(lower, `"connect_response"`):
		var env wsmConnectResponseEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return
		}
		s.mu.Lock()
		s.connectionID = env.ConnectResponse.ConnectionID
		if env.ConnectResponse.Result == 0 {
			s.connected = true
			queued := s.offlineQueue
			s.offlineQueue = nil
			conn := s.conn
			s.mu.Unlock()
			for _, msg := range queued {
				if conn != nil {
					_ = conn.WriteMessage(websocket.TextMessage, msg)
				}
			}
		} else {
			s.mu.Unlock()
			if s.log != nil {
				s.log.Error("wsm logon rejected", "result", env.ConnectResponse.Result)
			}
		}

	case strings.Contains(lower, `"ping"`):
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			if buf, err := json.Marshal(wsmPingEnvelope{}); err == nil {
				_ = conn.WriteMessage(websocket.TextMessage, buf)
			}
		}

	case strings.Contains(lower, `"media"`):
		var env wsmEnvelope
		if err := json.Unmarshal(data, &env); err != nil || env.Media == nil {
			return
		}
		raw, err := base64.StdEncoding.DecodeString(env.Media.Data)
		if err != nil {
			return
		}
		from := &Address{}

		switch env.Media.MediaType {
		case wsmMediaRTP:
			var pkt rtpwire.Packet
			if err := pkt.Unmarshal(raw); err == nil && s.OnRTP != nil {
				s.OnRTP(&pkt, from)
			}
		case wsmMediaRTCP:
			var pkt rtpwire.RTCPPacket
			if err := pkt.Unmarshal(raw); err == nil && s.OnRTCP != nil {
				s.OnRTCP(&pkt, from)
			}
		}
	}
}

// SendRTP base64-encodes and sends one RTP packet as a media frame, or
// queues it if the connection isn't up yet, matching the original's
// offlineQueue behavior.
func (s *WSMSocket) SendRTP(pkt *rtpwire.Packet, to *Address) error {
	return s.sendMedia(wsmMediaRTP, pkt.Header.SSRC, pkt.Marshal())
}

// SendRTCP base64-encodes and sends one RTCP packet as a media frame.
// The original only forwards APP packets with length==1 over WSM; every
// other RTCP type is dropped as unsupported (logged, not sent).
func (s *WSMSocket) SendRTCP(pkt *rtpwire.RTCPPacket, to *Address) error {
	if pkt.Type != rtpwire.RTCPTypeAPP || pkt.App == nil {
		if s.log != nil {
			s.log.Debug("wsm socket: unsupported rtcp type dropped", "type", pkt.Type)
		}
		return nil
	}
	buf, err := pkt.Marshal()
	if err != nil {
		return err
	}
	return s.sendMedia(wsmMediaRTCP, pkt.App.SSRC, buf)
}

func (s *WSMSocket) sendMedia(mediaType int, ssrc uint32, payload []byte) error {
	env := wsmEnvelope{Media: &wsmMediaBody{
		MediaType: mediaType,
		SSRC:      ssrc,
		Addr:      s.destAddr,
		Data:      base64.StdEncoding.EncodeToString(payload),
	}}
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.conn == nil {
		s.offlineQueue = append(s.offlineQueue, buf)
		return nil
	}
	return s.conn.WriteMessage(websocket.TextMessage, buf)
}

// Connected reports whether the logon handshake has completed.
func (s *WSMSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// waitConnected blocks until logon completes or the timeout expires,
// a convenience for tests and synchronous callers.
func (s *WSMSocket) waitConnected(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Connected() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.Connected()
}
