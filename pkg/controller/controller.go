// Package controller implements the Session Controller: the signalling
// state machine that logs in, joins/leaves conferences, and brings up
// capture/renderer sessions for every peer device the server connects,
// per spec.md §4.8. Grounded on pkg/nest/multi_manager.go's
// state-enum-with-String()-and-mutex-guarded-mutation-closure shape for
// the state machine, and on pkg/transport/wsm.go's gorilla/websocket
// dial-and-read-loop idiom for the signalling connection itself (a
// second, independent WebSocket from the one pkg/transport/wsm.go opens
// for media, since this protocol keeps signalling and WSM-tunneled
// media on separate sockets).
package controller

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/videograce/confcore/pkg/logger"
	"github.com/videograce/confcore/pkg/transport"
)

// State is the controller's top-level lifecycle state, per spec.md
// §4.8's state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthNeeded
	StateOnline
	StateConferencing
	StateServerChangedRedirect
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthNeeded:
		return "auth_needed"
	case StateOnline:
		return "online"
	case StateConferencing:
		return "conferencing"
	case StateServerChangedRedirect:
		return "server_changed_redirect"
	default:
		return "unknown"
	}
}

// AuthNeededReason classifies why the controller fell back to
// AuthNeeded, per spec.md §7's Auth error category.
type AuthNeededReason int

const (
	AuthReasonNoURL AuthNeededReason = iota
	AuthReasonBadCredentials
	AuthReasonNoCredentials
)

// Device type tags used on device_params/device_connect, matching the
// original's CaptureDeviceType enum members this core cares about.
const (
	DeviceTypeMicrophone    = "microphone"
	DeviceTypeCamera        = "camera"
	DeviceTypeDemonstration = "demonstration"
)

// deviceKey identifies one active capture or renderer session, matching
// spec.md §2's "sessions keyed by (device-id, peer-id)".
type deviceKey struct {
	DeviceID int64
	ClientID int64
}

// Session is the minimal shape every capture/renderer session in
// pkg/session satisfies, enough for the controller to own and tear down
// sessions without depending on their concrete audio/video type.
type Session interface {
	Stop()
}

// SessionFactory builds the concrete capture/renderer sessions a
// device_connect/device_params exchange calls for. The controller stays
// decoupled from platform capture devices and transport carrier choice
// (both out of scope per spec.md §1's Non-goals) by taking these as
// caller-supplied constructors instead of building sessions itself.
type SessionFactory interface {
	NewCaptureAudio(deviceID int64, ssrc uint32, peerAddr transport.Address, secureKey []byte) (Session, error)
	NewCaptureVideo(deviceID int64, ssrc uint32, peerAddr transport.Address, secureKey []byte) (Session, error)
	NewRendererAudio(deviceID, receiverSSRC, authorSSRC int64, peerAddr transport.Address, clientID int64, secureKey []byte) (Session, error)
	NewRendererVideo(deviceID, receiverSSRC, authorSSRC int64, peerAddr transport.Address, clientID int64, secureKey []byte) (Session, error)
}

// Config carries the client identity sent on connect_request.
type Config struct {
	ClientVersion string
	System        string
}

// Controller is the signalling state machine. Not safe for use before
// New; safe for concurrent use once constructed.
type Controller struct {
	cfg     Config
	log     *logger.Logger
	factory SessionFactory

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	address      string
	secure       bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	queue        *sendQueue
	lastLogin    string
	lastPassword string

	id            int64
	connectionID  int64
	name          string
	serverVersion string
	secureKey     []byte
	grants        int64
	maxOutBitrate int

	conference *Conference
	members    map[int64]*Member
	sessions   map[deviceKey]Session

	pendingJoin chan *connectToConferenceResponseBody

	// OnStateChange is invoked on every state transition.
	OnStateChange func(from, to State)
	// OnAuthNeeded is invoked when connect_response signals a non-OK
	// result, per spec.md §7's Auth error category.
	OnAuthNeeded func(reason AuthNeededReason)
	// OnMemberChange is invoked whenever change_member_state mutates the
	// member map. contacts_update is not applied to the member map; it
	// reaches OnUnhandledCommand.
	OnMemberChange func(m *Member)
	// OnChangeServer is invoked on a change_server push; the caller
	// decides whether/how to reconnect to the new address.
	OnChangeServer func(address string, secure bool)
	// OnUnhandledCommand receives every recognized-but-unactioned
	// command, per SPEC_FULL.md §5's supplemented command catalogue.
	OnUnhandledCommand func(name string, raw json.RawMessage)
}

// New constructs an idle Controller.
func New(cfg Config, factory SessionFactory, log *logger.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		log:      log,
		factory:  factory,
		state:    StateDisconnected,
		members:  make(map[int64]*Member),
		sessions: make(map[deviceKey]Session),
	}
}

func (c *Controller) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from == to {
		return
	}
	c.log.DebugControllerState(from.String(), to.String())
	if c.OnStateChange != nil {
		c.OnStateChange(from, to)
	}
}

// State reports the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SecureKey reports the cached per-conference AES key from the last
// successful connect_response, nil if none.
func (c *Controller) SecureKey() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secureKey
}

// Connect dials the signalling WebSocket at address ("host:port") and
// sends connect_request with login/password. The result arrives
// asynchronously as a state transition to Online or AuthNeeded.
func (c *Controller) Connect(address string, secure bool, login, password string) error {
	c.setState(StateConnecting)

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
		c.setState(StateDisconnected)
		return fmt.Errorf("controller: dial: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.address = address
	c.secure = secure
	c.cancel = cancel
	c.lastLogin = login
	c.lastPassword = password
	c.pendingJoin = nil
	c.mu.Unlock()

	c.queue = newSendQueue(c.writeRaw, 20, c.log)
	c.queue.start()

	c.wg.Add(1)
	go c.readLoop(ctx, conn)

	return c.sendConnectRequest(login, password)
}

// Disconnect closes the signalling connection and tears down every
// active session, returning the controller to Disconnected.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.mu.Unlock()

	if c.queue != nil {
		c.queue.stop()
	}
	if conn != nil {
		_ = conn.WriteMessage(websocket.TextMessage, mustEnvelope(cmdDisconnect, struct{}{}))
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.teardownAllSessions()
	c.setState(StateDisconnected)
}

func mustEnvelope(name string, body any) []byte {
	buf, err := buildEnvelope(name, body)
	if err != nil {
		return nil
	}
	return buf
}

func (c *Controller) writeRaw(payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("controller: not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Controller) send(priority sendPriority, name string, body any) error {
	buf, err := buildEnvelope(name, body)
	if err != nil {
		return fmt.Errorf("controller: marshal %s: %w", name, err)
	}
	c.queue.enqueue(priority, buf)
	return nil
}

func (c *Controller) sendConnectRequest(login, password string) error {
	return c.send(priorityControl, cmdConnectRequest, connectRequestBody{
		Type:          0,
		ClientVersion: c.cfg.ClientVersion,
		System:        c.cfg.System,
		Login:         login,
		Password:      password,
	})
}

// JoinConference sends connect_to_conference_request and blocks for the
// server's response, matching spec.md §4.8's client-initiated join flow.
func (c *Controller) JoinConference(ctx context.Context, tag string, hasCamera, hasMicrophone, hasDemonstration bool) (*Conference, error) {
	if c.State() != StateOnline {
		return nil, fmt.Errorf("controller: join conference requires Online state, have %s", c.State())
	}

	pending := make(chan *connectToConferenceResponseBody, 1)
	c.mu.Lock()
	c.pendingJoin = pending
	c.mu.Unlock()

	if err := c.send(prioritySession, cmdConnectToConferenceRequest, connectToConferenceRequestBody{
		Tag:              tag,
		HasCamera:        hasCamera,
		HasMicrophone:    hasMicrophone,
		HasDemonstration: hasDemonstration,
	}); err != nil {
		return nil, err
	}

	select {
	case resp := <-pending:
		if resp.Result != 0 {
			return nil, fmt.Errorf("controller: join conference rejected, result=%d", resp.Result)
		}
		conf := &Conference{ID: resp.ID, Tag: resp.Tag, Name: resp.Name, FounderID: resp.FounderID, Grants: resp.Grants, Temp: resp.Temp}
		c.mu.Lock()
		c.conference = conf
		c.mu.Unlock()
		c.setState(StateConferencing)
		return conf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishDevice announces one local capturer via device_params, the
// first half of spec.md §4.8's conference-join capturer bring-up; the
// matching capture session is created once the server's device_connect
// echoes back its allocated SSRC/address.
func (c *Controller) PublishDevice(id int64, ssrc uint32, deviceType, name, resolution, colorSpace string) error {
	return c.send(prioritySession, cmdDeviceParams, deviceParamsBody{
		ID: id, SSRC: ssrc, DeviceType: deviceType, Name: name,
		Resolution: resolution, ColorSpace: colorSpace,
	})
}

// LeaveConference reverses JoinConference: stops every session, sends
// disconnect_from_conference, and returns to Online.
func (c *Controller) LeaveConference() error {
	c.teardownAllSessions()
	c.mu.Lock()
	c.conference = nil
	c.mu.Unlock()
	if err := c.send(prioritySession, cmdDisconnectFromConference, struct{}{}); err != nil {
		return err
	}
	c.setState(StateOnline)
	return nil
}

func (c *Controller) teardownAllSessions() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[deviceKey]Session)
	c.mu.Unlock()
	for _, s := range sessions {
		s.Stop()
	}
}

func (c *Controller) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
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
			c.log.Warn("signalling connection closed", "error", err)
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one received signalling frame by its single top-level
// key, per spec.md §4.8's envelope shape.
func (c *Controller) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Debug("malformed signalling frame", "error", err)
		return
	}
	for name, raw := range env {
		c.dispatchOne(name, raw)
		return // exactly one key per envelope
	}
}

func (c *Controller) dispatchOne(name string, raw json.RawMessage) {
	switch name {
	case cmdConnectResponse:
		c.handleConnectResponse(raw)
	case cmdPing:
		_ = c.send(priorityControl, cmdPing, struct{}{})
	case cmdChangeServer:
		c.handleChangeServer(raw)
	case cmdConnectToConferenceResponse:
		c.handleConnectToConferenceResponse(raw)
	case cmdDeviceConnect:
		c.handleDeviceConnect(raw)
	case cmdChangeMemberState:
		c.handleChangeMemberState(raw)
	case cmdDisconnect:
		c.Disconnect()
	default:
		if !knownCommands[name] {
			c.log.Debug("unrecognized signalling command", "name", name)
			return
		}
		if c.OnUnhandledCommand != nil {
			c.OnUnhandledCommand(name, raw)
		}
	}
}

func (c *Controller) handleConnectResponse(raw json.RawMessage) {
	var body connectResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		c.log.Warn("malformed connect_response", "error", err)
		return
	}

	if body.Result != 0 {
		c.setState(StateAuthNeeded)
		reason := AuthReasonBadCredentials
		switch ConnectResult(body.Result) {
		case ConnectNoURL:
			reason = AuthReasonNoURL
		case ConnectBadCredentials:
			reason = AuthReasonBadCredentials
		}
		if c.OnAuthNeeded != nil {
			c.OnAuthNeeded(reason)
		}
		return
	}

	key, _ := base64.StdEncoding.DecodeString(body.SecureKey)

	c.mu.Lock()
	c.id = body.ID
	c.connectionID = body.ConnectionID
	c.name = body.Name
	c.serverVersion = body.ServerVersion
	c.secureKey = key
	c.grants = body.Grants
	c.maxOutBitrate = body.MaxOutputBitrate
	c.mu.Unlock()

	c.setState(StateOnline)
}

func (c *Controller) handleChangeServer(raw json.RawMessage) {
	var body changeServerBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return
	}
	c.setState(StateServerChangedRedirect)
	if c.OnChangeServer != nil {
		c.OnChangeServer(body.Address, body.Secure)
	}
}

func (c *Controller) handleConnectToConferenceResponse(raw json.RawMessage) {
	var body connectToConferenceResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return
	}
	c.mu.Lock()
	pending := c.pendingJoin
	c.pendingJoin = nil
	c.mu.Unlock()
	if pending != nil {
		pending <- &body
	}
}

func (c *Controller) handleChangeMemberState(raw json.RawMessage) {
	var body changeMemberStateBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return
	}
	c.mu.Lock()
	c.members[body.Member.ID] = &body.Member
	c.mu.Unlock()
	if c.OnMemberChange != nil {
		c.OnMemberChange(&body.Member)
	}
}

// handleDeviceConnect brings up (or tears down) one peer's media
// session per spec.md §4.8's device_connect, the per-peer session
// bring-up command. My distinguishes a local capturer's own negotiated
// session (address/ssrc assigned by the server for something this
// client publishes) from a remote device this client must render.
func (c *Controller) handleDeviceConnect(raw json.RawMessage) {
	var body deviceConnectBody
	if err := json.Unmarshal(raw, &body); err != nil {
		c.log.Warn("malformed device_connect", "error", err)
		return
	}

	key := deviceKey{DeviceID: body.DeviceID, ClientID: body.ClientID}

	if body.ConnectType == deviceConnectTypeDisconnect {
		c.mu.Lock()
		sess, ok := c.sessions[key]
		delete(c.sessions, key)
		c.mu.Unlock()
		if ok {
			sess.Stop()
		}
		return
	}

	host, portStr, err := net.SplitHostPort(body.Address)
	if err != nil {
		// address may already be bare host with Port carried separately.
		host = body.Address
		portStr = strconv.Itoa(int(body.Port))
	}
	port, _ := strconv.Atoi(portStr)
	addr := transport.Address{Host: host, Port: uint16(port)}

	secureKey := c.SecureKey()
	if body.SecureKey != "" {
		if decoded, err := base64.StdEncoding.DecodeString(body.SecureKey); err == nil {
			secureKey = decoded
		}
	}

	sess, err := c.buildSession(body, addr, secureKey)
	if err != nil {
		c.log.Warn("session bring-up failed", "device_id", body.DeviceID, "device_type", body.DeviceType, "error", err)
		return
	}
	if sess == nil {
		return
	}

	c.mu.Lock()
	c.sessions[key] = sess
	c.mu.Unlock()
}

func (c *Controller) buildSession(body deviceConnectBody, addr transport.Address, secureKey []byte) (Session, error) {
	if bool(body.My) {
		switch body.DeviceType {
		case DeviceTypeMicrophone:
			return c.factory.NewCaptureAudio(body.DeviceID, body.AuthorSSRC, addr, secureKey)
		case DeviceTypeCamera, DeviceTypeDemonstration:
			return c.factory.NewCaptureVideo(body.DeviceID, body.AuthorSSRC, addr, secureKey)
		default:
			return nil, fmt.Errorf("unknown device type %q", body.DeviceType)
		}
	}
	switch body.DeviceType {
	case DeviceTypeMicrophone:
		return c.factory.NewRendererAudio(body.DeviceID, int64(body.ReceiverSSRC), int64(body.AuthorSSRC), addr, body.ClientID, secureKey)
	case DeviceTypeCamera, DeviceTypeDemonstration:
		return c.factory.NewRendererVideo(body.DeviceID, int64(body.ReceiverSSRC), int64(body.AuthorSSRC), addr, body.ClientID, secureKey)
	default:
		return nil, fmt.Errorf("unknown device type %q", body.DeviceType)
	}
}

// Members returns a snapshot of the current member map.
func (c *Controller) Members() []*Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

// ReportMicrophoneActive sends a microphone_active VAD transition.
func (c *Controller) ReportMicrophoneActive(active bool) error {
	return c.send(priorityControl, cmdMicrophoneActive, microphoneActiveBody{Active: active})
}
