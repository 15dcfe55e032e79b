package session

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/videograce/confcore/pkg/codec"
	"github.com/videograce/confcore/pkg/crypto"
	"github.com/videograce/confcore/pkg/jitter"
	"github.com/videograce/confcore/pkg/logger"
	"github.com/videograce/confcore/pkg/rtpwire"
	"github.com/videograce/confcore/pkg/transport"
	"github.com/videograce/confcore/pkg/vp8split"
)

// videoPullTick is the renderer's decode-pull period for video, 40ms per
// the jitter buffer's default non-sound frame duration.
const videoPullTick = 40 * time.Millisecond

// FrameSink receives one decoded video frame for display.
type FrameSink func(img *image.YCbCr, isKey bool)

// EncodedFrameSink receives one reassembled, still-VP8-encoded frame,
// ahead of decode, for pkg/recorder's write-through gating.
type EncodedFrameSink func(frame []byte, isKey bool)

// RendererVideoSession owns a socket, decryptor, VP8 fragment collector,
// decoder, and jitter buffer for one remote participant's video, per
// spec.md §3's RendererVideoSession data model.
type RendererVideoSession struct {
	DeviceID     int64
	ReceiverSSRC uint32
	AuthorSSRC   uint32
	PeerAddr     transport.Address
	Codec        string
	ClientID     int64

	log    *logger.Logger
	socket transport.Socket

	mu           sync.Mutex
	resolution   Resolution
	mirror       bool
	secureKey    string
	keyFrameWait bool
	throttle     keyframeThrottle

	decryptor *crypto.Decryptor
	collector *vp8split.Collector
	decoder   *codec.VP8Decoder
	jb        *jitter.Buffer

	// OnFrame is invoked from the decode-pull loop for every frame that
	// decodes successfully, feeding the UI.
	OnFrame FrameSink
	// OnEncodedFrame is invoked for every reassembled frame regardless of
	// decode outcome, feeding pkg/recorder its own keyframe-gated stream.
	OnEncodedFrame EncodedFrameSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRendererVideoSession constructs a renderer session for one remote
// author SSRC.
func NewRendererVideoSession(deviceID int64, receiverSSRC, authorSSRC uint32, peerAddr transport.Address, clientID int64, resolution Resolution, secureKey []byte, sock transport.Socket, log *logger.Logger) (*RendererVideoSession, error) {
	decryptor, err := crypto.NewDecryptor(secureKey)
	if err != nil {
		return nil, fmt.Errorf("session: renderer video %d: %w", deviceID, err)
	}
	decoder, err := codec.NewVP8Decoder(resolution.Width, resolution.Height)
	if err != nil {
		return nil, fmt.Errorf("session: renderer video %d: %w", deviceID, err)
	}

	s := &RendererVideoSession{
		DeviceID:     deviceID,
		ReceiverSSRC: receiverSSRC,
		AuthorSSRC:   authorSSRC,
		PeerAddr:     peerAddr,
		Codec:        "VP8",
		ClientID:     clientID,
		log:          log,
		socket:       sock,
		resolution:   resolution,
		secureKey:    string(secureKey),
		decryptor:    decryptor,
		decoder:      decoder,
		jb:           jitter.New(jitter.ModeVideo, fmt.Sprintf("video-%d", authorSSRC)),
		keyFrameWait: true, // no frame decodes until the first keyframe arrives
	}
	s.collector = vp8split.NewCollector(s.onFrame)
	return s, nil
}

// Start wires the socket's RTP sink into the VP8 collector, requests an
// initial keyframe, and begins the decode-pull loop.
func (s *RendererVideoSession) Start() error {
	s.jb.Start()

	s.socket.SetHandlers(s.onRTP, nil)
	if err := s.socket.Start(); err != nil {
		return fmt.Errorf("session: renderer video %d: start socket: %w", s.DeviceID, err)
	}

	s.requestKeyFrame()

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.decodeLoop()
	return nil
}

// Stop halts the decode loop and the underlying socket.
func (s *RendererVideoSession) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
	s.jb.Stop()
	s.socket.Stop()
	if err := s.decoder.Close(); err != nil {
		s.log.Debug("vp8 decoder close failed", "device_id", s.DeviceID, "error", err)
	}
}

// onRTP is installed as the socket's RTP handler: it decrypts the
// fragment's payload in place and feeds it to the VP8 collector, which
// calls back into onFrame once a whole frame has been reassembled.
func (s *RendererVideoSession) onRTP(pkt *rtpwire.Packet, from *transport.Address) {
	plain, err := s.decryptor.Decrypt(pkt.Payload)
	if err != nil {
		s.log.Debug("video decrypt failed, dropping fragment", "device_id", s.DeviceID, "error", err)
		return
	}
	pkt.Payload = plain
	s.collector.Process(pkt)
}

// onFrame is the collector's reassembly callback: one whole (still
// encoded) frame per call, pushed onto the jitter buffer for pacing.
func (s *RendererVideoSession) onFrame(pkt *rtpwire.Packet) {
	s.jb.Push(pkt)
}

func (s *RendererVideoSession) decodeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(videoPullTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pullAndDecode()
		}
	}
}

func (s *RendererVideoSession) pullAndDecode() {
	pkt := s.jb.Pull()
	if pkt == nil {
		return
	}

	isKey := codec.VP8IsKeyFrame(pkt.Payload)

	s.mu.Lock()
	waiting := s.keyFrameWait
	encSink := s.OnEncodedFrame
	s.mu.Unlock()

	if encSink != nil {
		encSink(pkt.Payload, isKey)
	}

	if waiting && !isKey {
		s.requestKeyFrame()
		return
	}

	img, err := s.decoder.Decode(pkt.Payload)
	if err != nil {
		s.log.Debug("vp8 decode failed, requesting keyframe", "device_id", s.DeviceID, "error", err)
		s.mu.Lock()
		s.keyFrameWait = true
		s.mu.Unlock()
		s.requestKeyFrame()
		return
	}
	if img == nil {
		// libvpx consumed the packet but has no frame ready yet; not a
		// decode failure, so the keyframe-wait state is left alone.
		return
	}

	s.mu.Lock()
	s.keyFrameWait = false
	sink := s.OnFrame
	s.mu.Unlock()

	if sink != nil {
		sink(img, isKey)
	}
}

// requestKeyFrame sends a throttled force-keyframe RTCP APP to the
// remote encoder, per spec.md §4.4's no-more-than-once-per-200ms policy.
func (s *RendererVideoSession) requestKeyFrame() {
	if !s.throttle.allow(time.Now()) {
		return
	}
	if err := sendForceKeyframe(s.socket, &s.PeerAddr, s.AuthorSSRC); err != nil {
		s.log.Debug("force keyframe request failed", "device_id", s.DeviceID, "error", err)
	}
}

// Resolution reports the session's current frame size.
func (s *RendererVideoSession) Resolution() Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolution
}

// SetMirror toggles horizontal mirroring, applied by the renderer/UI
// layer rather than this session; it is only recorded here for
// reporting back through device_params.
func (s *RendererVideoSession) SetMirror(mirror bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = mirror
}

// Mirror reports the current mirror setting.
func (s *RendererVideoSession) Mirror() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror
}
