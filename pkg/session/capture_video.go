package session

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/videograce/confcore/pkg/codec"
	"github.com/videograce/confcore/pkg/crypto"
	"github.com/videograce/confcore/pkg/logger"
	"github.com/videograce/confcore/pkg/rtpwire"
	"github.com/videograce/confcore/pkg/transport"
	"github.com/videograce/confcore/pkg/vp8split"
)

// VideoSource supplies one captured frame, already in I420 (4:2:0
// YCbCr) form, blocking until the next frame is due — the capture
// thread's own pacing dictates frame rate, matching the original's
// dedicated real-time capture thread.
type VideoSource func() (*image.YCbCr, error)

// CaptureVideoSession owns one video capturer, its VP8 encoder, RTP
// splitter, encryptor, and socket, per spec.md §3's CaptureVideoSession
// data model.
type CaptureVideoSession struct {
	DeviceID    int64
	SSRC        uint32
	PeerAddr    transport.Address
	Codec       string
	EncoderType string
	RCEnabled   bool

	log     *logger.Logger
	capture VideoSource
	socket  transport.Socket

	mu         sync.Mutex
	resolution Resolution
	frameRate  int
	bitrate    int
	secureKey  string
	state      State

	encoder   *codec.VP8Encoder
	splitter  *vp8split.Splitter
	encryptor *crypto.Encryptor

	frameSeq  uint16
	timestamp uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	framesSent atomic.Uint64
	bytesSent  atomic.Uint64

	// OnError mirrors CaptureAudioSession.OnError.
	OnError func(err error)
}

// NewCaptureVideoSession constructs a capture session bound to a single
// video capturer and outbound socket.
func NewCaptureVideoSession(deviceID int64, ssrc uint32, peerAddr transport.Address, resolution Resolution, frameRate, bitrateKbps int, screenContent bool, secureKey []byte, sock transport.Socket, capture VideoSource, log *logger.Logger) *CaptureVideoSession {
	return &CaptureVideoSession{
		DeviceID:    deviceID,
		SSRC:        ssrc,
		PeerAddr:    peerAddr,
		Codec:       "VP8",
		EncoderType: "vp8",
		RCEnabled:   screenContent,
		log:         log,
		capture:     capture,
		socket:      sock,
		resolution:  resolution,
		frameRate:   frameRate,
		bitrate:     bitrateKbps,
		secureKey:   string(secureKey),
		state:       StateIdle,
	}
}

// Start brings up the encoder/encryptor and begins the capture loop,
// transitioning the session from idle to running.
func (s *CaptureVideoSession) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	res, bitrate, screenContent, secureKey := s.resolution, s.bitrate, s.RCEnabled, []byte(s.secureKey)
	s.mu.Unlock()

	enc, err := codec.NewVP8Encoder(res.Width, res.Height, bitrate, screenContent)
	if err != nil {
		return fmt.Errorf("session: capture video %d: %w", s.DeviceID, err)
	}
	encryptor, err := crypto.NewEncryptor(secureKey)
	if err != nil {
		return fmt.Errorf("session: capture video %d: %w", s.DeviceID, err)
	}
	if err := s.socket.Start(); err != nil {
		return fmt.Errorf("session: capture video %d: start socket: %w", s.DeviceID, err)
	}

	s.mu.Lock()
	s.encoder = enc
	s.encryptor = encryptor
	s.splitter = vp8split.NewSplitter(s.sendFragment)
	s.state = StateRunning
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.captureLoop()
	return nil
}

// Stop halts the capture loop and releases the encoder, transitioning
// to idle.
func (s *CaptureVideoSession) Stop() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.socket.Stop()
	if s.encoder != nil {
		_ = s.encoder.Close()
	}
}

// Pause suspends encoding without releasing the encoder; Resume restarts
// the capture loop from where it left off.
func (s *CaptureVideoSession) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		s.state = StatePaused
	}
}

// Resume reverses Pause.
func (s *CaptureVideoSession) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePaused {
		s.state = StateRunning
	}
}

// State reports the session's current lifecycle state.
func (s *CaptureVideoSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *CaptureVideoSession) captureLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		img, err := s.capture()
		if err != nil {
			s.log.Warn("video capture failed", "device_id", s.DeviceID, "error", err)
			if s.OnError != nil {
				s.OnError(fmt.Errorf("session: capture video %d: %w", s.DeviceID, err))
			}
			return
		}

		s.mu.Lock()
		paused := s.state == StatePaused
		s.mu.Unlock()
		if paused {
			continue
		}

		if err := s.encodeAndSend(img); err != nil {
			s.log.Warn("video encode/send failed", "device_id", s.DeviceID, "error", err)
		}
	}
}

func (s *CaptureVideoSession) encodeAndSend(img *image.YCbCr) error {
	encoded, err := s.encoder.EncodeFrame(img)
	if err != nil {
		return fmt.Errorf("vp8 encode: %w", err)
	}

	s.frameSeq++
	s.mu.Lock()
	s.timestamp += uint32(90000 / max1(s.frameRate))
	frameRateTimestamp := s.timestamp
	s.mu.Unlock()

	frame := &rtpwire.Packet{
		Header: rtpwire.Header{
			PayloadType:    rtpwire.PayloadTypeVP8,
			SequenceNumber: s.frameSeq,
			Timestamp:      frameRateTimestamp,
			SSRC:           s.SSRC,
		},
		Payload: encoded,
	}
	s.splitter.SplitFrame(frame)
	return nil
}

// sendFragment is the VP8 splitter's Send callback: it encrypts each
// fragment's payload and forwards it through the socket.
func (s *CaptureVideoSession) sendFragment(pkt *rtpwire.Packet) {
	pkt.Payload = s.encryptor.Encrypt(pkt.Payload)
	if err := s.socket.SendRTP(pkt, &s.PeerAddr); err != nil {
		s.log.Warn("video fragment send failed", "device_id", s.DeviceID, "error", err)
		return
	}
	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(len(pkt.Payload)))
}

// ForceKeyFrame asks the encoder to emit a keyframe on its next call.
// The session never calls it itself: Start does not force a keyframe,
// and the session installs no RTCP handler, so a peer's force-keyframe
// RTCP APP reaches the encoder only if the caller invokes this method.
func (s *CaptureVideoSession) ForceKeyFrame() {
	s.mu.Lock()
	enc := s.encoder
	s.mu.Unlock()
	if enc == nil {
		return
	}
	if err := enc.ForceKeyFrame(); err != nil {
		s.log.Warn("force key frame failed", "device_id", s.DeviceID, "error", err)
	}
}

// SetBitrate adjusts the target bitrate in kbps, rebuilding the encoder
// if the underlying binding needs it.
func (s *CaptureVideoSession) SetBitrate(kbps int) {
	s.mu.Lock()
	s.bitrate = kbps
	enc := s.encoder
	s.mu.Unlock()
	if enc == nil {
		return
	}
	if err := enc.SetBitrate(kbps); err != nil {
		s.log.Warn("set bitrate failed", "device_id", s.DeviceID, "kbps", kbps, "error", err)
	}
}

// Resolution reports the session's current frame size.
func (s *CaptureVideoSession) Resolution() Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolution
}

// Stats reports cumulative frame/byte counters for diagnostics.
func (s *CaptureVideoSession) Stats() (frames, bytes uint64) {
	return s.framesSent.Load(), s.bytesSent.Load()
}

func max1(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}
