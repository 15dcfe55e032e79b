package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/videograce/confcore/pkg/aec"
	"github.com/videograce/confcore/pkg/codec"
	"github.com/videograce/confcore/pkg/crypto"
	"github.com/videograce/confcore/pkg/logger"
	"github.com/videograce/confcore/pkg/rtpwire"
	"github.com/videograce/confcore/pkg/transport"
)

// MicrophoneSource supplies one AEC frame's worth (aec.FrameSamples, 40ms
// at 48kHz) of mono PCM16 samples per call; it is expected to block
// until that much audio is available, mirroring the original's
// dedicated real-time capture thread.
type MicrophoneSource func() ([]int16, error)

// CaptureAudioSession owns one microphone capturer, its AEC/NS/AGC front
// end, Opus encoder, encryptor, and socket, per spec.md §3's
// CaptureAudioSession data model.
type CaptureAudioSession struct {
	DeviceID   int64
	SSRC       uint32
	PeerAddr   transport.Address
	SampleFreq int
	EncoderType string

	log     *logger.Logger
	capture MicrophoneSource
	socket  transport.Socket

	mu        sync.Mutex
	bitrate   int
	quality   int
	lossPct   int
	gain      int32
	mute      bool
	aecOn     bool
	nsOn      bool
	agcOn     bool
	secureKey string

	aec       *aec.AEC
	encoder   *codec.OpusEncoder
	encryptor *crypto.Encryptor

	seq       uint16
	timestamp uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	running atomic.Bool

	framesSent atomic.Uint64
	bytesSent  atomic.Uint64

	// OnError is invoked from the capture goroutine on an unrecoverable
	// encoder/encryptor setup failure, matching the original's
	// device-notify-then-stop resource-error policy.
	OnError func(err error)
}

// NewCaptureAudioSession constructs a capture session bound to a single
// microphone source and outbound socket. secureKey must be 32 raw bytes
// (the session's AES-256 key, as delivered in connect_response).
func NewCaptureAudioSession(deviceID int64, ssrc uint32, peerAddr transport.Address, sampleFreq, bitrateKbps, quality, packetLossPercent int, secureKey []byte, sock transport.Socket, capture MicrophoneSource, log *logger.Logger) *CaptureAudioSession {
	return &CaptureAudioSession{
		DeviceID:    deviceID,
		SSRC:        ssrc,
		PeerAddr:    peerAddr,
		SampleFreq:  sampleFreq,
		EncoderType: "opus",
		log:         log,
		capture:     capture,
		socket:      sock,
		bitrate:     bitrateKbps,
		quality:     quality,
		lossPct:     packetLossPercent,
		gain:        100,
		aecOn:       true,
		nsOn:        true,
		agcOn:       true,
		secureKey:   string(secureKey),
	}
}

// Start brings up the encoder/encryptor/AEC stack and begins the capture
// loop. Calling Start twice is a no-op.
func (s *CaptureAudioSession) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	bitrate, quality, lossPct := s.bitrate, s.quality, s.lossPct
	secureKey := []byte(s.secureKey)
	s.mu.Unlock()

	enc, err := codec.NewOpusEncoder(s.SampleFreq, bitrate, quality, lossPct)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("session: capture audio %d: %w", s.DeviceID, err)
	}
	encryptor, err := crypto.NewEncryptor(secureKey)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("session: capture audio %d: %w", s.DeviceID, err)
	}

	s.encoder = enc
	s.encryptor = encryptor
	s.aec = aec.New()
	s.aec.Start()

	if err := s.socket.Start(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("session: capture audio %d: start socket: %w", s.DeviceID, err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.captureLoop()
	return nil
}

// Stop halts the capture loop and releases the encoder/AEC state.
func (s *CaptureAudioSession) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.socket.Stop()
	s.aec.Stop()
}

func (s *CaptureAudioSession) captureLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		pcm, err := s.capture()
		if err != nil {
			s.log.Warn("microphone capture failed", "device_id", s.DeviceID, "error", err)
			if s.OnError != nil {
				s.OnError(fmt.Errorf("session: capture audio %d: %w", s.DeviceID, err))
			}
			return
		}

		s.mu.Lock()
		muted := s.mute
		s.mu.Unlock()
		if muted {
			continue
		}

		processed := s.aec.ProcessMicrophone(pcm)
		if err := s.encodeAndSend(processed); err != nil {
			s.log.Warn("audio encode/send failed", "device_id", s.DeviceID, "error", err)
		}
	}
}

func (s *CaptureAudioSession) encodeAndSend(pcm []int16) error {
	encoded, err := s.encoder.Encode(pcm)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}
	if encoded == nil {
		return nil // silence suppression: nothing to send this frame
	}

	s.seq++
	s.timestamp += uint32(len(pcm))

	pkt := &rtpwire.Packet{
		Header: rtpwire.Header{
			PayloadType:    rtpwire.PayloadTypeOpus,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.SSRC,
			Extension:      true,
			ExtensionWords: 1,
			ExtensionCRC32: rtpwire.CRC32(encoded),
		},
		Payload: s.encryptor.Encrypt(encoded),
	}

	if err := s.socket.SendRTP(pkt, &s.PeerAddr); err != nil {
		return fmt.Errorf("send RTP: %w", err)
	}
	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(len(pkt.Payload)))
	return nil
}

// SetBitrate adjusts the Opus target bitrate live.
func (s *CaptureAudioSession) SetBitrate(kbps int) error {
	s.mu.Lock()
	s.bitrate = kbps
	enc := s.encoder
	s.mu.Unlock()
	if enc == nil {
		return nil
	}
	return enc.SetBitrate(kbps)
}

// SetQuality adjusts the Opus encoder complexity (0..10) live.
func (s *CaptureAudioSession) SetQuality(quality int) error {
	s.mu.Lock()
	s.quality = quality
	enc := s.encoder
	s.mu.Unlock()
	if enc == nil {
		return nil
	}
	return enc.SetComplexity(quality)
}

// SetPacketLossPercent feeds observed network loss back into the Opus
// encoder's in-band FEC redundancy.
func (s *CaptureAudioSession) SetPacketLossPercent(pct int) error {
	s.mu.Lock()
	s.lossPct = pct
	enc := s.encoder
	s.mu.Unlock()
	if enc == nil {
		return nil
	}
	return enc.SetPacketLossPerc(pct)
}

// SetGain sets the microphone gain (0..100), applied by the capturer
// itself; the session only records it for reporting.
func (s *CaptureAudioSession) SetGain(gain int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = gain
}

// SetMute toggles whether captured audio is encoded and sent at all.
func (s *CaptureAudioSession) SetMute(mute bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mute = mute
}

// EnableAEC, EnableNS, and EnableAGC toggle the corresponding AEC
// subsystem stage live.
func (s *CaptureAudioSession) EnableAEC(on bool) {
	s.mu.Lock()
	s.aecOn = on
	s.mu.Unlock()
	s.aec.EnableAEC(on)
}

func (s *CaptureAudioSession) EnableNS(on bool) {
	s.mu.Lock()
	s.nsOn = on
	s.mu.Unlock()
	s.aec.EnableNS(on)
}

func (s *CaptureAudioSession) EnableAGC(on bool) {
	s.mu.Lock()
	s.agcOn = on
	s.mu.Unlock()
	s.aec.EnableAGC(on)
}

// Stats reports cumulative frame/byte counters for diagnostics.
func (s *CaptureAudioSession) Stats() (frames, bytes uint64) {
	return s.framesSent.Load(), s.bytesSent.Load()
}
