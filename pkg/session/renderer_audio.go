package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/videograce/confcore/pkg/codec"
	"github.com/videograce/confcore/pkg/crypto"
	"github.com/videograce/confcore/pkg/jitter"
	"github.com/videograce/confcore/pkg/logger"
	"github.com/videograce/confcore/pkg/mixer"
	"github.com/videograce/confcore/pkg/rtpwire"
	"github.com/videograce/confcore/pkg/transport"
)

// audioPullTick is the renderer's decode-pull period, 10ms for sound per
// spec.md §4.5.
const audioPullTick = 10 * time.Millisecond

// RendererAudioSession owns a socket, decryptor, Opus decoder, and
// jitter buffer for one remote participant's audio, feeding decoded PCM
// into the shared mixer as one tagged input. Per spec.md §3's
// RendererAudioSession data model.
type RendererAudioSession struct {
	DeviceID     int64
	ReceiverSSRC uint32
	AuthorSSRC   uint32
	PeerAddr     transport.Address
	Codec        string
	ClientID     int64

	log    *logger.Logger
	socket transport.Socket
	mix    *mixer.Mixer

	mu        sync.Mutex
	volume    int32
	mute      bool
	secureKey string
	lastFrame []int16
	haveLastSeq bool
	lastSeq     uint16

	decryptor *crypto.Decryptor
	decoder   *codec.OpusDecoder
	jb        *jitter.Buffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRendererAudioSession constructs a renderer session for one remote
// author SSRC, sharing the given mixer.
func NewRendererAudioSession(deviceID int64, receiverSSRC, authorSSRC uint32, peerAddr transport.Address, clientID int64, sampleFreq int, secureKey []byte, sock transport.Socket, mix *mixer.Mixer, log *logger.Logger) (*RendererAudioSession, error) {
	decryptor, err := crypto.NewDecryptor(secureKey)
	if err != nil {
		return nil, fmt.Errorf("session: renderer audio %d: %w", deviceID, err)
	}
	decoder, err := codec.NewOpusDecoder(sampleFreq, 1)
	if err != nil {
		return nil, fmt.Errorf("session: renderer audio %d: %w", deviceID, err)
	}

	return &RendererAudioSession{
		DeviceID:     deviceID,
		ReceiverSSRC: receiverSSRC,
		AuthorSSRC:   authorSSRC,
		PeerAddr:     peerAddr,
		Codec:        "Opus",
		ClientID:     clientID,
		log:          log,
		socket:       sock,
		mix:          mix,
		volume:       100,
		secureKey:    string(secureKey),
		decryptor:    decryptor,
		decoder:      decoder,
		jb:           jitter.New(jitter.ModeSound, fmt.Sprintf("audio-%d", authorSSRC)),
	}, nil
}

// Start wires the socket's RTP sink into the jitter buffer, registers
// this session as a mixer input, and begins the decode-pull loop.
func (s *RendererAudioSession) Start() error {
	s.jb.Start()
	s.mix.AddInput(mixer.Input{SSRC: s.AuthorSSRC, ClientID: s.ClientID, PCM: s.pullPCM, Volume: s.Volume()})

	s.socket.SetHandlers(s.OnRTP, nil)
	if err := s.socket.Start(); err != nil {
		return fmt.Errorf("session: renderer audio %d: start socket: %w", s.DeviceID, err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.decodeLoop()
	return nil
}

// Stop removes this session's mixer input and halts the decode loop.
func (s *RendererAudioSession) Stop() {
	s.mix.DeleteInput(s.AuthorSSRC)
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
	s.jb.Stop()
	s.socket.Stop()
}

// OnRTP is installed as the socket's RTP handler: it decrypts the
// payload in place and pushes the packet onto the jitter buffer.
func (s *RendererAudioSession) OnRTP(pkt *rtpwire.Packet, from *transport.Address) {
	plain, err := s.decryptor.Decrypt(pkt.Payload)
	if err != nil {
		s.log.Debug("audio decrypt failed, dropping packet", "device_id", s.DeviceID, "error", err)
		return
	}
	pkt.Payload = plain
	s.jb.Push(pkt)
}

func (s *RendererAudioSession) decodeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(audioPullTick)
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

func (s *RendererAudioSession) pullAndDecode() {
	pkt := s.jb.Pull()
	if pkt == nil {
		return
	}

	seq := pkt.Header.SequenceNumber
	s.mu.Lock()
	haveLastSeq, lastSeq := s.haveLastSeq, s.lastSeq
	s.mu.Unlock()

	if haveLastSeq {
		for missing := lastSeq + 1; missing != seq; missing++ {
			if _, err := s.decoder.ConcealLoss(); err != nil {
				s.log.Debug("opus PLC failed", "device_id", s.DeviceID, "error", err)
			}
		}
	}

	pcm, err := s.decoder.Decode(pkt.Payload)
	s.mu.Lock()
	s.lastSeq = seq
	s.haveLastSeq = true
	if err == nil {
		s.lastFrame = pcm
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Debug("opus decode failed", "device_id", s.DeviceID, "error", err)
	}
}

// pullPCM is the mixer's PCM callback for this input: it returns and
// clears the most recently decoded frame, so a mixer tick that runs
// before the next decode sees nothing rather than a stale repeat.
func (s *RendererAudioSession) pullPCM(n int) []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mute {
		s.lastFrame = nil
		return nil
	}
	frame := s.lastFrame
	s.lastFrame = nil
	return frame
}

// SetVolume updates this participant's mixer gain (0..100).
func (s *RendererAudioSession) SetVolume(volume int32) {
	s.mu.Lock()
	s.volume = volume
	s.mu.Unlock()
	s.mix.SetInputVolume(s.AuthorSSRC, volume)
}

// Volume reports the current mixer gain setting.
func (s *RendererAudioSession) Volume() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetMute silences this participant without removing its mixer input.
func (s *RendererAudioSession) SetMute(mute bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mute = mute
}
