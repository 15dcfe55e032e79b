// Package recorder writes one conference's mixed audio and
// speaker-tracked video to a single WebM file (VP8 + Opus), or to an
// MP3-only mixed-audio file, per spec.md §4.9. Grounded on
// original_source's Recorder family (speaker_changed re-selection,
// has_key_frame gating, the monotonically-increasing A/V timestamp
// pair) and on a single-writer-lock idiom around long-lived I/O
// resources, the same shape session.go's capture/renderer sessions use
// around their own socket and encoder state.
package recorder

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/videograce/confcore/pkg/codec"
)

// audioFrameMs is the fixed Opus frame duration the recorder assumes
// when advancing the audio timestamp, matching spec.md §4.9's "timestamp
// advances by 10ms per audio frame".
const audioFrameMs = 10

// videoSource is one candidate video track a recording conference can
// select, per spec.md §4.9's add_video.
type videoSource struct {
	ssrc       uint32
	clientID   int64
	priority   int
	resolution string
}

// Recorder is a renderer-side sink: it does not pull media itself, its
// owner feeds it decoded/reassembled frames as they arrive.
type Recorder struct {
	log *slog.Logger

	mu          sync.Mutex
	writer      webmWriter
	mp3Only     bool
	mp3         *mp3Writer
	audioEnc    *codec.OpusEncoder
	sources     []videoSource
	currentSSRC uint32 // 0 selects the fake/black source
	hasKeyFrame bool
	videoTSms   int64
	audioTSms   int64
	startedAt   time.Time

	requestKeyFrame func(ssrc uint32)
	fakeFrame       func() []byte
}

// webmWriter is the muxer seam pkg/recorder/webm.go implements over
// github.com/at-wat/ebml-go/webm; kept as an interface so recorder.go's
// selection/gating logic is testable without a real file.
type webmWriter interface {
	WriteVideo(isKeyFrame bool, timestampMs int64, frame []byte) error
	WriteAudio(timestampMs int64, frame []byte) error
	Close() error
}

// Options configures a new Recorder.
type Options struct {
	Log             *slog.Logger
	MP3Only         bool
	AudioSampleFreq int
	// RequestKeyFrame is invoked to ask the current video source's
	// encoder for a fresh keyframe, mirroring the original's
	// force-keyframe-once-per-reselect behavior.
	RequestKeyFrame func(ssrc uint32)
	// FakeFrame supplies the black-frame VP8 payload kept for the fake
	// source (SSRC 0). Defaults to a small embedded placeholder. The
	// recorder stores it but does not write it: ProcessVideoFrame writes
	// no video while SSRC 0 is selected.
	FakeFrame func() []byte
}

// New constructs a Recorder that writes to path. WebM mode opens an
// at-wat/ebml-go muxer with one VP8 and one Opus track; MP3-only mode
// opens an MP3Encoder-backed writer instead.
func New(path string, opts Options) (*Recorder, error) {
	if opts.AudioSampleFreq == 0 {
		opts.AudioSampleFreq = 48000
	}
	enc, err := codec.NewOpusEncoder(opts.AudioSampleFreq, 48, 8, 10)
	if err != nil {
		return nil, fmt.Errorf("recorder: new opus encoder: %w", err)
	}

	r := &Recorder{
		log:             opts.Log,
		mp3Only:         opts.MP3Only,
		audioEnc:        enc,
		requestKeyFrame: opts.RequestKeyFrame,
		fakeFrame:       opts.FakeFrame,
		startedAt:       time.Now(),
	}
	if r.fakeFrame == nil {
		r.fakeFrame = blackFrame
	}

	if opts.MP3Only {
		w, err := newMP3Writer(path)
		if err != nil {
			return nil, err
		}
		r.mp3 = w
		return r, nil
	}

	w, err := newWebmWriter(path, 1280, 720, opts.AudioSampleFreq)
	if err != nil {
		return nil, err
	}
	r.writer = w
	return r, nil
}

// AddVideo registers a candidate video source. It does not change the
// currently-selected track; only SpeakerChanged does that.
func (r *Recorder) AddVideo(ssrc uint32, clientID int64, priority int, resolution string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sources {
		if s.ssrc == ssrc {
			r.sources[i] = videoSource{ssrc, clientID, priority, resolution}
			return
		}
	}
	r.sources = append(r.sources, videoSource{ssrc, clientID, priority, resolution})
}

// SpeakerChanged re-selects the current track to clientID's
// highest-priority video, falling back to the fake source if that
// client has none. Clears has_key_frame and requests a fresh keyframe
// from the newly-selected source, per spec.md §4.9.
func (r *Recorder) SpeakerChanged(clientID int64) {
	r.mu.Lock()
	best := videoSource{}
	found := false
	for _, s := range r.sources {
		if s.clientID != clientID {
			continue
		}
		if !found || s.priority > best.priority {
			best = s
			found = true
		}
	}
	if found {
		r.currentSSRC = best.ssrc
	} else {
		r.currentSSRC = 0
	}
	r.hasKeyFrame = false
	ssrc := r.currentSSRC
	r.mu.Unlock()

	if found && r.requestKeyFrame != nil {
		r.requestKeyFrame(ssrc)
	}
}

// ProcessVideoFrame feeds one reassembled VP8 frame. Frames from any
// SSRC other than the current selection are ignored. Frames are dropped
// until an IDR arrives (a keyframe is requested once per reselect, via
// SpeakerChanged); after that, every frame is appended with the correct
// is_key flag and a monotonically-increasing timestamp.
func (r *Recorder) ProcessVideoFrame(ssrc uint32, frame []byte) error {
	r.mu.Lock()
	if r.mp3Only || ssrc != r.currentSSRC || r.currentSSRC == 0 {
		r.mu.Unlock()
		return nil
	}

	isKey := codec.VP8IsKeyFrame(frame)
	if !r.hasKeyFrame {
		if !isKey {
			r.mu.Unlock()
			return nil
		}
		r.hasKeyFrame = true
	}

	ts := r.videoTSms
	r.videoTSms += 33 // ~30fps spacing between frames arriving from the renderer pull loop
	w := r.writer
	r.mu.Unlock()

	return w.WriteVideo(isKey, ts, frame)
}

// ProcessAudioPCM feeds one mixed PCM frame (from the audio mixer's
// output), encoding it to Opus (WebM mode) or handing it to the MP3
// writer (MP3-only mode), advancing the audio timestamp by 10ms per
// spec.md §4.9.
func (r *Recorder) ProcessAudioPCM(pcm []int16) error {
	r.mu.Lock()
	mp3Only := r.mp3Only
	ts := r.audioTSms
	r.audioTSms += audioFrameMs
	mp3 := r.mp3
	w := r.writer
	enc := r.audioEnc
	r.mu.Unlock()

	if mp3Only {
		return mp3.Write(pcm)
	}

	opusFrame, err := enc.Encode(pcm)
	if err != nil {
		return fmt.Errorf("recorder: encode audio frame: %w", err)
	}
	if opusFrame == nil {
		return nil
	}
	return w.WriteAudio(ts, opusFrame)
}

// currentTrack reports the selection state for tests; unexported since
// it's an implementation detail, not part of the recorder's contract.
func (r *Recorder) currentTrack() (ssrc uint32, hasKeyFrame bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentSSRC, r.hasKeyFrame
}

// Stop finalizes the output (WebM segment or MP3 stream) with the
// accumulated duration.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mp3Only {
		return r.mp3.Close()
	}
	return r.writer.Close()
}

// blackFrame is a minimal placeholder VP8 keyframe payload, the default
// Options.FakeFrame for the fake source (SSRC 0). Its low bit is 0 so
// VP8IsKeyFrame reports it as a keyframe. It is not written to the
// recording: no video is written while the fake source is selected.
func blackFrame() []byte {
	return []byte{0x10, 0x00, 0x00, 0x9d, 0x01, 0x2a}
}
