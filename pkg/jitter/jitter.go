// Package jitter implements the Kalman-smoothed jitter buffer that sits
// between a session's transport and its decoder. It tracks inter-arrival
// time with a scalar Kalman filter and releases frames only once enough
// of them are queued to absorb the estimated network jitter. Grounded on
// original_source/Engine/JitterBuffer/JB.cpp.
package jitter

import (
	"sync"
	"time"

	"github.com/videograce/confcore/pkg/rtpwire"
)

// Mode selects the buffer's release policy: Local never withholds a
// frame (used for locally looped-back media), Sound uses a short default
// frame duration, Video a longer one.
type Mode int

const (
	ModeLocal Mode = iota
	ModeSound
	ModeVideo
)

func (m Mode) String() string {
	switch m {
	case ModeLocal:
		return "Local"
	case ModeSound:
		return "Sound"
	case ModeVideo:
		return "Video"
	default:
		return ""
	}
}

// Kalman filter constants, fixed rather than tuned per stream.
const (
	kalmanF = 1.0
	kalmanH = 1.0
	kalmanQ = 2.0
	kalmanR = 2.0
)

// Buffer is a per-stream jitter buffer. Not safe for concurrent Push/Pull
// from multiple goroutines simultaneously, but Push and Pull may each be
// called from their own goroutine (transport vs. decoder) concurrently
// with each other, guarded by an internal mutex.
type Buffer struct {
	mu      sync.Mutex
	queue   []*rtpwire.Packet
	mode    Mode
	name    string
	started bool

	frameDurationMs uint32

	prevRxTSMs  uint32
	rxInterval  uint32
	stateRxTS   float64
	covariance  float64
	checkTimeMs uint32

	havePrevSeq bool
	prevSeq     uint16

	now func() time.Time

	// OnSlowRendering is invoked when the renderer repeatedly fails to
	// keep up, mirroring the original's slowRenderingCallback hook.
	OnSlowRendering func()

	// MaxQueueLen bounds how many packets Push will retain; 0 means
	// unbounded. The original's drain loop for a congested queue is kept
	// commented out (it caused audible skips), so this is the only bound
	// offered: once the queue reaches MaxQueueLen, Push drops the oldest
	// queued packet to make room for the new one rather than growing
	// further or invoking a drain.
	MaxQueueLen int
}

// New constructs a buffer in mode for the named stream (used only for
// logging/debug context).
func New(mode Mode, name string) *Buffer {
	b := &Buffer{mode: mode, name: name, now: time.Now}
	b.reset()
	return b
}

func (b *Buffer) reset() {
	frameDuration := uint32(10)
	if b.mode != ModeSound {
		if frameDuration < 40 {
			frameDuration = 40
		}
	}
	b.frameDurationMs = frameDuration
	b.rxInterval = frameDuration
	b.stateRxTS = float64(frameDuration)
	b.covariance = 0.1
	b.checkTimeMs = 0
	b.prevRxTSMs = uint32(b.now().UnixMilli())
	b.havePrevSeq = false
}

// Start (re)initializes the buffer for a fresh stream, matching the
// original's Start(mode, name) reset of every running estimator.
func (b *Buffer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
	b.started = true
}

// Stop halts frame release; Push and Pull become no-ops until Start is
// called again.
func (b *Buffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = false
}

// SetFrameDuration changes the expected per-frame spacing (ms) and
// restarts the estimator, matching the original's stop-then-start.
func (b *Buffer) SetFrameDuration(ms uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasStarted := b.started
	b.reset()
	b.frameDurationMs = ms
	b.rxInterval = ms
	b.stateRxTS = float64(ms)
	b.started = wasStarted
}

// Push enqueues a received packet and, unless this packet is the first
// since a detected loss, feeds its arrival time into the Kalman filter.
func (b *Buffer) Push(pkt *rtpwire.Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}

	b.queue = append(b.queue, pkt)
	if b.MaxQueueLen > 0 && len(b.queue) > b.MaxQueueLen {
		b.queue = b.queue[len(b.queue)-b.MaxQueueLen:]
		if b.OnSlowRendering != nil {
			go b.OnSlowRendering()
		}
	}

	seq := pkt.Header.SequenceNumber
	if b.havePrevSeq && seq-1 == b.prevSeq {
		b.calcJitter()
	} else {
		b.prevRxTSMs = uint32(b.now().UnixMilli())
	}
	b.prevSeq = seq
	b.havePrevSeq = true
}

func (b *Buffer) calcJitter() {
	current := uint32(b.now().UnixMilli())
	interarrival := current - b.prevRxTSMs
	b.prevRxTSMs = current
	b.rxInterval = b.kalmanCorrect(float64(interarrival))
}

func (b *Buffer) kalmanCorrect(measured float64) uint32 {
	x0 := kalmanF * b.stateRxTS
	p0 := kalmanF*b.covariance*kalmanF + kalmanQ

	k := kalmanH * p0 / (kalmanH*p0*kalmanH + kalmanR)
	b.stateRxTS = x0 + k*(measured-kalmanH*x0)
	b.covariance = (1 - k*kalmanH) * p0

	return uint32(b.stateRxTS)
}

// Pull returns the next packet ready for decode, or nil if the buffer is
// withholding frames to absorb estimated jitter (or is empty). The
// Local mode never withholds.
func (b *Buffer) Pull() *rtpwire.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}

	checkPeriod := b.frameDurationMs * 150
	if b.mode == ModeSound {
		checkPeriod = b.frameDurationMs * 300
	}
	if b.checkTimeMs >= checkPeriod {
		b.checkTimeMs = 0
	}
	b.checkTimeMs += b.frameDurationMs

	if len(b.queue) == 0 {
		return nil
	}

	if b.mode == ModeLocal || b.rxInterval < uint32(len(b.queue))*b.frameDurationMs {
		pkt := b.queue[0]
		b.queue = b.queue[1:]
		return pkt
	}

	return nil
}

// QueueLen reports how many packets are currently buffered, for
// diagnostics and the debug-jitter log category.
func (b *Buffer) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// RxInterval reports the current Kalman-smoothed inter-arrival estimate
// in milliseconds.
func (b *Buffer) RxInterval() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rxInterval
}
