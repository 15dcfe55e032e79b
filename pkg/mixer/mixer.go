// Package mixer implements the pull-model audio mixer that combines
// every conference participant's decoded PCM into one output stream per
// listener. Grounded on original_source/Engine/Audio/AudioMixer.cpp.
package mixer

import (
	"math"
	"sync"
)

// Input is one participant's audio source: a callback that supplies the
// next frame's worth of mono PCM16 samples, and a volume in 0..100
// (matched against spec.md §6's AudioRenderer/Volume range).
type Input struct {
	SSRC     uint32
	ClientID int64
	PCM      func(frameSamples int) []int16
	Volume   int32
}

// Mixer combines multiple Inputs into one output PCM stream. Safe for
// concurrent use: AddInput/SetInputVolume/DeleteInput may run from the
// controller goroutine while GetSound runs from the renderer goroutine.
type Mixer struct {
	mu         sync.Mutex
	inputs     []Input
	frameSize  int // samples per 40ms frame
	sampleFreq int
	started    bool
}

// New constructs an idle Mixer.
func New() *Mixer {
	return &Mixer{}
}

// Start sizes the mixer's output frame for sampleFreq, a 40ms frame
// (four 10ms sub-frames), matching the original's frameSize computation.
func (m *Mixer) Start(sampleFreq int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.sampleFreq = sampleFreq
	m.frameSize = (sampleFreq / 100) * 4
	m.started = true
}

// Stop halts mixing.
func (m *Mixer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
}

// AddInput registers a participant's audio source. A duplicate SSRC is
// ignored, matching the original's find-before-insert guard.
func (m *Mixer) AddInput(in Input) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.inputs {
		if existing.SSRC == in.SSRC {
			return
		}
	}
	m.inputs = append(m.inputs, in)
}

// SetInputVolume updates one participant's volume (0..100). A missing
// SSRC is a no-op.
func (m *Mixer) SetInputVolume(ssrc uint32, volume int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.inputs {
		if m.inputs[i].SSRC == ssrc {
			m.inputs[i].Volume = volume
			return
		}
	}
}

// DeleteInput removes a participant's audio source.
func (m *Mixer) DeleteInput(ssrc uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, in := range m.inputs {
		if in.SSRC == ssrc {
			m.inputs = append(m.inputs[:i], m.inputs[i+1:]...)
			return
		}
	}
}

// gain maps a 0..100 volume into the original's exponential gain curve:
// 0 is silence, 100 is unity gain (exp(1)/e == 1).
func gain(volume int32) float64 {
	if volume == 0 {
		return 0
	}
	return math.Exp(float64(volume)/100) / math.E
}

// saturate clamps a sum to the int16 range, mirroring WEBRTC_SPL_SAT.
func saturate(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}

// GetSound pulls one frame from every registered input, scales each by
// its gain, and sums into out (which must be pre-sized to the mixer's
// frame length and pre-zeroed or already holding a base signal to mix
// into). Inputs that return an empty frame (nothing available yet) are
// skipped.
func (m *Mixer) GetSound(out []int16) {
	m.mu.Lock()
	inputs := append([]Input(nil), m.inputs...)
	frameSize := m.frameSize
	m.mu.Unlock()

	if !m.started || frameSize == 0 {
		return
	}

	n := len(out)
	if n > frameSize {
		n = frameSize
	}

	for _, in := range inputs {
		frame := in.PCM(n)
		if len(frame) == 0 {
			continue
		}
		g := gain(in.Volume)
		for i := 0; i < n && i < len(frame); i++ {
			adding := int32(float64(frame[i]) * g)
			out[i] = saturate(int32(out[i]) + adding)
		}
	}
}

// FrameSize returns the mixer's configured frame length in samples.
func (m *Mixer) FrameSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frameSize
}
