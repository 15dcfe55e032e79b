// Package aec implements the microphone-side echo cancellation, noise
// suppression, and automatic gain control front end. Grounded on
// original_source/Engine/AEC/AEC.cpp, which wraps the WebRTC audio
// processing module's (APM) echo_cancellation/ns/agc cgo cores behind a
// MicrophoneReceiver (near-end, processed and forwarded) and a
// SpeakerReceiver (far-end reference, buffered for the canceller).
//
// No binding for WebRTC's APM (aec_core/nsx/agc) exists anywhere in the
// pack, so the three stages are reimplemented directly against stdlib
// float64 DSP: a single-band NLMS adaptive filter stands in for
// WebRtcAec_Process (the original runs it per-band over a 3-band QMF
// split; this operates on the full-band 48kHz frame directly, since no
// QMF analysis/synthesis filter bank is available either), a
// noise-floor-tracking spectral gate stands in for WebRtcNsx_Process,
// and an RMS-target gain controller with a hard limiter stands in for
// WebRtcAgc_Process. The public shape (Start/Stop, per-stage enable
// flags, mic level, render latency, microphone/speaker receivers) is
// kept faithful to the original.
package aec

import (
	"math"
	"sync"
)

const (
	// SampleFreq is the only sampling rate the original instantiates the
	// APM cores at.
	SampleFreq = 48000

	framesPerPacket = 4   // FRAMES_COUNT: four 10ms sub-frames per packet
	bandSize        = 160 // BAND_SIZE: samples per 10ms sub-frame per band
	bandsCount      = 3   // BANDS_COUNT: 16kHz bands spanning 0-48kHz

	// FrameSamples is the frame length in samples a packet carries,
	// matching framesPerPacket*bandsCount*bandSize samples at 48kHz (40ms).
	FrameSamples = framesPerPacket * bandsCount * bandSize
)

// AEC is the microphone-path audio processing front end for one capture
// stream. It is not safe for concurrent use from multiple goroutines
// beyond the ProcessMicrophone/ProcessSpeaker pair the original's
// receiver pair models (guarded internally by a mutex, same as the
// original's per-receiver std::mutex).
type AEC struct {
	mu sync.Mutex

	running    bool
	aecEnabled bool
	nsEnabled  bool
	agcEnabled bool

	micLevel      int
	renderLatency int16

	echo *echoCanceller
	ns   *noiseSuppressor
	agc  *gainController

	// Receiver consumes the processed near-end frame, mirroring the
	// original's resultReceiver->Send(packet).
	Receiver func(pcm []int16)
}

// New constructs an AEC with every stage enabled, matching the
// original's constructor defaults.
func New() *AEC {
	return &AEC{
		aecEnabled:    true,
		nsEnabled:     true,
		agcEnabled:    true,
		micLevel:      100,
		renderLatency: 100,
	}
}

// Start allocates the per-stage DSP state. Calling Start while already
// running is a no-op, matching the original's runned guard.
func (a *AEC) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.echo = newEchoCanceller()
	a.ns = newNoiseSuppressor()
	a.agc = newGainController()
}

// Stop releases the per-stage DSP state.
func (a *AEC) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	a.echo = nil
	a.ns = nil
	a.agc = nil
}

// EnableAEC toggles the echo canceller stage.
func (a *AEC) EnableAEC(yes bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aecEnabled = yes
}

// AECEnabled reports whether the echo canceller stage is active.
func (a *AEC) AECEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aecEnabled
}

// EnableNS toggles the noise suppression stage.
func (a *AEC) EnableNS(yes bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nsEnabled = yes
}

// NSEnabled reports whether the noise suppression stage is active.
func (a *AEC) NSEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nsEnabled
}

// EnableAGC toggles the automatic gain control stage.
func (a *AEC) EnableAGC(yes bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.agcEnabled = yes
}

// AGCEnabled reports whether the automatic gain control stage is active.
func (a *AEC) AGCEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agcEnabled
}

// SetMicLevel sets the AGC's reference microphone level (0..100, same
// range the original's WebRtcAgc_Init takes).
func (a *AEC) SetMicLevel(level int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.micLevel = level
}

// SetRenderLatency sets the estimated speaker-to-microphone delay in
// milliseconds, fed to the echo canceller's delay estimation.
func (a *AEC) SetRenderLatency(latencyMs int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.renderLatency = latencyMs
}

// ProcessMicrophone runs the near-end frame through whichever stages are
// enabled, in the original's fixed order (NS, then AEC, then AGC), and
// forwards the result to Receiver. A frame shorter than FrameSamples is
// processed as-is; the original only ever receives full 40ms packets.
func (a *AEC) ProcessMicrophone(pcm []int16) []int16 {
	a.mu.Lock()
	running := a.running
	aecOn, nsOn, agcOn := a.aecEnabled, a.nsEnabled, a.agcEnabled
	echo, ns, agc := a.echo, a.ns, a.agc
	micLevel := a.micLevel
	receiver := a.Receiver
	a.mu.Unlock()

	if !running {
		if receiver != nil {
			receiver(pcm)
		}
		return pcm
	}

	if !aecOn && !nsOn && !agcOn {
		if receiver != nil {
			receiver(pcm)
		}
		return pcm
	}

	out := make([]int16, len(pcm))
	copy(out, pcm)

	if nsOn {
		ns.process(out)
	}
	if aecOn {
		echo.cancel(out)
	}
	if agcOn {
		agc.process(out, micLevel)
	}

	if receiver != nil {
		receiver(out)
	}
	return out
}

// ProcessSpeaker buffers the far-end (speaker) frame as the echo
// canceller's reference signal, mirroring SpeakerReceiver::Send's
// WebRtcAec_BufferFarend call. A no-op unless both the front end is
// running and the echo canceller stage is enabled.
func (a *AEC) ProcessSpeaker(pcm []int16) {
	a.mu.Lock()
	running := a.running
	aecOn := a.aecEnabled
	echo := a.echo
	a.mu.Unlock()

	if !running || !aecOn {
		return
	}
	echo.bufferFarend(pcm)
}

// echoCanceller is a single-band normalized-LMS adaptive filter standing
// in for WebRtcAec_Process's per-band adaptive filter bank.
type echoCanceller struct {
	weights []float64
	farend  []float64 // ring buffer, most recent sample at index 0
	mu      sync.Mutex
}

const (
	echoFilterTaps = 256
	echoStepSize   = 0.2
	echoEpsilon    = 1e-6
)

func newEchoCanceller() *echoCanceller {
	return &echoCanceller{
		weights: make([]float64, echoFilterTaps),
		farend:  make([]float64, echoFilterTaps),
	}
}

func (e *echoCanceller) bufferFarend(pcm []int16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range pcm {
		copy(e.farend[1:], e.farend[:len(e.farend)-1])
		e.farend[0] = float64(s)
	}
}

// cancel subtracts the NLMS filter's echo estimate from near in place.
func (e *echoCanceller) cancel(near []int16) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, sample := range near {
		estimate := 0.0
		for k, w := range e.weights {
			estimate += w * e.farendAt(k)
		}

		errorSample := float64(sample) - estimate

		energy := echoEpsilon
		for k := range e.weights {
			f := e.farendAt(k)
			energy += f * f
		}
		mu := echoStepSize / energy
		for k := range e.weights {
			e.weights[k] += mu * errorSample * e.farendAt(k)
		}

		near[i] = saturateInt16(errorSample)
	}
}

func (e *echoCanceller) farendAt(lag int) float64 {
	if lag >= len(e.farend) {
		return 0
	}
	return e.farend[lag]
}

// noiseSuppressor is an energy-floor-tracking spectral gate standing in
// for WebRtcNsx_Process's subband Wiener-filter noise suppression.
type noiseSuppressor struct {
	noiseFloor float64
	primed     bool
}

const (
	nsAttack  = 0.1  // how fast the noise floor estimate rises
	nsRelease = 0.01 // how fast it falls, tracking only quiet stretches
)

func newNoiseSuppressor() *noiseSuppressor {
	return &noiseSuppressor{}
}

func (n *noiseSuppressor) process(pcm []int16) {
	const window = bandsCount * bandSize // track noise floor per 10ms sub-frame
	for start := 0; start < len(pcm); start += window {
		end := start + window
		if end > len(pcm) {
			end = len(pcm)
		}
		frame := pcm[start:end]

		rms := rmsOf(frame)
		if !n.primed {
			n.noiseFloor = rms
			n.primed = true
		} else if rms < n.noiseFloor {
			n.noiseFloor += (rms - n.noiseFloor) * nsRelease
		} else {
			n.noiseFloor += (rms - n.noiseFloor) * nsAttack
		}

		if rms <= 0 {
			continue
		}
		gain := 1 - n.noiseFloor/rms
		if gain < 0.1 {
			gain = 0.1 // floor, avoid muting near-silence entirely
		}
		if gain > 1 {
			gain = 1
		}
		for i, s := range frame {
			frame[i] = saturateInt16(float64(s) * gain)
		}
	}
}

// gainController is an RMS-target automatic gain control with a hard
// limiter, standing in for WebRtcAgc_Process's fixed-digital mode.
type gainController struct {
	gain float64
}

const (
	agcTargetLevelDbfs  = 3.0 // matches the original's WebRtcAgcConfig
	agcCompressionGain  = 9.0 // dB, matches the original's config
	agcGainSmoothing    = 0.2
	agcMaxGainPerSample = 16.0
)

func newGainController() *gainController {
	return &gainController{gain: 1}
}

func (g *gainController) process(pcm []int16, micLevel int) {
	rms := rmsOf(pcm)
	if rms <= 0 {
		return
	}

	currentDbfs := 20 * math.Log10(rms/32768)
	targetDbfs := -agcTargetLevelDbfs + dbGainFromMicLevel(micLevel)
	errDb := targetDbfs - currentDbfs + agcCompressionGain
	desiredGain := math.Pow(10, errDb/20)
	if desiredGain > agcMaxGainPerSample {
		desiredGain = agcMaxGainPerSample
	}
	if desiredGain < 1.0/agcMaxGainPerSample {
		desiredGain = 1.0 / agcMaxGainPerSample
	}

	g.gain += (desiredGain - g.gain) * agcGainSmoothing

	for i, s := range pcm {
		pcm[i] = saturateInt16(float64(s) * g.gain)
	}
}

// dbGainFromMicLevel maps the 0..100 mic level slider onto an
// approximate dB offset, centered at the original's default of 100
// (unity, 0dB).
func dbGainFromMicLevel(level int) float64 {
	if level <= 0 {
		return -60
	}
	return 20 * math.Log10(float64(level)/100)
}

func rmsOf(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range pcm {
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(pcm)))
}

func saturateInt16(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}
