// Package session implements the capture and renderer sessions that own
// one media stream each: a capture session chains a capturer callback
// through an encoder, optional VP8 splitter, encryptor, and socket; a
// renderer session reverses the chain, from socket through decryptor,
// optional VP8 collector, decoder, and jitter buffer, into a mixer input
// or frame sink. Grounded on pkg/relay/relay.go's pipeline-orchestration
// shape (owned sub-components, context+WaitGroup lifecycle, atomic
// counters) and on original_source/Engine/Audio/Engine/Video's capturer/
// renderer session classes for the field sets and operations.
package session

import (
	"time"

	"github.com/videograce/confcore/pkg/transport"
)

// State is a capture video session's lifecycle state, matching the
// idle/running/paused enum spec's data model assigns only to video
// capture (audio capture sessions run or don't; they have no paused
// state in the original).
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Resolution is a capture or renderer video session's frame size.
type Resolution struct {
	Width, Height int
}

// forceKeyframeThrottle bounds how often a renderer video session will
// ask its peer to force a keyframe, matching the original decoder's
// "no more than once per 200ms" throttle.
const forceKeyframeThrottle = 200 * time.Millisecond

// keyframeThrottle tracks the last time a force-keyframe request was
// sent, so repeated gaps/decode errors in a short window collapse into
// one request.
type keyframeThrottle struct {
	last time.Time
}

func (k *keyframeThrottle) allow(now time.Time) bool {
	if now.Sub(k.last) < forceKeyframeThrottle {
		return false
	}
	k.last = now
	return true
}

// sendForceKeyframe builds and sends the RTCP APP force-keyframe request
// a renderer video session issues back to its peer when it needs a fresh
// IDR, addressed at the peer's own SSRC (not the receiver's).
func sendForceKeyframe(sock transport.Socket, to *transport.Address, ssrc uint32) error {
	return sendAppMessage(sock, to, appMessageForceKeyFrame, ssrc)
}
