// Package codec wraps the Opus and VP8 codecs used by the capture and
// renderer sessions behind a small push/pull API that matches how
// pkg/session owns one encoder or decoder per stream. Grounded on
// original_source/Engine/Audio/OpusEncoderImpl.cpp, OpusDecoderImpl.cpp,
// and Engine/Video/VP8EncoderImpl.cpp, VP8DecoderImpl.cpp for the knob
// set and the packet-loss concealment behavior.
package codec

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// opusEncodeBufferSize bounds one compressed Opus packet; matches the
// original engine's 10 KiB scratch buffer, comfortably above any
// Opus packet at any bitrate this protocol uses.
const opusEncodeBufferSize = 1024 * 10

// OpusEncoder wraps a mono Opus encoder configured for VoIP, with
// in-band FEC and full-band audio enabled, the same defaults the
// original engine always applied. Not safe for concurrent use.
type OpusEncoder struct {
	enc        *opus.Encoder
	sampleFreq int
}

// NewOpusEncoder creates an encoder at the given sample rate (8000,
// 12000, 16000, 24000, or 48000 Hz), bitrate in kbps, encoder complexity
// 0..10, and expected packet loss percentage 0..100.
func NewOpusEncoder(sampleFreq, bitrateKbps, complexity, packetLossPercent int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleFreq, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("codec: new opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrateKbps * 1000); err != nil {
		return nil, fmt.Errorf("codec: set opus bitrate: %w", err)
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, fmt.Errorf("codec: set opus FEC: %w", err)
	}
	if err := enc.SetMaxBandwidth(opus.Fullband); err != nil {
		return nil, fmt.Errorf("codec: set opus bandwidth: %w", err)
	}
	if err := enc.SetPacketLossPerc(packetLossPercent); err != nil {
		return nil, fmt.Errorf("codec: set opus packet loss: %w", err)
	}
	if err := enc.SetComplexity(complexity); err != nil {
		return nil, fmt.Errorf("codec: set opus complexity: %w", err)
	}
	return &OpusEncoder{enc: enc, sampleFreq: sampleFreq}, nil
}

// SetComplexity adjusts encoder complexity (0..10) without reinitializing.
func (e *OpusEncoder) SetComplexity(val int) error {
	return e.enc.SetComplexity(val)
}

// SetBitrate adjusts the target bitrate in kbps without reinitializing.
func (e *OpusEncoder) SetBitrate(kbps int) error {
	return e.enc.SetBitrate(kbps * 1000)
}

// SetPacketLossPerc adjusts the expected packet-loss percentage so the
// encoder's in-band FEC redundancy tracks real network conditions.
func (e *OpusEncoder) SetPacketLossPerc(val int) error {
	return e.enc.SetPacketLossPerc(val)
}

// Encode compresses one frame of interleaved mono PCM16 samples and
// returns the compressed Opus packet. Returns (nil, nil) if the encoder
// produced no output (silence suppression at very low bitrates).
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, opusEncodeBufferSize)
	n, err := e.enc.Encode(pcm, out)
	if err != nil {
		return nil, fmt.Errorf("codec: opus encode: %w", err)
	}
	if n <= 0 {
		return nil, nil
	}
	return out[:n], nil
}

// OpusDecoder wraps an Opus decoder, supporting packet-loss concealment
// for the jitter buffer's gap-filling path.
type OpusDecoder struct {
	dec        *opus.Decoder
	sampleFreq int
	channels   int
}

// NewOpusDecoder creates a decoder at the given sample rate and channel
// count (1 for this protocol's mono capture path).
func NewOpusDecoder(sampleFreq, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleFreq, channels)
	if err != nil {
		return nil, fmt.Errorf("codec: new opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, sampleFreq: sampleFreq, channels: channels}, nil
}

// frameSamples returns the PCM buffer size for a 40 ms frame at this
// decoder's configuration: the original's (freq/100)*channels per 10 ms,
// times four, which fits the 40 ms frames the capture path encodes.
func (d *OpusDecoder) frameSamples() int {
	return (d.sampleFreq / 100) * d.channels * 4
}

// Decode decompresses one Opus packet into interleaved PCM16 samples.
func (d *OpusDecoder) Decode(data []byte) ([]int16, error) {
	pcm := make([]int16, d.frameSamples())
	n, err := d.dec.Decode(data, pcm)
	if err != nil {
		return nil, fmt.Errorf("codec: opus decode: %w", err)
	}
	return pcm[:n*d.channels], nil
}

// ConcealLoss runs Opus packet-loss concealment to synthesize a
// plausible frame in place of one that never arrived, matching the
// original decoder's "nullptr payload" DecodeFrame call for each gap in
// the received sequence.
func (d *OpusDecoder) ConcealLoss() ([]int16, error) {
	pcm := make([]int16, d.frameSamples())
	n, err := d.dec.DecodePLC(pcm)
	if err != nil {
		return nil, fmt.Errorf("codec: opus PLC: %w", err)
	}
	return pcm[:n*d.channels], nil
}
