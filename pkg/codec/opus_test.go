package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpusEncodeDecodeRoundTrip(t *testing.T) {
	const sampleFreq = 48000

	enc, err := NewOpusEncoder(sampleFreq, 32, 10, 0)
	require.NoError(t, err)
	dec, err := NewOpusDecoder(sampleFreq, 1)
	require.NoError(t, err)

	frameSamples := sampleFreq / 100 // 10ms mono frame
	pcm := make([]int16, frameSamples)
	for i := range pcm {
		pcm[i] = int16(i % 100)
	}

	encoded, err := enc.Encode(pcm)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := dec.Decode(encoded)
	require.NoError(t, err)
	require.NotEmpty(t, decoded)
}

func TestOpusDecoderConcealsLoss(t *testing.T) {
	dec, err := NewOpusDecoder(48000, 1)
	require.NoError(t, err)

	pcm, err := dec.ConcealLoss()
	require.NoError(t, err)
	require.NotEmpty(t, pcm)
}

func TestOpusEncoderAdjustsPacketLoss(t *testing.T) {
	enc, err := NewOpusEncoder(48000, 32, 10, 0)
	require.NoError(t, err)
	require.NoError(t, enc.SetPacketLossPerc(20))
	require.NoError(t, enc.SetComplexity(5))
}
