package codec

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

func flatFrame(w, h int) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = 0x80
	}
	for i := range img.Cb {
		img.Cb[i] = 0x80
	}
	for i := range img.Cr {
		img.Cr[i] = 0x80
	}
	return img
}

func TestVP8EncodeDecodeRoundTrip(t *testing.T) {
	const w, h = 64, 48

	enc, err := NewVP8Encoder(w, h, 256, false)
	require.NoError(t, err)
	defer enc.Close()

	dec, err := NewVP8Decoder(w, h)
	require.NoError(t, err)
	defer dec.Close()

	encoded, err := enc.EncodeFrame(flatFrame(w, h))
	require.NoError(t, err)
	require.True(t, VP8IsKeyFrame(encoded), "the first frame out of a freshly built encoder must be a key frame")

	out, err := dec.Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, w, out.Rect.Dx())
	require.Equal(t, h, out.Rect.Dy())
}

func TestVP8DecoderRejectsEmptyFrame(t *testing.T) {
	dec, err := NewVP8Decoder(64, 48)
	require.NoError(t, err)
	defer dec.Close()

	_, err = dec.Decode(nil)
	require.Error(t, err)
}

func TestVP8DecoderRejectsGarbageBitstream(t *testing.T) {
	dec, err := NewVP8Decoder(64, 48)
	require.NoError(t, err)
	defer dec.Close()

	_, err = dec.Decode([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestVP8EncoderForceKeyFrame(t *testing.T) {
	const w, h = 64, 48

	enc, err := NewVP8Encoder(w, h, 256, false)
	require.NoError(t, err)
	defer enc.Close()

	// Burn the unconditional first key frame so a later call is
	// observably the one ForceKeyFrame caused.
	_, err = enc.EncodeFrame(flatFrame(w, h))
	require.NoError(t, err)

	require.NoError(t, enc.ForceKeyFrame())

	encoded, err := enc.EncodeFrame(flatFrame(w, h))
	require.NoError(t, err)
	require.True(t, VP8IsKeyFrame(encoded))
}

func TestVP8EncoderSetBitrateRebuildsAndStaysUsable(t *testing.T) {
	const w, h = 64, 48

	enc, err := NewVP8Encoder(w, h, 256, false)
	require.NoError(t, err)
	defer enc.Close()

	_, err = enc.EncodeFrame(flatFrame(w, h))
	require.NoError(t, err)

	require.NoError(t, enc.SetBitrate(512))
	require.Equal(t, 512, enc.bitrateKbps)

	// A no-op when the target doesn't change.
	require.NoError(t, enc.SetBitrate(512))

	encoded, err := enc.EncodeFrame(flatFrame(w, h))
	require.NoError(t, err)
	require.NotEmpty(t, encoded)
}

func TestVP8ThreadTiering(t *testing.T) {
	require.Equal(t, 1, vp8ThreadsFor(360))
	require.Equal(t, 2, vp8ThreadsFor(480))
	require.Equal(t, 2, vp8ThreadsFor(719))
	require.Equal(t, 3, vp8ThreadsFor(720))
	require.Equal(t, 3, vp8ThreadsFor(1080))
}
