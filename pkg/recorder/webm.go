package recorder

import (
	"fmt"
	"os"

	"github.com/at-wat/ebml-go/webm"
)

// ebmlWebmWriter implements webmWriter over github.com/at-wat/ebml-go's
// webm package: one VP8 video track (1280x720) and one Opus audio track
// (48kHz mono), matching spec.md §4.9's fixed track layout.
type ebmlWebmWriter struct {
	file   *os.File
	tracks []webm.BlockWriteCloser // [0]=video, [1]=audio
}

func newWebmWriter(path string, width, height, audioSampleFreq int) (*ebmlWebmWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: create webm file: %w", err)
	}

	tracks, err := webm.NewSimpleBlockWriter(f, []webm.TrackEntry{
		{
			Name:        "Video",
			TrackNumber: 1,
			TrackUID:    0x1a,
			CodecID:     "V_VP8",
			TrackType:   1,
			Video: &webm.Video{
				PixelWidth:  uint64(width),
				PixelHeight: uint64(height),
			},
		},
		{
			Name:        "Audio",
			TrackNumber: 2,
			TrackUID:    0x2a,
			CodecID:     "A_OPUS",
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: float64(audioSampleFreq),
				Channels:          1,
			},
		},
	})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("recorder: new webm writer: %w", err)
	}

	return &ebmlWebmWriter{file: f, tracks: tracks}, nil
}

func (w *ebmlWebmWriter) WriteVideo(isKeyFrame bool, timestampMs int64, frame []byte) error {
	_, err := w.tracks[0].Write(isKeyFrame, timestampMs, frame)
	return err
}

func (w *ebmlWebmWriter) WriteAudio(timestampMs int64, frame []byte) error {
	_, err := w.tracks[1].Write(true, timestampMs, frame)
	return err
}

func (w *ebmlWebmWriter) Close() error {
	var firstErr error
	for _, t := range w.tracks {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
