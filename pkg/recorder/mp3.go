package recorder

import (
	"encoding/binary"
	"fmt"
	"os"
)

// MP3Encoder is the seam MP3-only recording drives. No MP3 encoder
// exists anywhere in the example pack this module was grounded on
// (hajimehoshi/go-mp3 decodes only), so this interface is the
// documented integration point for a real one; mp3Writer below is a
// minimal stdlib stand-in that keeps the recorder fully exercised and
// testable without it.
type MP3Encoder interface {
	Encode(pcm []int16) ([]byte, error)
	Close() error
}

// mp3Writer drives an MP3Encoder and writes its output to path. The
// default encoder (wavStandInEncoder) writes headerless raw PCM16 instead
// of real MP3 frames; swapping in a real MP3Encoder is a one-line change at
// newMP3Writer.
type mp3Writer struct {
	enc  MP3Encoder
	file *os.File
}

func newMP3Writer(path string) (*mp3Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: create mp3 file: %w", err)
	}
	enc := newWAVStandInEncoder(f, 48000)
	return &mp3Writer{enc: enc, file: f}, nil
}

func (w *mp3Writer) Write(pcm []int16) error {
	data, err := w.enc.Encode(pcm)
	if err != nil {
		return fmt.Errorf("recorder: encode audio frame: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	_, err = w.file.Write(data)
	return err
}

func (w *mp3Writer) Close() error {
	if err := w.enc.Close(); err != nil {
		return err
	}
	return w.file.Close()
}

// wavStandInEncoder satisfies MP3Encoder by passing PCM through as a
// headerless raw little-endian stream rather than real MP3 frames —
// exactly what the MP3Encoder boundary exists to let a real encoder
// replace.
type wavStandInEncoder struct {
	w          *os.File
	sampleFreq int
	started    bool
}

func newWAVStandInEncoder(w *os.File, sampleFreq int) *wavStandInEncoder {
	return &wavStandInEncoder{w: w, sampleFreq: sampleFreq}
}

func (e *wavStandInEncoder) Encode(pcm []int16) ([]byte, error) {
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf, nil
}

func (e *wavStandInEncoder) Close() error { return nil }
