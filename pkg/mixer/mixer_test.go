package mixer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartSizesFrame(t *testing.T) {
	m := New()
	m.Start(48000)
	require.Equal(t, 480*4, m.FrameSize())
}

func TestAddInputDedupesBySSRC(t *testing.T) {
	m := New()
	m.Start(48000)

	calls := 0
	m.AddInput(Input{SSRC: 1, PCM: func(n int) []int16 { calls++; return make([]int16, n) }})
	m.AddInput(Input{SSRC: 1, PCM: func(n int) []int16 { calls++; return make([]int16, n) }})

	out := make([]int16, m.FrameSize())
	m.GetSound(out)
	require.Equal(t, 1, calls)
}

func TestGetSoundMixesAtUnityVolume(t *testing.T) {
	m := New()
	m.Start(48000)

	m.AddInput(Input{
		SSRC:   1,
		Volume: 100,
		PCM: func(n int) []int16 {
			frame := make([]int16, n)
			for i := range frame {
				frame[i] = 1000
			}
			return frame
		},
	})

	out := make([]int16, m.FrameSize())
	m.GetSound(out)

	require.InDelta(t, 1000, out[0], 2)
}

func TestGetSoundSilentAtZeroVolume(t *testing.T) {
	m := New()
	m.Start(48000)

	m.AddInput(Input{
		SSRC:   1,
		Volume: 0,
		PCM: func(n int) []int16 {
			frame := make([]int16, n)
			for i := range frame {
				frame[i] = 1000
			}
			return frame
		},
	})

	out := make([]int16, m.FrameSize())
	m.GetSound(out)

	require.EqualValues(t, 0, out[0])
}

func TestGetSoundSaturates(t *testing.T) {
	m := New()
	m.Start(48000)

	m.AddInput(Input{SSRC: 1, Volume: 100, PCM: func(n int) []int16 {
		f := make([]int16, n)
		for i := range f {
			f[i] = 32000
		}
		return f
	}})
	m.AddInput(Input{SSRC: 2, Volume: 100, PCM: func(n int) []int16 {
		f := make([]int16, n)
		for i := range f {
			f[i] = 32000
		}
		return f
	}})

	out := make([]int16, m.FrameSize())
	m.GetSound(out)

	require.EqualValues(t, 32767, out[0])
}

func TestGetSoundSkipsEmptyFrame(t *testing.T) {
	m := New()
	m.Start(48000)
	m.AddInput(Input{SSRC: 1, Volume: 100, PCM: func(n int) []int16 { return nil }})

	out := make([]int16, m.FrameSize())
	m.GetSound(out)
	require.EqualValues(t, 0, out[0])
}

func TestDeleteInputStopsMixing(t *testing.T) {
	m := New()
	m.Start(48000)
	m.AddInput(Input{SSRC: 1, Volume: 100, PCM: func(n int) []int16 {
		f := make([]int16, n)
		for i := range f {
			f[i] = 1000
		}
		return f
	}})
	m.DeleteInput(1)

	out := make([]int16, m.FrameSize())
	m.GetSound(out)
	require.EqualValues(t, 0, out[0])
}

func TestSetInputVolumeUpdatesGain(t *testing.T) {
	m := New()
	m.Start(48000)
	m.AddInput(Input{SSRC: 1, Volume: 0, PCM: func(n int) []int16 {
		f := make([]int16, n)
		for i := range f {
			f[i] = 1000
		}
		return f
	}})
	m.SetInputVolume(1, 100)

	out := make([]int16, m.FrameSize())
	m.GetSound(out)
	require.InDelta(t, 1000, out[0], 2)
}

func TestGetSoundNoopBeforeStart(t *testing.T) {
	m := New()
	m.AddInput(Input{SSRC: 1, Volume: 100, PCM: func(n int) []int16 { return make([]int16, n) }})
	out := make([]int16, 10)
	m.GetSound(out)
	require.EqualValues(t, 0, out[0])
}
