package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/videograce/confcore/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelError
	log, err := logger.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestKeyframeThrottleAllowsFirstThenWithholds(t *testing.T) {
	var k keyframeThrottle
	now := time.Now()

	require.True(t, k.allow(now))
	require.False(t, k.allow(now.Add(50*time.Millisecond)))
	require.True(t, k.allow(now.Add(forceKeyframeThrottle+time.Millisecond)))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "running", StateRunning.String())
	require.Equal(t, "paused", StatePaused.String())
}
