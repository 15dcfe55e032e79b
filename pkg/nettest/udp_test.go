package nettest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/videograce/confcore/pkg/transport"
)

func TestUDPProbeReceivesEchoFromResponder(t *testing.T) {
	client := NewUDPProbe(nil, 0)
	require.NoError(t, client.Start())
	defer client.Stop()

	responder := NewUDPProbe(nil, 0)
	require.NoError(t, responder.Start())
	defer responder.Stop()

	target := transport.Address{Host: "127.0.0.1", Port: uint16(responder.sock.LocalPort())}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ok, err := client.Probe(ctx, target)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUDPProbeReportsUnreachableWhenNoResponder(t *testing.T) {
	client := NewUDPProbe(nil, 0)
	require.NoError(t, client.Start())
	defer client.Stop()

	// Nothing listening on this port; the probe should time out negative.
	target := transport.Address{Host: "127.0.0.1", Port: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := client.Probe(ctx, target)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUDPProbeAllPreservesOrderAndDropsUnreachable(t *testing.T) {
	client := NewUDPProbe(nil, 0)
	require.NoError(t, client.Start())
	defer client.Stop()

	responder := NewUDPProbe(nil, 0)
	require.NoError(t, responder.Start())
	defer responder.Stop()

	reachable := transport.Address{Host: "127.0.0.1", Port: uint16(responder.sock.LocalPort())}
	unreachable := transport.Address{Host: "127.0.0.1", Port: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := client.ProbeAll(ctx, []transport.Address{reachable, unreachable})
	require.Len(t, got, 1)
	require.Equal(t, reachable, got[0])
}
