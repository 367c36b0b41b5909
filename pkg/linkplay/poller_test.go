package linkplay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestPollerPollsBothLanes(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	dev := newTestDevice(t)
	p := newTestPlayer(t, dev)

	// Prime the player so the fast lane stays fast and only the full lane
	// touches the slow endpoints.
	require.NoError(t, p.Refresh(context.Background()))
	dev.ClearCommands()

	poller := NewPoller(WithFastInterval(time.Second), WithFullInterval(time.Second))
	poller.Add(p)
	poller.Add(p) // second add is a no-op

	poller.Start()
	require.Eventually(t, func() bool {
		return dev.CommandCount("getPlayerStatusEx") >= 1
	}, 5*time.Second, 50*time.Millisecond, "fast lane never polled")
	require.Eventually(t, func() bool {
		return dev.CommandCount("getNewAudioOutputHardwareMode") >= 1
	}, 5*time.Second, 50*time.Millisecond, "full lane never polled")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, poller.Stop(ctx))
}

func TestPollerRemove(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	devA := newTestDevice(t)
	pA := newTestPlayer(t, devA)
	devB := newTestDevice(t)
	pB := newTestPlayer(t, devB)

	poller := NewPoller(WithFastInterval(time.Second))
	poller.Add(pA)
	poller.Add(pB)
	poller.Remove(pA)

	poller.Start()
	require.Eventually(t, func() bool {
		return devB.CommandCount("getPlayerStatusEx") >= 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Empty(t, devA.Commands(), "removed players are not polled")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, poller.Stop(ctx))
}
