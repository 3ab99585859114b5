package network

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReactorMessageTaskOutranksBroadcastTask(t *testing.T) {
	mgr, err := NewNetworkManager(Config{MaxPeers: 10, MinOutboundPeers: 0}, NewMemoryRepository(), NewLoggingController(zap.NewNop()), SystemClock{}, nil)
	require.NoError(t, err)
	mgr.lastBroadcast.Store(0) // broadcast always due

	local, _ := net.Pipe()
	p := NewPeer(local, Inbound, NewPeerAddress("x", 1), MagicMainNet, testMaxSize, mgr, nil)
	p.hs.state = StateCompleted
	p.pending = []*Message{{Magic: MagicMainNet, Type: TypeHeight}}
	mgr.addPeer(p)

	r := NewReactor(mgr, DefaultMaxPoolSize, zap.NewNop())
	task, blocked := r.produceTask()
	require.False(t, blocked)
	require.NotNil(t, task)

	// messageTask must win over broadcastTask even though both fire.
	require.True(t, p.HasPendingMessage())
	task()
	require.False(t, p.HasPendingMessage())
}

func TestReactorFallsThroughToSelectorWhenIdle(t *testing.T) {
	mgr, err := NewNetworkManager(Config{MaxPeers: 10, MinOutboundPeers: 0}, NewMemoryRepository(), NewLoggingController(zap.NewNop()), SystemClock{}, nil)
	require.NoError(t, err)
	mgr.lastBroadcast.Store(time.Now().UnixNano())

	r := NewReactor(mgr, DefaultMaxPoolSize, zap.NewNop())
	start := time.Now()
	task, blocked := r.produceTask()
	require.Nil(t, task)
	require.True(t, blocked)
	require.GreaterOrEqual(t, time.Since(start), selectorWait-50*time.Millisecond)
}

func TestReactorRunStopsOnStop(t *testing.T) {
	mgr, err := NewNetworkManager(Config{MaxPeers: 10, MinOutboundPeers: 0}, NewMemoryRepository(), NewLoggingController(zap.NewNop()), SystemClock{}, nil)
	require.NoError(t, err)
	r := NewReactor(mgr, DefaultMaxPoolSize, zap.NewNop())

	done := make(chan struct{})
	go func() { r.Run(); close(done) }()
	r.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after Stop")
	}
}
