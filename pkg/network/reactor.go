package network

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Reactor drives every socket in the NetworkManager's connected set plus
// the listener through a single producer at a time (§4.5
// "ExecuteProduceConsume"): one goroutine calls produceTask, which tries,
// in strict priority order, a per-peer message task, a per-peer ping
// task, a connect task, a broadcast task, and finally a selector wait —
// the only step allowed to block. Work handed to the pool frees the
// producer immediately so reading from sockets never starves in-memory
// task production, and vice versa.
type Reactor struct {
	mgr *NetworkManager
	log *zap.Logger

	sem *semaphore.Weighted // bounds the worker pool (min 1, max configured)

	producing chan struct{} // single-slot: holds the "I am producer" token
	quit      chan struct{}
}

// Reactor pool defaults (§4.5).
const (
	MinPoolSize        = 1
	DefaultMaxPoolSize = 10
	selectorWait       = 1000 * time.Millisecond
)

// NewReactor builds a Reactor bounded to maxPool concurrent consumer
// tasks; maxPool below MinPoolSize (e.g. an unset 0) falls back to
// DefaultMaxPoolSize.
func NewReactor(mgr *NetworkManager, maxPool int, log *zap.Logger) *Reactor {
	if maxPool < MinPoolSize {
		maxPool = DefaultMaxPoolSize
	}
	r := &Reactor{
		mgr:       mgr,
		log:       log,
		sem:       semaphore.NewWeighted(int64(maxPool)),
		producing: make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}
	r.producing <- struct{}{}
	return r
}

// task is one unit of work produceTask can hand to the pool.
type task func()

// Run is the producer loop: it repeatedly obtains the producer token,
// produces the next task, hands it off (freeing another goroutine to
// become producer), and repeats until Stop is called.
func (r *Reactor) Run() {
	for {
		select {
		case <-r.quit:
			return
		case <-r.producing:
		}

		t, _ := r.produceTask()
		if t == nil {
			// Nothing to do even after the blocking selector step timed
			// out; release the token and loop (a steady idle heartbeat).
			r.producing <- struct{}{}
			continue
		}

		if !r.sem.TryAcquire(1) {
			// Pool saturated: drop the task on the floor. Pings and
			// message tasks are idempotent re-checks of state, so the
			// next produce cycle resurfaces the same work (§4.5
			// "Back-pressure").
			r.producing <- struct{}{}
			continue
		}
		r.producing <- struct{}{}
		go func() {
			defer r.sem.Release(1)
			t()
		}()
	}
}

// Stop halts the producer loop. It does not itself close peer sockets;
// NetworkManager.Shutdown does that separately.
func (r *Reactor) Stop() { close(r.quit) }

// produceTask tries each source in the strict priority order of §4.5 and
// returns the first task found, or (nil, true) once it has fallen through
// to the blocking selector wait and that too produced nothing.
func (r *Reactor) produceTask() (task, bool) {
	if t := r.messageTask(); t != nil {
		return t, false
	}
	if t := r.pingTask(); t != nil {
		return t, false
	}
	if t := r.connectTask(); t != nil {
		return t, false
	}
	if t := r.broadcastTask(); t != nil {
		return t, false
	}
	return r.channelTask()
}

// messageTask: a peer already has a fully-decoded message queued by a
// prior read, waiting for delivery (§4.5 priority 1, the highest).
func (r *Reactor) messageTask() task {
	p := r.mgr.nextPendingMessagePeer()
	if p == nil {
		return nil
	}
	return func() {
		defer p.endDeliver()
		if err := p.DeliverNext(); err != nil {
			p.Disconnect(err)
			r.mgr.removePeer(p)
		}
	}
}

// pingTask: the first connected, handshaked peer whose ping timer fired.
func (r *Reactor) pingTask() task {
	p := r.mgr.nextPingDuePeer()
	if p == nil {
		return nil
	}
	return func() {
		if p.PingOverdue() {
			p.Disconnect(newError(ErrTimeout, "ping timeout"))
			r.mgr.removePeer(p)
			return
		}
		_ = p.SendPing()
	}
}

// connectTask: an outbound target selected by the manager.
func (r *Reactor) connectTask() task {
	addr, ok := r.mgr.nextConnectTarget()
	if !ok {
		return nil
	}
	return func() { r.mgr.dial(addr) }
}

// broadcastTask: the periodic broadcast window elapsed.
func (r *Reactor) broadcastTask() task {
	if !r.mgr.broadcastDue() {
		return nil
	}
	return func() { r.mgr.runBroadcast() }
}

// channelTask is the only step allowed to block, and only up to
// selectorWait: it waits for the listener or any registered connection to
// become readable. Since this module targets the Go runtime netpoller
// rather than a raw selector, "readiness" is modelled by polling the
// manager's peer set with a short deadline read — functionally identical
// to a selector wakeup, bounded the same way.
func (r *Reactor) channelTask() (task, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), selectorWait)
	defer cancel()

	if r.mgr.listener != nil {
		select {
		case conn := <-r.mgr.acceptCh:
			return func() { r.mgr.acceptConn(conn) }, false
		default:
		}
	}

	p := r.mgr.nextReadablePeer(ctx)
	if p == nil {
		return nil, true
	}
	return func() {
		defer p.endRead()
		if err := p.OnReadable(); err != nil {
			p.Disconnect(err)
			r.mgr.removePeer(p)
		}
	}, false
}

// jitter returns a random duration in [lo, hi), used for the broadcast
// fan-out delay between peers (§4.6, §9 "Broadcast inter-peer delay").
func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}
