package network

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/meridianchain/meridian-go/pkg/network/payload"
)

// Direction distinguishes a peer we accepted from one we dialed; the
// handshake FSM drives the two asymmetrically (§4.4).
type Direction int

// The two connection directions.
const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Default protocol timeouts (§5).
const (
	PingInterval   = 30 * time.Second
	PingTimeout    = 10 * time.Second
	RequestTimeout = 10 * time.Second
	writeQueueSize = 64 // frames; Send disconnects if the queue stays full for a second
)

// waiter is a single in-flight request/reply registration: the caller that
// issued Peer.Request is parked on reply/errc, never on the owning
// goroutine's own progress (§9 "Request/reply correlation").
type waiter struct {
	reply chan *Message
	errc  chan error
}

// Peer is the live, in-memory state of one connection: its socket, queued
// outbound bytes, handshake progress, and reply-waiter table. A Peer is
// exclusively owned by the NetworkManager's connected set until
// disconnect. Controller callbacks receive this same *Peer, not a copy;
// the connected set itself is only ever iterated as a snapshot slice.
type Peer struct {
	id     string // short uuid used to correlate log lines for this connection
	conn   net.Conn
	dir    Direction
	addr   PeerAddress
	magic  Magic
	maxMsg uint32
	log    *zap.Logger

	createdAt   time.Time
	connectedAt time.Time

	ctx HandshakeContext

	// handshake state, owned exclusively by the goroutine driving this
	// peer's reads; see handshake.go. Two messages for the same peer
	// never execute concurrently (§5), so no lock is needed here.
	hs handshakeState

	remotePeerID  [payload.PeerIDSize]byte
	havePeerID    bool
	pendingPeerID [payload.PeerIDSize]byte // doppelganger challenge target
	havePending   bool

	ourChallenge [payload.ProofSize]byte // sent by the outbound driver at PROOF

	remoteVersion uint32 // negotiated wire version, 1 or 2

	decoder *Decoder

	pendingMu sync.Mutex
	pending   []*Message // decoded, not yet delivered to deliver()

	writeQueue chan []byte
	closed     atomic.Bool
	done       chan struct{} // closed by Disconnect; never writeQueue itself

	idMu   sync.Mutex
	nextID int32

	waitersMu sync.Mutex
	waiters   map[int32]*waiter

	nextPingDue   atomic.Int64 // unix nanos; 0 means unscheduled
	pingInFlight  atomic.Int32 // id of outstanding ping, 0 if none
	lastPingSent  atomic.Int64
	rtt           atomic.Int64 // nanoseconds

	// reading/delivering claim this peer for, respectively, an in-flight
	// OnReadable or an in-flight DeliverNext: the reactor hands out at
	// most one of each per peer at a time (§5 "two messages for the same
	// peer never execute concurrently"), enforced here rather than merely
	// assumed.
	reading    atomic.Bool
	delivering atomic.Bool

	disconnectOnce sync.Once
	disconnectErr  error

	onDeliver func(p *Peer, msg *Message) // set by NetworkManager/FSM wiring
}

// NewPeer wraps conn as a Peer about to start its handshake. ctx gives the
// handshake FSM access to the shared things only the NetworkManager knows:
// our own peer id, the self-peer set, and the doppelganger registry.
func NewPeer(conn net.Conn, dir Direction, addr PeerAddress, magic Magic, maxMsg uint32, ctx HandshakeContext, log *zap.Logger) *Peer {
	p := &Peer{
		id:         uuid.NewString()[:8],
		conn:       conn,
		dir:        dir,
		addr:       addr,
		magic:      magic,
		maxMsg:     maxMsg,
		ctx:        ctx,
		log:        log,
		createdAt:  time.Now(),
		decoder:    NewDecoder(magic, maxMsg),
		writeQueue: make(chan []byte, writeQueueSize),
		done:       make(chan struct{}),
		waiters:    make(map[int32]*waiter),
	}
	p.hs = handshakeState{state: StateStarted}
	go p.writeLoop()
	return p
}

// ID is the short per-connection trace id used in every log field for
// this peer (grep-by-connection across a noisy multi-peer log).
func (p *Peer) ID() string { return p.id }

// Direction reports whether this connection was accepted or dialed.
func (p *Peer) Direction() Direction { return p.dir }

// Addr returns the unresolved remote address.
func (p *Peer) Addr() PeerAddress { return p.addr }

// RemoteAddr returns the resolved socket address of the underlying
// connection, for logging.
func (p *Peer) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }

// Handshaked reports whether this peer's handshake has reached COMPLETED.
func (p *Peer) Handshaked() bool { return p.hs.state == StateCompleted }

// HandshakeState returns the current handshake stage.
func (p *Peer) HandshakeState() HandshakeStateKind { return p.hs.state }

// HandshakeExpired reports whether this peer has been open longer than
// HandshakeTimeout without reaching COMPLETED (§4.4, §5).
func (p *Peer) HandshakeExpired() bool {
	return p.hs.state != StateCompleted && time.Since(p.createdAt) > HandshakeTimeout
}

// RemotePeerID returns the remote's 128-byte id, if received yet.
func (p *Peer) RemotePeerID() ([payload.PeerIDSize]byte, bool) {
	return p.remotePeerID, p.havePeerID
}

// ShortRemoteID renders the remote peer id as a short base58 string
// suitable for log fields (the same short-form idea used for chain
// addresses elsewhere in the stack).
func (p *Peer) ShortRemoteID() string {
	if !p.havePeerID {
		return ""
	}
	s := base58.Encode(p.remotePeerID[:])
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// writeLoop drains the write queue onto the socket; it is the only
// goroutine that ever calls conn.Write, so writes from concurrent callers
// never interleave (§5 "Peer.write_queue — per-peer mutex"). It never
// ranges over writeQueue — that channel is never closed, so a concurrent
// Send always has a channel it can safely send on — and instead selects
// done, which Disconnect closes exactly once.
func (p *Peer) writeLoop() {
	for {
		select {
		case frame := <-p.writeQueue:
			_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if _, err := p.conn.Write(frame); err != nil {
				p.Disconnect(newError(ErrIO, "write: %w", err))
				return
			}
			bytesSent.Add(float64(len(frame)))
		case <-p.done:
			return
		}
	}
}

// Send serialises and enqueues msg. When the write queue (writeQueueSize
// frames) is full it blocks for at most one second and then disconnects
// rather than applying unbounded back-pressure (§5 suspension point (b)).
// Racing a concurrent Disconnect is safe: writeQueue is never closed, so
// the enqueue below can never panic, and done gives Send an immediate,
// non-blocking way to notice a peer that closed while this call was in
// flight.
func (p *Peer) Send(msg *Message) error {
	if p.closed.Load() {
		return newError(ErrIO, "peer %s closed", p.id)
	}
	frame, err := msg.Encode(p.maxMsg)
	if err != nil {
		p.Disconnect(err)
		return err
	}
	select {
	case p.writeQueue <- frame:
		return nil
	case <-p.done:
		return newError(ErrIO, "peer %s closed", p.id)
	case <-time.After(time.Second):
		p.Disconnect(newError(ErrIO, "write queue full for peer %s", p.id))
		return newError(ErrIO, "write queue full for peer %s", p.id)
	}
}

// allocID returns the next nonzero, monotonically increasing correlation
// id for this peer, wrapping around but always skipping 0 ("no reply
// expected"). Allocation is serialised per peer.
func (p *Peer) allocID() int32 {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	p.nextID++
	if p.nextID == 0 {
		p.nextID = 1
	}
	return p.nextID
}

// Request sends msg with a freshly allocated id and suspends the caller
// (on a channel, never the goroutine driving this peer's I/O) until a
// reply with the matching id arrives, the peer disconnects, or timeout
// elapses.
func (p *Peer) Request(msg *Message, timeout time.Duration) (*Message, error) {
	id := p.allocID()
	msg.ID = id
	w := &waiter{reply: make(chan *Message, 1), errc: make(chan error, 1)}

	p.waitersMu.Lock()
	p.waiters[id] = w
	p.waitersMu.Unlock()

	defer func() {
		p.waitersMu.Lock()
		delete(p.waiters, id)
		p.waitersMu.Unlock()
	}()

	if err := p.Send(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-w.reply:
		return reply, nil
	case err := <-w.errc:
		return nil, err
	case <-time.After(timeout):
		return nil, newError(ErrTimeout, "no reply to id %d from peer %s within %s", id, p.id, timeout)
	}
}

// deliver routes a fully-decoded message: first to a registered waiter (by
// id), else, for a PING answering our own outstanding ping, to the RTT
// bookkeeping, else to the handshake FSM while handshaking, else to
// onDeliver (wired by NetworkManager to the Controller). Exactly one of
// those four destinations ever receives a given message.
func (p *Peer) deliver(msg *Message) error {
	if msg.ID != 0 {
		p.waitersMu.Lock()
		w, ok := p.waiters[msg.ID]
		p.waitersMu.Unlock()
		if ok {
			select {
			case w.reply <- msg:
			default:
			}
			return nil
		}
	}
	if msg.Type == TypePing && p.handlePingReply(msg) {
		return nil
	}
	if p.hs.state != StateCompleted {
		return p.driveHandshake(msg)
	}
	if p.onDeliver != nil {
		p.onDeliver(p, msg)
	}
	return nil
}

// handlePingReply matches an inbound PING against our own outstanding
// ping id and records RTT; returns true if msg was consumed as such.
func (p *Peer) handlePingReply(msg *Message) bool {
	want := p.pingInFlight.Load()
	if want == 0 || msg.ID != want {
		return false
	}
	p.recordPong()
	return true
}

func (p *Peer) recordPong() {
	sent := p.lastPingSent.Load()
	if sent != 0 {
		p.rtt.Store(time.Now().UnixNano() - sent)
	}
	p.pingInFlight.Store(0)
	p.scheduleNextPing()
}

// RTT returns the last measured ping round-trip time.
func (p *Peer) RTT() time.Duration { return time.Duration(p.rtt.Load()) }

// scheduleNextPing arms the next ping for PingInterval from now.
func (p *Peer) scheduleNextPing() {
	p.nextPingDue.Store(time.Now().Add(PingInterval).UnixNano())
}

// PingDue reports whether this peer's ping timer has fired (§4.5 priority
// 2, "per-peer ping task").
func (p *Peer) PingDue() bool {
	due := p.nextPingDue.Load()
	return due != 0 && time.Now().UnixNano() >= due
}

// PingOverdue reports whether an outstanding ping has gone unanswered
// past PingTimeout, meaning this peer should be disconnected.
func (p *Peer) PingOverdue() bool {
	inFlight := p.pingInFlight.Load()
	if inFlight == 0 {
		return false
	}
	sent := p.lastPingSent.Load()
	return time.Since(time.Unix(0, sent)) > PingTimeout
}

// tryBeginRead atomically claims this peer for a single in-flight
// OnReadable call; the caller must call endRead when done. Returns false
// if a read is already in flight for this peer.
func (p *Peer) tryBeginRead() bool { return p.reading.CAS(false, true) }

// endRead releases the claim taken by tryBeginRead.
func (p *Peer) endRead() { p.reading.Store(false) }

// tryBeginDeliver atomically claims this peer for a single in-flight
// DeliverNext call; the caller must call endDeliver when done. Returns
// false if a delivery is already in flight for this peer.
func (p *Peer) tryBeginDeliver() bool { return p.delivering.CAS(false, true) }

// endDeliver releases the claim taken by tryBeginDeliver.
func (p *Peer) endDeliver() { p.delivering.Store(false) }

// SendPing emits a PING if none is currently outstanding, arming the
// overdue check above.
func (p *Peer) SendPing() error {
	if p.pingInFlight.Load() != 0 {
		return nil
	}
	id := p.allocID()
	p.pingInFlight.Store(id)
	p.lastPingSent.Store(time.Now().UnixNano())
	return p.Send(&Message{Magic: p.magic, Type: TypePing, ID: id})
}

// OnReadable reads whatever is available without blocking longer than a
// short deadline and feeds the decoder; fully-decoded messages are queued
// for the reactor's separate per-peer message task to deliver in wire
// order, rather than delivered inline here — keeping "a socket became
// readable" and "a peer has a message ready" as the two distinct producer
// sources §4.5 requires. A PROTOCOL-kind error here means the connection
// must be disconnected; a short read is not an error.
func (p *Peer) OnReadable() error {
	buf := make([]byte, 64*1024)
	_ = p.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err := p.conn.Read(buf)
	if n > 0 {
		bytesReceived.Add(float64(n))
		msgs, derr := p.decoder.Feed(buf[:n])
		if len(msgs) > 0 {
			p.pendingMu.Lock()
			p.pending = append(p.pending, msgs...)
			p.pendingMu.Unlock()
		}
		if derr != nil {
			return derr
		}
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return newError(ErrIO, "read from %s: %w", p.addr, err)
	}
	return nil
}

// HasPendingMessage reports whether a decoded message is queued and
// waiting for the reactor's message task to deliver it.
func (p *Peer) HasPendingMessage() bool {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending) > 0
}

// DeliverNext pops the oldest queued message and routes it via deliver:
// to a waiter, to the handshake FSM, or to the Controller. It is the
// reactor's per-peer message task (§4.5 priority 1). Delivering in queue
// (== wire) order is what gives per-connection ordering its guarantee.
func (p *Peer) DeliverNext() error {
	p.pendingMu.Lock()
	if len(p.pending) == 0 {
		p.pendingMu.Unlock()
		return nil
	}
	msg := p.pending[0]
	p.pending = p.pending[1:]
	p.pendingMu.Unlock()
	return p.deliver(msg)
}

// Disconnect idempotently tears down the connection: closes the socket,
// fails every outstanding waiter with reason, and marks the peer closed so
// later Send/Request calls fail fast.
func (p *Peer) Disconnect(reason error) {
	p.disconnectOnce.Do(func() {
		p.disconnectErr = reason
		p.closed.Store(true)
		_ = p.conn.Close()
		close(p.done)

		p.waitersMu.Lock()
		for id, w := range p.waiters {
			select {
			case w.errc <- reason:
			default:
			}
			delete(p.waiters, id)
		}
		p.waitersMu.Unlock()

		if p.log != nil {
			p.log.Debug("peer disconnected",
				zap.String("peer", p.id),
				zap.Stringer("addr", p.addr),
				zap.Error(reason))
		}
	})
}

// DisconnectErr returns the reason passed to the Disconnect call that
// actually closed this peer, or nil if it is still connected.
func (p *Peer) DisconnectErr() error { return p.disconnectErr }

// Closed reports whether Disconnect has run.
func (p *Peer) Closed() bool { return p.closed.Load() }
