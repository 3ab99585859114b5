package network

import (
	"context"
	"crypto/rand"
	"fmt"
	mathrand "math/rand"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridianchain/meridian-go/pkg/network/payload"
)

// Timeouts and limits fixed by §4.6/§5.
const (
	ConnectFailureBackoff    = 5 * time.Minute
	ConnectTimeout           = 5 * time.Second
	OldPeerAttemptedPeriod   = 24 * time.Hour
	OldPeerConnectionPeriod  = 7 * 24 * time.Hour
	RecentConnectionWindow   = 24 * time.Hour
	BroadcastInterval        = 60 * time.Second
	PruneInterval            = 30 * time.Second
	selfPeerCacheSize        = 64
	acceptBacklog            = 10
	connectRetryMinSpacing   = 2 * time.Second
	broadcastJitterLo        = 20 * time.Millisecond
	broadcastJitterHi        = 40 * time.Millisecond
)

// Config is the external configuration this package consumes (§6).
type Config struct {
	ListenPort       uint16
	BindAddress      string
	Testnet          bool
	MinOutboundPeers int
	MaxPeers         int
	InitialPeers     []string
	UserAgent        string
	ProtocolVersion  uint32
	Services         uint64
	MaxMessageSize   uint32
}

// NetworkManager is the top-level coordinator (§4.6): it owns the
// connected-peer set, drives outbound target selection and periodic
// broadcast, and persists peer records through Repository. Construct one
// per node; it is not a singleton (§9 "Global singletons").
type NetworkManager struct {
	cfg  Config
	repo Repository
	ctrl Controller
	clk  Clock
	log  *zap.Logger

	magic Magic

	ourPeerID [payload.PeerIDSize]byte

	listener net.Listener
	acceptCh chan net.Conn

	connMu    sync.Mutex
	connected map[string]*Peer // keyed by PeerAddress.String()

	selfPeers *lru.Cache // PeerAddress.String() -> struct{}

	doppelMu sync.Mutex
	doppel   map[[payload.PeerIDSize]byte]*doppelVerify

	mergeLock atomic.Bool // try-lock: CAS false->true to acquire

	lastConnectAttempt atomic.Int64
	lastBroadcast      atomic.Int64

	reactor *Reactor

	shutdownOnce sync.Once
	quit         chan struct{}
}

// NewNetworkManager builds a manager ready for Start. repo and ctrl are
// required; clk defaults to SystemClock if nil.
func NewNetworkManager(cfg Config, repo Repository, ctrl Controller, clk Clock, log *zap.Logger) (*NetworkManager, error) {
	if repo == nil {
		return nil, fmt.Errorf("network: repository is required")
	}
	if ctrl == nil {
		return nil, fmt.Errorf("network: controller is required")
	}
	if clk == nil {
		clk = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	cache, err := lru.New(selfPeerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("network: building self-peer cache: %w", err)
	}
	magic := MagicMainNet
	if cfg.Testnet {
		magic = MagicTestNet
	}
	id, err := generatePeerID()
	if err != nil {
		return nil, fmt.Errorf("network: generating peer id: %w", err)
	}
	m := &NetworkManager{
		cfg:       cfg,
		repo:      repo,
		ctrl:      ctrl,
		clk:       clk,
		log:       log,
		magic:     magic,
		ourPeerID: id,
		acceptCh:  make(chan net.Conn, acceptBacklog),
		connected: make(map[string]*Peer),
		selfPeers: cache,
		doppel:    make(map[[payload.PeerIDSize]byte]*doppelVerify),
		quit:      make(chan struct{}),
	}
	m.reactor = NewReactor(m, DefaultMaxPoolSize, log)
	return m, nil
}

// generatePeerID produces a 128-byte cryptographically random identifier
// with the low bit of the last byte set, forbidding the all-zeroes id
// (§3 invariant).
func generatePeerID() ([payload.PeerIDSize]byte, error) {
	var id [payload.PeerIDSize]byte
	if _, err := rand.Read(id[:]); err != nil {
		return id, err
	}
	id[len(id)-1] |= 1
	return id, nil
}

// Start binds the listener (SO_REUSEADDR-equivalent via net.ListenConfig,
// non-blocking accept, backlog acceptBacklog), seeds the repository with
// InitialPeers if it is empty, and starts the reactor.
func (m *NetworkManager) Start() error {
	lc := net.ListenConfig{}
	addr := fmt.Sprintf("%s:%d", m.cfg.BindAddress, m.cfg.ListenPort)
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("network: listen on %s: %w", addr, err)
	}
	m.listener = ln

	if err := m.seedInitialPeers(); err != nil {
		m.log.Warn("failed seeding initial peers", zap.Error(err))
	}

	go m.acceptLoop()
	go m.reactor.Run()
	go m.pruneLoop()
	m.log.Info("network manager started", zap.String("addr", addr), zap.Stringer("magic", m.magic))
	return nil
}

func (m *NetworkManager) seedInitialPeers() error {
	existing, err := m.repo.GetAllPeers()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	now := time.Now()
	for _, s := range m.cfg.InitialPeers {
		addr, err := ParsePeerAddress(s, m.cfg.ListenPort)
		if err != nil {
			m.log.Warn("bad initial peer address", zap.String("addr", s), zap.Error(err))
			continue
		}
		if err := m.repo.Save(PeerData{Address: addr, FirstSeen: now, AddedBy: "initial"}); err != nil {
			m.log.Warn("failed saving initial peer", zap.Stringer("addr", addr), zap.Error(err))
		}
	}
	return m.repo.SaveChanges()
}

// pruneLoop runs Prune on a fixed tick outside the reactor's strict
// produce-task priority chain: pruning is opportunistic maintenance
// (§4.6), not one of the five producer sources §4.5 orders.
func (m *NetworkManager) pruneLoop() {
	t := time.NewTicker(PruneInterval)
	defer t.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-t.C:
			m.Prune()
		}
	}
}

func (m *NetworkManager) acceptLoop() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.quit:
				return
			default:
				m.log.Warn("accept failed", zap.Error(err))
				continue
			}
		}
		select {
		case m.acceptCh <- conn:
		case <-m.quit:
			_ = conn.Close()
			return
		}
	}
}

// acceptConn finishes accepting a connection already pulled off acceptCh:
// enforces MaxPeers, then starts the inbound peer (it waits — the
// asymmetry rule has the remote, as outbound on its side, drive first).
func (m *NetworkManager) acceptConn(conn net.Conn) {
	if m.PeerCount() >= m.cfg.MaxPeers {
		_ = conn.Close()
		return
	}
	addr := addressOfConn(conn)
	p := NewPeer(conn, Inbound, addr, m.magic, m.maxMsgSize(), m, m.log)
	p.onDeliver = m.deliverToController
	m.addPeer(p)
}

func addressOfConn(conn net.Conn) PeerAddress {
	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return NewPeerAddress(conn.RemoteAddr().String(), 0)
	}
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)
	return NewPeerAddress(host, port)
}

func (m *NetworkManager) maxMsgSize() uint32 {
	if m.cfg.MaxMessageSize == 0 {
		return 16 * 1024 * 1024
	}
	return m.cfg.MaxMessageSize
}

func (m *NetworkManager) addPeer(p *Peer) {
	m.connMu.Lock()
	m.connected[p.Addr().String()] = p
	n := len(m.connected)
	m.connMu.Unlock()
	connectedPeers.Set(float64(n))
}

// removePeer drops p from the connected set (idempotent) and notifies the
// Controller once the socket is really gone.
func (m *NetworkManager) removePeer(p *Peer) {
	m.connMu.Lock()
	if cur, ok := m.connected[p.Addr().String()]; ok && cur == p {
		delete(m.connected, p.Addr().String())
	}
	n := len(m.connected)
	m.connMu.Unlock()
	connectedPeers.Set(float64(n))
	if !p.Handshaked() {
		handshakeFailures.WithLabelValues(failureReason(p.DisconnectErr())).Inc()
	}
	m.ctrl.OnPeerDisconnect(p)
}

// failureReason renders a disconnect error's ErrorKind as a metric label,
// falling back to "unknown" for an untyped or nil error.
func failureReason(err error) string {
	if err == nil {
		return "unknown"
	}
	return KindOf(err).String()
}

// PeerCount returns the number of currently connected peers (handshaking
// or completed).
func (m *NetworkManager) PeerCount() int {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return len(m.connected)
}

// snapshotPeers copies the connected set under lock; callers must never
// iterate the live map directly (§5 "connected_peers").
func (m *NetworkManager) snapshotPeers() []*Peer {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	out := make([]*Peer, 0, len(m.connected))
	for _, p := range m.connected {
		out = append(out, p)
	}
	return out
}

func (m *NetworkManager) deliverToController(p *Peer, msg *Message) {
	m.ctrl.OnNetworkMessage(p, msg)
}

// --- Reactor hooks -------------------------------------------------

// nextPendingMessagePeer returns a peer with a decoded message queued,
// claiming it for delivery so no second messageTask can pick the same
// peer until the caller's DeliverNext finishes (see Peer.tryBeginDeliver).
func (m *NetworkManager) nextPendingMessagePeer() *Peer {
	for _, p := range m.snapshotPeers() {
		if !p.HasPendingMessage() {
			continue
		}
		if p.tryBeginDeliver() {
			return p
		}
	}
	return nil
}

func (m *NetworkManager) nextPingDuePeer() *Peer {
	for _, p := range m.snapshotPeers() {
		if p.Handshaked() && (p.PingDue() || p.PingOverdue()) {
			return p
		}
	}
	return nil
}

// nextReadablePeer returns a peer to probe for readability, claiming it so
// no second read runs concurrently against the same socket (see
// Peer.tryBeginRead); the caller must release the claim with endRead.
func (m *NetworkManager) nextReadablePeer(ctx readCtx) *Peer {
	deadline, _ := ctx.Deadline()
	for {
		for _, p := range m.snapshotPeers() {
			if p.Closed() {
				continue
			}
			if !hasDataOrDeadlinePassed(p, deadline) {
				continue
			}
			if p.tryBeginRead() {
				return p
			}
		}
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// hasDataOrDeadlinePassed is a placeholder readiness probe: with Go's
// netpoller there is no portable way to ask "is this fd readable" without
// a raw syscall, so the reactor instead relies on OnReadable's own short
// read deadline and simply round-robins connected peers within the
// selector's blocking window.
func hasDataOrDeadlinePassed(p *Peer, deadline time.Time) bool {
	return true
}

type readCtx interface {
	Deadline() (time.Time, bool)
}

// --- Outbound connect ------------------------------------------------

// nextConnectTarget implements getConnectablePeer (§4.6): picks uniformly
// at random from candidates not excluded by backlog/self/already-connected
// rules, and persists last_attempted before the caller dials.
func (m *NetworkManager) nextConnectTarget() (PeerAddress, bool) {
	if m.PeerCount() >= m.cfg.MaxPeers {
		return PeerAddress{}, false
	}
	if m.outboundCount() >= m.cfg.MinOutboundPeers {
		return PeerAddress{}, false
	}
	now := time.Now()
	last := m.lastConnectAttempt.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < connectRetryMinSpacing {
		return PeerAddress{}, false
	}

	// §9: getConnectablePeer must null-check the clock instead of
	// faulting on an unsynced NTP read.
	clockNow, ok := m.clk.Now()
	if !ok {
		return PeerAddress{}, false
	}

	all, err := m.repo.GetAllPeers()
	if err != nil {
		m.log.Warn("get_connectable_peer: repository read failed", zap.Error(err))
		return PeerAddress{}, false
	}

	connected := m.connectedAddressSet()
	var candidates []PeerData
	for _, pd := range all {
		if m.recentlyFailed(pd, clockNow) {
			continue
		}
		if m.isSelf(pd.Address) {
			continue
		}
		if m.alreadyConnected(pd.Address, connected) {
			continue
		}
		candidates = append(candidates, pd)
	}
	if len(candidates) == 0 {
		return PeerAddress{}, false
	}
	chosen := candidates[mathrand.Intn(len(candidates))]
	chosen.LastAttempted = now
	if err := m.repo.Save(chosen); err != nil {
		m.log.Warn("failed persisting last_attempted before dial", zap.Stringer("addr", chosen.Address), zap.Error(err))
	} else if err := m.repo.SaveChanges(); err != nil {
		m.log.Warn("failed committing last_attempted before dial", zap.Error(err))
	}
	m.lastConnectAttempt.Store(now.UnixNano())
	return chosen.Address, true
}

func (m *NetworkManager) outboundCount() int {
	n := 0
	for _, p := range m.snapshotPeers() {
		if p.Direction() == Outbound {
			n++
		}
	}
	return n
}

func (m *NetworkManager) recentlyFailed(pd PeerData, now time.Time) bool {
	if !pd.hasAttempted() {
		return false
	}
	succeededSinceAttempt := pd.hasConnected() && !pd.LastConnected.Before(pd.LastAttempted)
	if succeededSinceAttempt {
		return false
	}
	return now.Sub(pd.LastAttempted) < ConnectFailureBackoff
}

func (m *NetworkManager) isSelf(addr PeerAddress) bool {
	_, ok := m.selfPeers.Get(addr.String())
	return ok
}

// alreadyConnected matches both by unresolved address and by resolved
// socket address; an address that fails to resolve is treated as already
// connected, so the selector simply skips it rather than retrying forever.
func (m *NetworkManager) alreadyConnected(addr PeerAddress, connected map[string]net.Addr) bool {
	if _, ok := connected[addr.String()]; ok {
		return true
	}
	resolved, err := addr.ResolveTCPAddr()
	if err != nil {
		return true
	}
	for _, ra := range connected {
		if ra != nil && ra.String() == resolved.String() {
			return true
		}
	}
	return false
}

func (m *NetworkManager) connectedAddressSet() map[string]net.Addr {
	out := make(map[string]net.Addr)
	for _, p := range m.snapshotPeers() {
		out[p.Addr().String()] = p.RemoteAddr()
	}
	return out
}

// dial performs the actual outbound TCP connect chosen by
// nextConnectTarget and starts the handshake on success.
func (m *NetworkManager) dial(addr PeerAddress) {
	conn, err := net.DialTimeout("tcp", addr.String(), ConnectTimeout)
	if err != nil {
		m.log.Debug("dial failed", zap.Stringer("addr", addr), zap.Error(err))
		return
	}
	p := NewPeer(conn, Outbound, addr, m.magic, m.maxMsgSize(), m, m.log)
	p.onDeliver = m.deliverToController
	m.addPeer(p)
	if err := p.StartOutbound(); err != nil {
		p.Disconnect(err)
		m.removePeer(p)
	}
}

// --- Handshake context -------------------------------------------------

func (m *NetworkManager) OurPeerID() [payload.PeerIDSize]byte { return m.ourPeerID }
func (m *NetworkManager) UserAgent() string                   { return m.cfg.UserAgent }
func (m *NetworkManager) ProtocolVersion() uint32             { return m.cfg.ProtocolVersion }
func (m *NetworkManager) Services() uint64                    { return m.cfg.Services }

func (m *NetworkManager) MarkSelf(addr PeerAddress) {
	m.selfPeers.Add(addr.String(), struct{}{})
}

func (m *NetworkManager) FindInboundByPeerID(id [payload.PeerIDSize]byte) (*Peer, bool) {
	for _, p := range m.snapshotPeers() {
		if p.Direction() != Inbound {
			continue
		}
		if rid, ok := p.RemotePeerID(); ok && rid == id {
			return p, true
		}
	}
	return nil, false
}

func (m *NetworkManager) RegisterDoppelVerify(id [payload.PeerIDSize]byte, y *Peer, expectOnX, replyOnY [payload.ProofSize]byte) {
	m.doppelMu.Lock()
	defer m.doppelMu.Unlock()
	m.doppel[id] = &doppelVerify{outbound: y, expectOnX: expectOnX, replyOnY: replyOnY}
}

func (m *NetworkManager) ResolveDoppelVerify(id [payload.PeerIDSize]byte) (*doppelVerify, bool) {
	m.doppelMu.Lock()
	defer m.doppelMu.Unlock()
	dv, ok := m.doppel[id]
	if ok {
		delete(m.doppel, id)
	}
	return dv, ok
}

func (m *NetworkManager) OnHandshakeCompleted(p *Peer) {
	now := time.Now()
	pd := PeerData{Address: p.Addr(), FirstSeen: now, LastAttempted: now, LastConnected: now, AddedBy: "handshake"}
	if err := m.repo.Save(pd); err != nil {
		m.log.Warn("failed persisting handshaked peer", zap.Stringer("addr", p.Addr()), zap.Error(err))
	} else if err := m.repo.SaveChanges(); err != nil {
		m.log.Warn("failed committing handshaked peer", zap.Error(err))
	}
	m.ctrl.OnPeerHandshakeCompleted(p)
}

// --- Pruning & merging --------------------------------------------------

// Prune runs the opportunistic maintenance pass of §4.6: disconnects
// peers stuck mid-handshake past HandshakeTimeout, then deletes "old"
// persisted peers (excluding whoever is currently connected), skipping
// entirely if the repository is contended.
func (m *NetworkManager) Prune() {
	for _, p := range m.snapshotPeers() {
		if p.HandshakeExpired() {
			p.Disconnect(newError(ErrTimeout, "handshake timeout at %s", p.HandshakeState()))
			m.removePeer(p)
		}
	}

	tryRepo, ok := m.repo.(TryRepository)
	var repo Repository = m.repo
	if ok {
		r, got := tryRepo.Try()
		if !got {
			return
		}
		repo = r
	}

	all, err := repo.GetAllPeers()
	if err != nil {
		m.log.Warn("prune: repository read failed", zap.Error(err))
		return
	}
	connected := m.connectedAddressSet()
	now := time.Now()
	for _, pd := range all {
		if _, ok := connected[pd.Address.String()]; ok {
			continue
		}
		if isOldPeer(pd, now) {
			if _, err := repo.Delete(pd.Address); err != nil {
				m.log.Warn("prune: delete failed", zap.Stringer("addr", pd.Address), zap.Error(err))
			}
		}
	}
	if err := repo.SaveChanges(); err != nil {
		m.log.Warn("prune: commit failed", zap.Error(err))
	}
}

// isOldPeer is the literal predicate from §4.6/§9: a peer is old — and
// gets pruned — when its last_attempted is absent or older than
// OldPeerAttemptedPeriod, OR its last_connected is absent or newer than
// OldPeerConnectionPeriod. §9 flags this as a suspected inversion
// (reads backwards vs. its source comment) but instructs keeping it
// literal; do not silently "fix" it.
func isOldPeer(pd PeerData, now time.Time) bool {
	attemptedOld := !pd.hasAttempted() || now.Sub(pd.LastAttempted) > OldPeerAttemptedPeriod
	connectedRecent := !pd.hasConnected() || now.Sub(pd.LastConnected) < OldPeerConnectionPeriod
	return attemptedOld || connectedRecent
}

// MergePeers implements mergePeers (§4.6): try-lock, drop the whole batch
// if a merge is already in progress, dedupe by unresolved address, save
// the rest.
func (m *NetworkManager) MergePeers(batch []PeerData) {
	if !m.mergeLock.CAS(false, true) {
		return // a concurrent merge is in progress; discard our batch
	}
	defer m.mergeLock.Store(false)

	existing, err := m.repo.GetAllPeers()
	if err != nil {
		m.log.Warn("merge_peers: repository read failed", zap.Error(err))
		return
	}
	seen := make(map[string]bool, len(existing))
	for _, pd := range existing {
		seen[pd.Address.String()] = true
	}
	now := time.Now()
	for _, pd := range batch {
		key := pd.Address.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		if pd.FirstSeen.IsZero() {
			pd.FirstSeen = now
		}
		if err := m.repo.Save(pd); err != nil {
			m.log.Warn("merge_peers: save failed", zap.Stringer("addr", pd.Address), zap.Error(err))
		}
	}
	if err := m.repo.SaveChanges(); err != nil {
		m.log.Warn("merge_peers: commit failed", zap.Error(err))
	}
}

// --- Broadcast -----------------------------------------------------------

func (m *NetworkManager) broadcastDue() bool {
	last := m.lastBroadcast.Load()
	return last == 0 || time.Since(time.Unix(0, last)) >= BroadcastInterval
}

func (m *NetworkManager) runBroadcast() {
	m.lastBroadcast.Store(time.Now().UnixNano())
	m.ctrl.DoNetworkBroadcast(m.Broadcast)
}

// Broadcast sends build(p) to every uniquely-identified handshaked peer
// (an inbound duplicate of an already-outbound peer by id is skipped),
// with a jittered 20-40ms delay between sends so the fan-out spreads load
// and remains cancellable (§4.6, §9).
func (m *NetworkManager) Broadcast(build func(p *Peer) *Message) {
	peers := m.uniqueHandshakedPeers()
	go func() {
		start := time.Now()
		for i, p := range peers {
			select {
			case <-m.quit:
				return
			default:
			}
			msg := build(p)
			if msg != nil {
				_ = p.Send(msg)
			}
			if i < len(peers)-1 {
				time.Sleep(jitter(broadcastJitterLo, broadcastJitterHi))
			}
		}
		broadcastDuration.Observe(time.Since(start).Seconds())
	}()
}

func (m *NetworkManager) uniqueHandshakedPeers() []*Peer {
	byID := make(map[[payload.PeerIDSize]byte]*Peer)
	var noID []*Peer
	for _, p := range m.snapshotPeers() {
		if !p.Handshaked() {
			continue
		}
		id, ok := p.RemotePeerID()
		if !ok {
			noID = append(noID, p)
			continue
		}
		if cur, exists := byID[id]; !exists || (cur.Direction() == Inbound && p.Direction() == Outbound) {
			byID[id] = p
		}
	}
	out := append([]*Peer{}, noID...)
	for _, p := range byID {
		out = append(out, p)
	}
	return out
}

// PeersForGossip returns the addresses eligible for PEERS/PEERS_V2
// advertisement: connected within RecentConnectionWindow, and local
// addresses only when advertising to a local peer (§4.6).
func (m *NetworkManager) PeersForGossip(toLocal bool) []PeerData {
	all, err := m.repo.GetAllPeers()
	if err != nil {
		m.log.Warn("gossip: repository read failed", zap.Error(err))
		return nil
	}
	now := time.Now()
	out := make([]PeerData, 0, len(all))
	for _, pd := range all {
		if !pd.hasConnected() || now.Sub(pd.LastConnected) > RecentConnectionWindow {
			continue
		}
		if pd.Address.IsLocal() && !toLocal {
			continue
		}
		out = append(out, pd)
	}
	return out
}

// --- Shutdown -----------------------------------------------------------

// Shutdown closes the listener, stops the reactor, disconnects every
// peer, and fails any pending request waiters with SHUTDOWN (§5
// "Cancellation & shutdown"). The listener close and the peer teardown
// run concurrently in an errgroup; the first error either reports is
// returned.
func (m *NetworkManager) Shutdown() error {
	var err error
	m.shutdownOnce.Do(func() {
		close(m.quit)
		m.reactor.Stop()

		g := new(errgroup.Group)
		g.Go(func() error {
			if m.listener == nil {
				return nil
			}
			return m.listener.Close()
		})
		g.Go(func() error {
			for _, p := range m.snapshotPeers() {
				p.Disconnect(newError(ErrShutdown, "subsystem shutdown"))
			}
			return nil
		})
		err = multierr.Append(err, g.Wait())
	})
	return err
}
