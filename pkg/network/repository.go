package network

import "time"

// PeerData is the persisted record a Repository owns for one address: when
// we first heard of it, when we last tried and last succeeded connecting to
// it, and who told us about it. Invariants: FirstSeen <= LastAttempted when
// both are set, and LastConnected <= LastAttempted when both are set.
type PeerData struct {
	Address       PeerAddress
	FirstSeen     time.Time
	LastAttempted time.Time
	LastConnected time.Time
	AddedBy       string
}

// hasAttempted reports whether this record has ever been the target of a
// connect attempt.
func (p PeerData) hasAttempted() bool { return !p.LastAttempted.IsZero() }

// hasConnected reports whether this record has ever completed a handshake.
func (p PeerData) hasConnected() bool { return !p.LastConnected.IsZero() }

// Repository is the narrow external persistence interface this package
// consumes (§6): durable storage of known peer addresses. Implementations
// live outside this package; the networking core never opens its own
// database.
type Repository interface {
	// GetAllPeers returns every persisted peer record.
	GetAllPeers() ([]PeerData, error)
	// Save inserts or updates a peer record.
	Save(PeerData) error
	// Delete removes the record for addr, if any, and reports how many
	// rows were removed (0 or 1).
	Delete(PeerAddress) (int, error)
	// DeleteAll removes every persisted peer record and reports how many
	// rows were removed.
	DeleteAll() (int, error)
	// SaveChanges commits any buffered writes.
	SaveChanges() error
	// DiscardChanges drops any buffered writes.
	DiscardChanges() error
}

// TryRepository is implemented by a Repository that can hand back a
// non-blocking handle to itself: Try returns ok=false instead of blocking
// when the underlying store is contended. Several opportunistic paths
// (pruning, merging, broadcasts) depend on this contract to avoid priority
// inversions — see §5 and §9 "Opportunistic persistence".
type TryRepository interface {
	Repository
	// Try returns a Repository handle usable without blocking, or
	// ok=false if the store is currently contended.
	Try() (repo Repository, ok bool)
}

// Controller is the narrow external interface this package drives inbound
// messages into and accepts outbound broadcasts from (§6). Implementations
// live outside this package.
type Controller interface {
	// OnPeerDisconnect is called once a peer's socket has closed, after
	// it has been removed from the connected set.
	OnPeerDisconnect(p *Peer)
	// OnPeerHandshakeCompleted is called exactly once per peer, the
	// first time its handshake reaches COMPLETED.
	OnPeerHandshakeCompleted(p *Peer)
	// OnNetworkMessage is called for every message delivered after
	// handshake completion; msg.Type is not one recognised by the codec
	// unless DecodePayload returned a typed payload.
	OnNetworkMessage(p *Peer, msg *Message)
	// DoNetworkBroadcast is invited, once per broadcast interval, to build
	// and send whatever it wishes: it is handed NetworkManager.Broadcast
	// itself and calls it with its own per-peer build function.
	DoNetworkBroadcast(broadcast func(build func(p *Peer) *Message))
}

// Clock is the narrow wall-clock interface this package consumes. Now
// returns the zero time.Time and ok=false when time is not (yet) known to
// be synchronised; most scheduled actions no-op in that case rather than
// act on a clock they can't trust.
type Clock interface {
	Now() (now time.Time, ok bool)
}

// SystemClock is a Clock backed directly by time.Now, always synced. It is
// a convenience for callers that don't need NTP-verified time (most tests,
// and any deployment without a dedicated time service).
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() (time.Time, bool) { return time.Now(), true }
