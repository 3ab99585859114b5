// Package payload defines the typed bodies carried inside a network.Message:
// the handshake payloads (Version, PeerID, Proof, PeerVerify,
// VerificationCodes), the gossip payloads (Peers, PeersV2, GetPeers), and
// the chain-tip/transaction-announcement payloads (Height, HeightV2,
// Transaction, TransactionSignatures, GetUnconfirmedTransactions, Ping).
//
// Every payload implements the same EncodeBinary/DecodeBinary contract as
// the rest of the module's wire types, so the codec can serialise them
// with the same BinWriter/BinReader pair used everywhere else.
package payload

import (
	bio "github.com/meridianchain/meridian-go/pkg/io"
)

// Version is the first handshake payload exchanged by both sides: the
// numeric protocol version (1 or 2, selecting which gossip payload shapes
// are legal afterwards), a short user-agent string for diagnostics, an
// opaque service-flag bitset reserved for forward-compatible capability
// negotiation (the core itself never interprets it), and the sender's
// wall-clock time.
type Version struct {
	Version   uint32
	UserAgent string
	Services  uint64
	Timestamp int64
}

// NewVersion builds a Version payload ready to send.
func NewVersion(version uint32, userAgent string, services uint64, timestamp int64) *Version {
	return &Version{Version: version, UserAgent: userAgent, Services: services, Timestamp: timestamp}
}

// EncodeBinary implements io.Serializable.
func (p *Version) EncodeBinary(w bio.BinaryWriter) {
	w.WriteU32LE(p.Version)
	w.WriteString(p.UserAgent)
	w.WriteU64LE(p.Services)
	w.WriteU64LE(uint64(p.Timestamp))
}

// DecodeBinary implements io.Serializable.
func (p *Version) DecodeBinary(r bio.BinaryReader) {
	p.Version = r.ReadU32LE()
	p.UserAgent = r.ReadString()
	p.Services = r.ReadU64LE()
	p.Timestamp = int64(r.ReadU64LE())
}
