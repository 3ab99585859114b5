package payload

import (
	bio "github.com/meridianchain/meridian-go/pkg/io"
)

// AddressV1 is a bare IPv4 address: v1 PEERS entries carry no port, since
// v1 peers are assumed to listen on the network's single well-known port.
type AddressV1 struct {
	IPv4 [4]byte
}

// EncodeBinary implements io.Serializable.
func (a AddressV1) EncodeBinary(w bio.BinaryWriter) { w.WriteBytes(a.IPv4[:]) }

// DecodeBinary implements io.Serializable.
func (a *AddressV1) DecodeBinary(r bio.BinaryReader) { r.ReadBytes(a.IPv4[:]) }

// Peers is the v1 gossip payload: a plain list of IPv4-only addresses,
// advertised per the NetworkManager's recency and locality rules.
type Peers struct {
	Addresses []AddressV1
}

// EncodeBinary implements io.Serializable.
func (p *Peers) EncodeBinary(w bio.BinaryWriter) { w.WriteArray(p.Addresses) }

// DecodeBinary implements io.Serializable.
func (p *Peers) DecodeBinary(r bio.BinaryReader) { r.ReadArray(&p.Addresses) }

// AddressV2 is a host (IPv4, IPv6, or hostname literal) plus an explicit
// port, the v2 gossip entry shape.
type AddressV2 struct {
	Host string
	Port uint16
}

// EncodeBinary implements io.Serializable.
func (a AddressV2) EncodeBinary(w bio.BinaryWriter) {
	w.WriteString(a.Host)
	w.WriteU16LE(a.Port)
}

// DecodeBinary implements io.Serializable.
func (a *AddressV2) DecodeBinary(r bio.BinaryReader) {
	a.Host = r.ReadString()
	a.Port = r.ReadU16LE()
}

// PeersV2 is the v2 gossip payload: addresses carry an explicit port and
// may be IPv4, IPv6, or a hostname.
type PeersV2 struct {
	Addresses []AddressV2
}

// EncodeBinary implements io.Serializable.
func (p *PeersV2) EncodeBinary(w bio.BinaryWriter) { w.WriteArray(p.Addresses) }

// DecodeBinary implements io.Serializable.
func (p *PeersV2) DecodeBinary(r bio.BinaryReader) { r.ReadArray(&p.Addresses) }

// GetPeers requests a PEERS (or PEERS_V2) reply; it carries no fields of
// its own.
type GetPeers struct{}

// EncodeBinary implements io.Serializable.
func (*GetPeers) EncodeBinary(bio.BinaryWriter) {}

// DecodeBinary implements io.Serializable.
func (*GetPeers) DecodeBinary(bio.BinaryReader) {}
