package payload

import (
	bio "github.com/meridianchain/meridian-go/pkg/io"
)

// PeerIDSize is the fixed length of a node's random identifier (see
// GLOSSARY "Peer ID"): 128 bytes, not tied to any cryptographic key.
const PeerIDSize = 128

// ProofSize is the fixed length of a handshake challenge/response and of
// a doppelganger verification code.
const ProofSize = 32

// PeerID carries a node's 128-byte identifier during the PEER_ID stage of
// the handshake.
type PeerID struct {
	ID [PeerIDSize]byte
}

// EncodeBinary implements io.Serializable.
func (p *PeerID) EncodeBinary(w bio.BinaryWriter) { w.WriteBytes(p.ID[:]) }

// DecodeBinary implements io.Serializable.
func (p *PeerID) DecodeBinary(r bio.BinaryReader) { r.ReadBytes(p.ID[:]) }

// Proof carries the 32-byte challenge/response exchanged during the PROOF
// stage of the handshake.
type Proof struct {
	Code [ProofSize]byte
}

// EncodeBinary implements io.Serializable.
func (p *Proof) EncodeBinary(w bio.BinaryWriter) { w.WriteBytes(p.Code[:]) }

// DecodeBinary implements io.Serializable.
func (p *Proof) DecodeBinary(r bio.BinaryReader) { r.ReadBytes(p.Code[:]) }

// PeerVerify carries a single 32-byte code during doppelganger
// verification: the suspected-real node proves it controls both
// connections by echoing the code it was sent over the other one.
type PeerVerify struct {
	Code [ProofSize]byte
}

// EncodeBinary implements io.Serializable.
func (p *PeerVerify) EncodeBinary(w bio.BinaryWriter) { w.WriteBytes(p.Code[:]) }

// DecodeBinary implements io.Serializable.
func (p *PeerVerify) DecodeBinary(r bio.BinaryReader) { r.ReadBytes(p.Code[:]) }

// VerificationCodes is sent by the ambiguous outbound side to kick off
// doppelganger resolution: Send is the code it expects to see echoed back
// over the peer's inbound connection to us, Expect is the code we will
// echo back over this (outbound) connection once that happens.
type VerificationCodes struct {
	Send   [ProofSize]byte
	Expect [ProofSize]byte
}

// EncodeBinary implements io.Serializable.
func (p *VerificationCodes) EncodeBinary(w bio.BinaryWriter) {
	w.WriteBytes(p.Send[:])
	w.WriteBytes(p.Expect[:])
}

// DecodeBinary implements io.Serializable.
func (p *VerificationCodes) DecodeBinary(r bio.BinaryReader) {
	r.ReadBytes(p.Send[:])
	r.ReadBytes(p.Expect[:])
}
