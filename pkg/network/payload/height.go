package payload

import (
	bio "github.com/meridianchain/meridian-go/pkg/io"
)

// Height is the v1 chain-tip announcement: height only.
type Height struct {
	Height uint32
}

// EncodeBinary implements io.Serializable.
func (p *Height) EncodeBinary(w bio.BinaryWriter) { w.WriteU32LE(p.Height) }

// DecodeBinary implements io.Serializable.
func (p *Height) DecodeBinary(r bio.BinaryReader) { p.Height = r.ReadU32LE() }

// SignatureSize and MinterPubKeySize size HeightV2's proof-of-minting
// fields; the signature scheme itself is out of scope here (the core
// treats both as opaque bytes and never verifies them).
const (
	SignatureSize    = 64
	MinterPubKeySize = 32
)

// HeightV2 is the v2 chain-tip announcement: height plus enough for the
// receiver to verify which minter produced it without fetching the block.
type HeightV2 struct {
	Height       uint32
	Signature    [SignatureSize]byte
	Timestamp    int64
	MinterPubKey [MinterPubKeySize]byte
}

// EncodeBinary implements io.Serializable.
func (p *HeightV2) EncodeBinary(w bio.BinaryWriter) {
	w.WriteU32LE(p.Height)
	w.WriteBytes(p.Signature[:])
	w.WriteU64LE(uint64(p.Timestamp))
	w.WriteBytes(p.MinterPubKey[:])
}

// DecodeBinary implements io.Serializable.
func (p *HeightV2) DecodeBinary(r bio.BinaryReader) {
	p.Height = r.ReadU32LE()
	r.ReadBytes(p.Signature[:])
	p.Timestamp = int64(r.ReadU64LE())
	r.ReadBytes(p.MinterPubKey[:])
}
