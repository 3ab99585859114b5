package payload

import (
	bio "github.com/meridianchain/meridian-go/pkg/io"
)

// Transaction carries a full transaction body (v1's push model). Parsing
// and validating the body is out of scope for the networking core; the
// bytes are kept opaque and handed to the Controller untouched.
type Transaction struct {
	Data []byte
}

// EncodeBinary implements io.Serializable.
func (p *Transaction) EncodeBinary(w bio.BinaryWriter) { w.WriteVarBytes(p.Data) }

// DecodeBinary implements io.Serializable.
func (p *Transaction) DecodeBinary(r bio.BinaryReader) { p.Data = r.ReadVarBytes() }

// SignatureHashSize is the length of the identifier TransactionSignatures
// uses to announce a transaction without its body.
const SignatureHashSize = 64

// TransactionSignatures announces available transactions by signature
// only (v2's pull model): the receiver requests bodies it doesn't
// already have via GetUnconfirmedTransactions.
type TransactionSignatures struct {
	Signatures [][SignatureHashSize]byte
}

// EncodeBinary implements io.Serializable.
func (p *TransactionSignatures) EncodeBinary(w bio.BinaryWriter) {
	w.WriteVarUint(uint64(len(p.Signatures)))
	for i := range p.Signatures {
		w.WriteBytes(p.Signatures[i][:])
	}
}

// DecodeBinary implements io.Serializable.
func (p *TransactionSignatures) DecodeBinary(r bio.BinaryReader) {
	n := r.ReadVarUint()
	// Capped at the same MaxArraySize limit ReadVarBytes/ReadArray apply,
	// so a remote peer's claimed count cannot size an unbounded
	// allocation. Unlike them, a larger count is not reported as an
	// error: it is truncated to MaxArraySize and decoding continues.
	if n > bio.MaxArraySize {
		n = bio.MaxArraySize
	}
	p.Signatures = make([][SignatureHashSize]byte, n)
	for i := range p.Signatures {
		r.ReadBytes(p.Signatures[i][:])
	}
}

// GetUnconfirmedTransactions requests the bodies of every unconfirmed
// transaction the peer is currently holding; it carries no fields of its
// own (v2's pull-model counterpart to v1's unsolicited Transaction push).
type GetUnconfirmedTransactions struct{}

// EncodeBinary implements io.Serializable.
func (*GetUnconfirmedTransactions) EncodeBinary(bio.BinaryWriter) {}

// DecodeBinary implements io.Serializable.
func (*GetUnconfirmedTransactions) DecodeBinary(bio.BinaryReader) {}

// Ping keeps a completed connection alive; its Message envelope carries
// the correlation id used to match the reply and compute RTT, so the
// payload itself has no fields.
type Ping struct{}

// EncodeBinary implements io.Serializable.
func (*Ping) EncodeBinary(bio.BinaryWriter) {}

// DecodeBinary implements io.Serializable.
func (*Ping) DecodeBinary(bio.BinaryReader) {}
