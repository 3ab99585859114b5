package network

import (
	bio "github.com/meridianchain/meridian-go/pkg/io"
	"github.com/meridianchain/meridian-go/pkg/network/payload"
)

// newPayload returns a zero-valued payload struct for t, or nil if t is
// not one of the recognised types (an opaque controller-level message,
// which the codec passes through as raw bytes instead).
func newPayload(t MessageType) bio.Serializable {
	switch t {
	case TypePing:
		return &payload.Ping{}
	case TypePeerID:
		return &payload.PeerID{}
	case TypeVersion:
		return &payload.Version{}
	case TypeProof:
		return &payload.Proof{}
	case TypePeers:
		return &payload.Peers{}
	case TypePeersV2:
		return &payload.PeersV2{}
	case TypeGetPeers:
		return &payload.GetPeers{}
	case TypeHeight:
		return &payload.Height{}
	case TypeHeightV2:
		return &payload.HeightV2{}
	case TypeTransaction:
		return &payload.Transaction{}
	case TypeTransactionSignatures:
		return &payload.TransactionSignatures{}
	case TypeGetUnconfirmedTransactions:
		return &payload.GetUnconfirmedTransactions{}
	case TypePeerVerify:
		return &payload.PeerVerify{}
	case TypeVerificationCodes:
		return &payload.VerificationCodes{}
	default:
		return nil
	}
}

// DecodePayload parses m's raw bytes into its typed payload struct. It
// returns (nil, false) for an opaque, non-recognised type — the caller is
// expected to hand the raw Message to the Controller in that case, not
// treat it as an error (the wire format deliberately carries
// controller-level types the codec itself doesn't understand).
func DecodePayload(m *Message) (bio.Serializable, bool, error) {
	p := newPayload(m.Type)
	if p == nil {
		return nil, false, nil
	}
	r := bio.NewBinReaderFromBuf(m.Payload)
	p.DecodeBinary(r)
	if r.Err != nil {
		return nil, true, newError(ErrProtocol, "bad payload for %s: %w", m.Type, r.Err)
	}
	return p, true, nil
}

// EncodePayload serialises p into the raw bytes a Message carries.
func EncodePayload(p bio.Serializable) ([]byte, error) {
	w := bio.NewBufBinWriter()
	p.EncodeBinary(w)
	if err := w.Error(); err != nil {
		return nil, newError(ErrProtocol, "encode failed: %w", err)
	}
	return w.Bytes(), nil
}
