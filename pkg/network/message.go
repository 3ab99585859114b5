package network

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Magic identifies the network a frame belongs to, the first line of
// defense against cross-network cross-talk.
type Magic uint32

// The two recognised networks.
const (
	MagicMainNet Magic = 0x514F5254
	MagicTestNet Magic = 0x716F7254
)

func (m Magic) String() string {
	switch m {
	case MagicMainNet:
		return "MainNet"
	case MagicTestNet:
		return "TestNet"
	default:
		return fmt.Sprintf("Magic(%08x)", uint32(m))
	}
}

// MessageType is the wire type code carried in every frame header.
type MessageType uint32

// The recognised message types (§4.2's minimum set). Any other code is an
// opaque, controller-level type: the codec frames and delivers it without
// understanding its payload.
const (
	TypePing MessageType = iota + 1
	TypePeerID
	TypeVersion
	TypeProof
	TypePeers
	TypePeersV2
	TypeGetPeers
	TypeHeight
	TypeHeightV2
	TypeTransaction
	TypeTransactionSignatures
	TypeGetUnconfirmedTransactions
	TypePeerVerify
	TypeVerificationCodes
)

var typeNames = map[MessageType]string{
	TypePing:                       "PING",
	TypePeerID:                     "PEER_ID",
	TypeVersion:                    "VERSION",
	TypeProof:                      "PROOF",
	TypePeers:                      "PEERS",
	TypePeersV2:                    "PEERS_V2",
	TypeGetPeers:                   "GET_PEERS",
	TypeHeight:                     "HEIGHT",
	TypeHeightV2:                   "HEIGHT_V2",
	TypeTransaction:                "TRANSACTION",
	TypeTransactionSignatures:      "TRANSACTION_SIGNATURES",
	TypeGetUnconfirmedTransactions: "GET_UNCONFIRMED_TRANSACTIONS",
	TypePeerVerify:                 "PEER_VERIFY",
	TypeVerificationCodes:          "VERIFICATION_CODES",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint32(t))
}

// Message is a decoded wire frame: a typed, optionally reply-correlated
// envelope carrying an opaque payload. Recognised handshake/gossip types
// are further parsed into a payload.* struct by DecodePayload; any other
// type code is passed through to the Controller as raw bytes.
type Message struct {
	Magic   Magic
	Type    MessageType
	ID      int32
	Payload []byte
}

const (
	headerSize   = 4 + 4 + 4 + 4 // magic + type + id + length
	checksumSize = 4
)

func checksum(payload []byte) [4]byte {
	sum := sha256.Sum256(payload)
	var out [4]byte
	copy(out[:], sum[:4])
	return out
}

// Encode produces a complete frame, or fails with ErrProtocol if the
// payload exceeds maxSize. Encoding never depends on connection state.
func (m *Message) Encode(maxSize uint32) ([]byte, error) {
	if uint32(len(m.Payload)) > maxSize {
		return nil, newError(ErrProtocol, "payload %d exceeds max message size %d", len(m.Payload), maxSize)
	}
	buf := make([]byte, headerSize, headerSize+checksumSize+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Magic))
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.Type))
	binary.BigEndian.PutUint32(buf[8:12], uint32(m.ID))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(m.Payload)))
	if len(m.Payload) > 0 {
		sum := checksum(m.Payload)
		buf = append(buf, sum[:]...)
		buf = append(buf, m.Payload...)
	}
	return buf, nil
}

// Decoder incrementally reconstructs frames from a byte stream that may
// arrive split across arbitrary boundaries: Feed can be handed any chunk
// size and returns every frame it can fully assemble, buffering whatever
// remains for the next call. A malformed frame (bad magic, oversize, bad
// checksum) is reported immediately and the caller should disconnect; a
// frame that is merely incomplete is not an error — Feed returns whatever
// full messages it found and waits for more data next time.
type Decoder struct {
	magic   Magic
	maxSize uint32
	buf     []byte
}

// NewDecoder creates a Decoder that only accepts frames for magic and
// rejects any payload over maxSize before allocating it.
func NewDecoder(magic Magic, maxSize uint32) *Decoder {
	return &Decoder{magic: magic, maxSize: maxSize}
}

// Feed appends data to the internal buffer and extracts as many complete
// messages as are available.
func (d *Decoder) Feed(data []byte) ([]*Message, error) {
	d.buf = append(d.buf, data...)
	var out []*Message
	for {
		if len(d.buf) < headerSize {
			return out, nil
		}
		magic := Magic(binary.BigEndian.Uint32(d.buf[0:4]))
		if magic != d.magic {
			return out, newError(ErrProtocol, "bad magic %s (want %s)", magic, d.magic)
		}
		typ := MessageType(binary.BigEndian.Uint32(d.buf[4:8]))
		id := int32(binary.BigEndian.Uint32(d.buf[8:12]))
		length := binary.BigEndian.Uint32(d.buf[12:16])
		if length > d.maxSize {
			return out, newError(ErrProtocol, "oversize message %d > %d for %s", length, d.maxSize, typ)
		}

		frameLen := headerSize
		if length > 0 {
			frameLen += checksumSize
		}
		frameLen += int(length)
		if len(d.buf) < frameLen {
			return out, nil
		}

		var payload []byte
		if length > 0 {
			var want [4]byte
			copy(want[:], d.buf[headerSize:headerSize+checksumSize])
			payload = make([]byte, length)
			copy(payload, d.buf[headerSize+checksumSize:frameLen])
			if got := checksum(payload); got != want {
				return out, newError(ErrProtocol, "bad checksum for %s", typ)
			}
		}

		out = append(out, &Message{Magic: magic, Type: typ, ID: id, Payload: payload})
		d.buf = d.buf[frameLen:]
	}
}
