package network

import (
	"crypto/rand"
	"crypto/subtle"
	"time"

	"go.uber.org/zap"

	"github.com/meridianchain/meridian-go/pkg/network/payload"
)

// HandshakeStateKind is one stage of the handshake FSM (§4.4).
type HandshakeStateKind int

// The handshake stages, in the order a successful handshake passes
// through them. PeerVerify is only visited when doppelganger resolution
// is needed; every other connection goes STARTED -> VERSION -> PEER_ID ->
// PROOF -> COMPLETED.
const (
	StateStarted HandshakeStateKind = iota
	StateVersion
	StatePeerID
	StateProof
	StatePeerVerify
	StateCompleted
)

func (s HandshakeStateKind) String() string {
	switch s {
	case StateStarted:
		return "STARTED"
	case StateVersion:
		return "VERSION"
	case StatePeerID:
		return "PEER_ID"
	case StateProof:
		return "PROOF"
	case StatePeerVerify:
		return "PEER_VERIFY"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// HandshakeTimeout bounds the whole handshake from socket open (§5).
const HandshakeTimeout = 60 * time.Second

type handshakeState struct {
	state HandshakeStateKind
}

// doppelVerify is the bookkeeping NetworkManager keeps while an outbound
// peer is waiting for the matching inbound peer to prove it controls both
// connections (§4.4.1).
type doppelVerify struct {
	outbound  *Peer
	expectOnX [payload.ProofSize]byte // "Send": code the inbound leg must echo
	replyOnY  [payload.ProofSize]byte // "Expect": code we send back once it does
}

// HandshakeContext is the slice of NetworkManager state the handshake FSM
// needs but does not own: our own identity, the self-peer set, and the
// doppelganger registry. Kept as an interface so handshake.go and peer.go
// can be tested without a full NetworkManager.
type HandshakeContext interface {
	OurPeerID() [payload.PeerIDSize]byte
	UserAgent() string
	ProtocolVersion() uint32
	Services() uint64

	// MarkSelf records addr as one of our own listen addresses, so the
	// outbound selector never retries it (§4.4 "self-connect detection").
	MarkSelf(addr PeerAddress)

	// FindInboundByPeerID returns a still-handshaking or completed inbound
	// peer that has already claimed id, if any (§4.4.1 step 1).
	FindInboundByPeerID(id [payload.PeerIDSize]byte) (*Peer, bool)

	// RegisterDoppelVerify records that outbound peer y expects expectOnX
	// to arrive as a PEER_VERIFY on whatever inbound peer claims id, and
	// will reply with replyOnY once it does.
	RegisterDoppelVerify(id [payload.PeerIDSize]byte, y *Peer, expectOnX, replyOnY [payload.ProofSize]byte)

	// ResolveDoppelVerify looks up (and removes) the pending verification
	// for id, if any.
	ResolveDoppelVerify(id [payload.PeerIDSize]byte) (*doppelVerify, bool)

	// OnHandshakeCompleted is invoked exactly once, the instant a peer's
	// state first reaches COMPLETED.
	OnHandshakeCompleted(p *Peer)
}

// StartOutbound kicks off the asymmetric handshake on a freshly dialed
// connection: the outbound side always sends before waiting (§4.4
// "Asymmetry rule").
func (p *Peer) StartOutbound() error {
	p.dir.check(Outbound)
	v := payload.NewVersion(p.ctx.ProtocolVersion(), p.ctx.UserAgent(), p.ctx.Services(), time.Now().Unix())
	body, err := EncodePayload(v)
	if err != nil {
		return err
	}
	p.hs.state = StateVersion
	return p.Send(&Message{Magic: p.magic, Type: TypeVersion, Payload: body})
}

// check panics on a direction mismatch; used only to catch programming
// errors (calling the outbound-only entry point on an inbound peer).
func (d Direction) check(want Direction) {
	if d != want {
		panic("network: handshake entry point called on wrong peer direction")
	}
}

// driveHandshake feeds one decoded message through the FSM. It implements
// the transition table of §4.4, keyed on (state, message, direction): no
// inheritance, one switch per stage. Each step updates the peer's state
// and sends its replies directly.
func (p *Peer) driveHandshake(msg *Message) error {
	// A PEER_VERIFY can legitimately arrive on a peer sitting in PROOF
	// (it is the "real" doppelganger leg proving itself, per §4.4.1 step
	// 3) as well as on one already raised to PEER_VERIFY by our own
	// outbound detection, so it is checked before the per-state switch.
	if msg.Type == TypePeerVerify {
		return p.handlePeerVerify(msg)
	}

	switch p.hs.state {
	case StateStarted:
		return p.onStarted(msg)
	case StateVersion:
		return p.onVersion(msg)
	case StatePeerID:
		return p.onPeerID(msg)
	case StateProof:
		return p.onProof(msg)
	case StatePeerVerify:
		return newError(ErrHandshake, "unexpected %s while awaiting PEER_VERIFY", msg.Type)
	default:
		return newError(ErrHandshake, "unexpected %s in state COMPLETED", msg.Type)
	}
}

func (p *Peer) onStarted(msg *Message) error {
	if p.dir == Outbound {
		// The outbound side already sent VERSION in StartOutbound and
		// moved itself to StateVersion; seeing STARTED here on an
		// outbound peer would mean StartOutbound was never called.
		return newError(ErrHandshake, "outbound peer received %s before sending VERSION", msg.Type)
	}
	if msg.Type != TypeVersion {
		return newError(ErrHandshake, "expected VERSION, got %s", msg.Type)
	}
	v, _, err := DecodePayload(msg)
	if err != nil {
		return err
	}
	ver := v.(*payload.Version)
	p.remoteVersion = ver.Version

	reply := payload.NewVersion(p.ctx.ProtocolVersion(), p.ctx.UserAgent(), p.ctx.Services(), time.Now().Unix())
	body, err := EncodePayload(reply)
	if err != nil {
		return err
	}
	if err := p.Send(&Message{Magic: p.magic, Type: TypeVersion, Payload: body}); err != nil {
		return err
	}

	// The inbound side never receives a second VERSION to drive it out of
	// this state: its one STARTED step both answers the outbound side's
	// VERSION and sends its own PEER_ID, landing one step behind the
	// outbound side exactly as the asymmetry rule in §4.4 intends.
	return p.sendOurPeerID()
}

func (p *Peer) onVersion(msg *Message) error {
	if msg.Type != TypeVersion {
		return newError(ErrHandshake, "expected VERSION, got %s", msg.Type)
	}
	v, _, err := DecodePayload(msg)
	if err != nil {
		return err
	}
	ver := v.(*payload.Version)
	p.remoteVersion = ver.Version

	return p.sendOurPeerID()
}

// sendOurPeerID sends our PEER_ID and advances to StatePeerID. Both the
// outbound side (from onVersion) and the inbound side (from onStarted,
// which has no separate VERSION message of its own to trigger on) reach
// StatePeerID this way.
func (p *Peer) sendOurPeerID() error {
	id := p.ctx.OurPeerID()
	body, err := EncodePayload(&payload.PeerID{ID: id})
	if err != nil {
		return err
	}
	p.hs.state = StatePeerID
	return p.Send(&Message{Magic: p.magic, Type: TypePeerID, Payload: body})
}

func (p *Peer) onPeerID(msg *Message) error {
	if msg.Type != TypePeerID {
		return newError(ErrHandshake, "expected PEER_ID, got %s", msg.Type)
	}
	v, _, err := DecodePayload(msg)
	if err != nil {
		return err
	}
	pid := v.(*payload.PeerID)
	p.remotePeerID = pid.ID
	p.havePeerID = true

	if subtle.ConstantTimeCompare(p.remotePeerID[:], sliceOf(p.ctx.OurPeerID())) == 1 {
		p.ctx.MarkSelf(p.addr)
		p.Disconnect(newError(ErrHandshake, "self-connect detected from %s", p.addr))
		return nil
	}

	if p.dir == Outbound {
		if x, ok := p.ctx.FindInboundByPeerID(p.remotePeerID); ok && x != p {
			return p.startDoppelVerify()
		}
	}
	return p.startProof()
}

func sliceOf(b [payload.PeerIDSize]byte) []byte { return b[:] }

// startProof sends (outbound) or arms the wait for (inbound) the PROOF
// stage. The outbound side drives: it sends its challenge first. There is
// no cryptographic key material in this subsystem (§1 Non-goals); PROOF
// exists to prove liveness/freshness of the connection, not identity —
// identity is established by the peer id exchanged in PEER_ID.
func (p *Peer) startProof() error {
	p.hs.state = StateProof
	if p.dir != Outbound {
		return nil // inbound mirrors: wait for the outbound side's PROOF
	}
	if _, err := rand.Read(p.ourChallenge[:]); err != nil {
		return newError(ErrIO, "generating proof challenge: %w", err)
	}
	body, err := EncodePayload(&payload.Proof{Code: p.ourChallenge})
	if err != nil {
		return err
	}
	return p.Send(&Message{Magic: p.magic, Type: TypeProof, Payload: body})
}

func (p *Peer) onProof(msg *Message) error {
	if msg.Type != TypeProof {
		return newError(ErrHandshake, "expected PROOF, got %s", msg.Type)
	}
	if _, _, err := DecodePayload(msg); err != nil {
		return err
	}
	if p.dir == Outbound {
		// We already sent ours on entering PROOF; the inbound side's
		// reply completes the exchange.
		return p.complete()
	}
	// Inbound: this is the outbound side's challenge; send ours back and
	// complete immediately (§4.4 table: inbound "verify, send our PROOF").
	var resp [payload.ProofSize]byte
	if _, err := rand.Read(resp[:]); err != nil {
		return newError(ErrIO, "generating proof response: %w", err)
	}
	body, err := EncodePayload(&payload.Proof{Code: resp})
	if err != nil {
		return err
	}
	if err := p.Send(&Message{Magic: p.magic, Type: TypeProof, Payload: body}); err != nil {
		return err
	}
	return p.complete()
}

func (p *Peer) complete() error {
	p.hs.state = StateCompleted
	p.connectedAt = time.Now()
	p.scheduleNextPing()
	if p.ctx != nil {
		p.ctx.OnHandshakeCompleted(p)
	}
	if p.log != nil {
		p.log.Info("handshake completed",
			zap.String("peer", p.id),
			zap.Stringer("addr", p.addr),
			zap.Stringer("dir", logDir{p.dir}),
			zap.Uint32("version", p.remoteVersion))
	}
	return nil
}

type logDir struct{ d Direction }

func (l logDir) String() string { return l.d.String() }

// startDoppelVerify is entered only on the outbound leg (§4.4.1 step 1):
// an inbound peer already claims our remote's id, so instead of
// continuing to PROOF we raise a challenge over this (outbound) channel
// and wait for the genuine remote to prove it controls the inbound leg
// too.
func (p *Peer) startDoppelVerify() error {
	var expectOnX, replyOnY [payload.ProofSize]byte
	if _, err := rand.Read(expectOnX[:]); err != nil {
		return newError(ErrIO, "generating verification code: %w", err)
	}
	if _, err := rand.Read(replyOnY[:]); err != nil {
		return newError(ErrIO, "generating verification code: %w", err)
	}
	p.pendingPeerID = p.remotePeerID
	p.havePending = true
	p.hs.state = StatePeerVerify
	p.ctx.RegisterDoppelVerify(p.remotePeerID, p, expectOnX, replyOnY)

	body, err := EncodePayload(&payload.VerificationCodes{Send: expectOnX, Expect: replyOnY})
	if err != nil {
		return err
	}
	return p.Send(&Message{Magic: p.magic, Type: TypeVerificationCodes, Payload: body})
}

// handlePeerVerify resolves a PEER_VERIFY arriving on the inbound leg of a
// doppelganger pair (§4.4.1 steps 3-4): it proves the remote controls
// both connections by echoing the code we sent over the outbound leg.
func (p *Peer) handlePeerVerify(msg *Message) error {
	v, _, err := DecodePayload(msg)
	if err != nil {
		return err
	}
	pv := v.(*payload.PeerVerify)

	id := p.remotePeerID
	if !p.havePeerID {
		return newError(ErrHandshake, "PEER_VERIFY before PEER_ID")
	}
	dv, ok := p.ctx.ResolveDoppelVerify(id)
	if !ok {
		return newError(ErrHandshake, "unexpected PEER_VERIFY, no pending verification for peer")
	}
	if subtle.ConstantTimeCompare(pv.Code[:], dv.expectOnX[:]) != 1 {
		p.Disconnect(newError(ErrHandshake, "doppelganger verification code mismatch"))
		dv.outbound.Disconnect(newError(ErrHandshake, "doppelganger verification code mismatch"))
		return nil
	}
	if err := p.complete(); err != nil {
		return err
	}
	body, err := EncodePayload(&payload.PeerVerify{Code: dv.replyOnY})
	if err != nil {
		return err
	}
	if err := dv.outbound.Send(&Message{Magic: dv.outbound.magic, Type: TypePeerVerify, Payload: body}); err != nil {
		return err
	}
	return dv.outbound.complete()
}
