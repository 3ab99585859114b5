package network

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianchain/meridian-go/pkg/network/payload"
)

// TestDoppelgangerVerification reproduces the literal scenario: inbound
// peer X and outbound peer Y both claim peer id K. Y raises PEER_VERIFY
// and sends VERIFICATION_CODES{c_send=0x01...01, c_expect=0x02...02}; X
// echoes c_send back as PEER_VERIFY; Y replies with c_expect; both peers
// reach COMPLETED.
func TestDoppelgangerVerification(t *testing.T) {
	mgr, err := NewNetworkManager(Config{MaxPeers: 10, MinOutboundPeers: 1}, NewMemoryRepository(), NewLoggingController(zap.NewNop()), SystemClock{}, nil)
	require.NoError(t, err)

	var k [payload.PeerIDSize]byte
	for i := range k {
		k[i] = 0xAB
	}
	k[len(k)-1] |= 1

	xConn, _ := net.Pipe()
	x := NewPeer(xConn, Inbound, NewPeerAddress("x", 1), MagicMainNet, testMaxSize, mgr, nil)
	x.remotePeerID = k
	x.havePeerID = true
	mgr.addPeer(x)

	yServerConn, yRemoteConn := net.Pipe()
	y := NewPeer(yServerConn, Outbound, NewPeerAddress("y", 1), MagicMainNet, testMaxSize, mgr, nil)
	mgr.addPeer(y)

	yReceived := make(chan *Message, 1)
	go func() {
		dec := NewDecoder(MagicMainNet, testMaxSize)
		buf := make([]byte, 4096)
		for {
			n, err := yRemoteConn.Read(buf)
			if err != nil {
				return
			}
			msgs, derr := dec.Feed(buf[:n])
			if derr != nil {
				return
			}
			for _, m := range msgs {
				yReceived <- m
			}
		}
	}()

	var cSend, cExpect [payload.ProofSize]byte
	for i := range cSend {
		cSend[i] = 0x01
		cExpect[i] = 0x02
	}
	y.pendingPeerID = k
	y.havePending = true
	y.hs.state = StatePeerVerify
	mgr.RegisterDoppelVerify(k, y, cSend, cExpect)

	body, err := EncodePayload(&payload.PeerVerify{Code: cSend})
	require.NoError(t, err)
	require.NoError(t, x.driveHandshake(&Message{Magic: MagicMainNet, Type: TypePeerVerify, Payload: body}))

	require.True(t, x.Handshaked())
	require.True(t, y.Handshaked())

	msg := <-yReceived
	require.Equal(t, TypePeerVerify, msg.Type)
	v, _, err := DecodePayload(msg)
	require.NoError(t, err)
	require.Equal(t, cExpect, v.(*payload.PeerVerify).Code)
}

// TestDoppelgangerVerificationMismatchDisconnectsBoth exercises the
// failure branch: X echoes the wrong code, so both X and Y are torn down
// rather than completed.
func TestDoppelgangerVerificationMismatchDisconnectsBoth(t *testing.T) {
	mgr, err := NewNetworkManager(Config{MaxPeers: 10, MinOutboundPeers: 1}, NewMemoryRepository(), NewLoggingController(zap.NewNop()), SystemClock{}, nil)
	require.NoError(t, err)

	var k [payload.PeerIDSize]byte
	for i := range k {
		k[i] = 0xCD
	}
	k[len(k)-1] |= 1

	xConn, _ := net.Pipe()
	x := NewPeer(xConn, Inbound, NewPeerAddress("x", 1), MagicMainNet, testMaxSize, mgr, nil)
	x.remotePeerID = k
	x.havePeerID = true
	mgr.addPeer(x)

	yConn, yRemote := net.Pipe()
	y := NewPeer(yConn, Outbound, NewPeerAddress("y", 1), MagicMainNet, testMaxSize, mgr, nil)
	mgr.addPeer(y)
	go connDrain(yRemote)

	var cSend, cExpect, wrong [payload.ProofSize]byte
	for i := range cSend {
		cSend[i] = 0x01
		cExpect[i] = 0x02
		wrong[i] = 0xFF
	}
	y.pendingPeerID = k
	y.havePending = true
	y.hs.state = StatePeerVerify
	mgr.RegisterDoppelVerify(k, y, cSend, cExpect)

	body, err := EncodePayload(&payload.PeerVerify{Code: wrong})
	require.NoError(t, err)
	require.NoError(t, x.driveHandshake(&Message{Magic: MagicMainNet, Type: TypePeerVerify, Payload: body}))

	require.True(t, x.Closed())
	require.True(t, y.Closed())
}

func connDrain(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
