package network

import "go.uber.org/zap"

// LoggingController is the default Controller: it logs every lifecycle
// event and inbound message and never originates a broadcast of its own.
// A real node wires its own Controller (mempool relay, block sync, peer
// gossip) in its place; this exists so the package is runnable standalone
// and so cmd/meridiand has something concrete to start.
type LoggingController struct {
	log *zap.Logger
}

// NewLoggingController builds a LoggingController writing through log.
func NewLoggingController(log *zap.Logger) *LoggingController {
	return &LoggingController{log: log}
}

// OnPeerDisconnect implements Controller.
func (c *LoggingController) OnPeerDisconnect(p *Peer) {
	c.log.Info("peer disconnected",
		zap.String("peer", p.ID()),
		zap.Stringer("addr", p.Addr()),
		zap.Error(p.DisconnectErr()))
}

// OnPeerHandshakeCompleted implements Controller.
func (c *LoggingController) OnPeerHandshakeCompleted(p *Peer) {
	c.log.Info("peer handshake completed",
		zap.String("peer", p.ID()),
		zap.Stringer("addr", p.Addr()),
		zap.Stringer("dir", logDir{p.Direction()}),
		zap.String("remote_id", p.ShortRemoteID()))
}

// OnNetworkMessage implements Controller.
func (c *LoggingController) OnNetworkMessage(p *Peer, msg *Message) {
	c.log.Debug("network message",
		zap.String("peer", p.ID()),
		zap.Stringer("type", msg.Type),
		zap.Int("payload_len", len(msg.Payload)))
}

// DoNetworkBroadcast implements Controller. LoggingController has nothing
// of its own to gossip, so it declines every invitation by building no
// message per peer; a Controller backing a real protocol overrides this
// to advertise height, peers, or transactions.
func (c *LoggingController) DoNetworkBroadcast(broadcast func(build func(p *Peer) *Message)) {
	broadcast(func(p *Peer) *Message { return nil })
}
