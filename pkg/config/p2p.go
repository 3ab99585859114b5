package config

import "time"

// P2P holds P2P node settings (§6 Configuration). Addresses lists the
// peers to seed the repository with on first start; ListenPort,
// BindAddress, MinOutboundPeers, MaxPeers and MaxMessageSize bound the
// NetworkManager's listener and outbound behavior. DialTimeout,
// PingInterval and PingTimeout are parsed but not passed to the
// NetworkManager, which uses its own fixed ConnectTimeout, PingInterval
// and PingTimeout.
type P2P struct {
	// Addresses stores the initial peer address list in the form of
	// "host:port".
	Addresses []string `yaml:"Addresses"`
	// ListenPort is the TCP port this node accepts inbound connections on.
	ListenPort uint16 `yaml:"ListenPort"`
	// BindAddress is the local address the listener binds to; empty
	// binds all interfaces.
	BindAddress string `yaml:"BindAddress"`
	// MinOutboundPeers is the outbound connection count the connect
	// selector tries to maintain.
	MinOutboundPeers int `yaml:"MinOutboundPeers"`
	// MaxPeers caps the total connected set, inbound and outbound.
	MaxPeers int `yaml:"MaxPeers"`
	// MaxMessageSize bounds a single frame's payload; 0 means the
	// package default (16 MiB).
	MaxMessageSize uint32 `yaml:"MaxMessageSize"`
	// DialTimeout is a per-attempt outbound connect timeout; see the type
	// comment for its current use.
	DialTimeout time.Duration `yaml:"DialTimeout"`
	PingInterval time.Duration `yaml:"PingInterval"`
	PingTimeout  time.Duration `yaml:"PingTimeout"`
}
