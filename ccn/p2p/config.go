package p2p

// Config options for the p2p service.
type Config struct {
	Host           string   // IP to listen on.
	TCPPort        uint     // TCP port to listen on.
	PrivateKeyPath string   // Path of the persisted node identity key.
	BootstrapPeers []string // Multiaddrs dialed at startup.
	MaxMessageSize int      // Upper bound of a gossip message in bytes.
}
