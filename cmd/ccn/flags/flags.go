// Package flags defines the command line options of the core channel node.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// DataDirFlag is the root directory of the node database and object store.
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory of the node databases",
		Value: "ccn-data",
	}
	// ClearDB removes every database before starting.
	ClearDB = &cli.BoolFlag{
		Name:  "clear-db",
		Usage: "Clears any previously stored data at the data directory",
	}
	// VerbosityFlag sets the logging level.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error, fatal, panic)",
		Value: "info",
	}
	// MonitoringHostFlag is the host of the prometheus endpoint.
	MonitoringHostFlag = &cli.StringFlag{
		Name:  "monitoring-host",
		Usage: "Host used for listening and responding to metrics requests",
		Value: "127.0.0.1",
	}
	// MonitoringPortFlag is the port of the prometheus endpoint.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port used for listening and responding to metrics requests",
		Value: 4024,
	}
	// DisableMonitoringFlag disables the prometheus endpoint.
	DisableMonitoringFlag = &cli.BoolFlag{
		Name:  "disable-monitoring",
		Usage: "Disables the prometheus metrics service",
	}
	// P2PHost is the IP the libp2p host listens on.
	P2PHost = &cli.StringFlag{
		Name:  "p2p-host-ip",
		Usage: "The IP address the p2p host listens on",
		Value: "0.0.0.0",
	}
	// P2PTCPPort is the TCP port of the libp2p host.
	P2PTCPPort = &cli.UintFlag{
		Name:  "p2p-tcp-port",
		Usage: "The TCP port used by libp2p",
		Value: 4025,
	}
	// P2PKeyFile is the path of the persisted node identity key.
	P2PKeyFile = &cli.StringFlag{
		Name:  "p2p-priv-key",
		Usage: "Path of the file containing the private key of the libp2p host, generated on first start",
	}
	// BootstrapPeers are the multiaddrs dialed at startup.
	BootstrapPeers = &cli.StringSliceFlag{
		Name:  "peer",
		Usage: "Connect with this peer. This flag may be used multiple times",
	}
	// MessageTopicFlag overrides the gossip topic carrying messages.
	MessageTopicFlag = &cli.StringFlag{
		Name:  "message-topic",
		Usage: "The gossipsub topic carrying aleph messages",
	}
	// IPFSAPIFlag is the address of the IPFS daemon API.
	IPFSAPIFlag = &cli.StringFlag{
		Name:  "ipfs-api",
		Usage: "Address of the IPFS daemon HTTP API",
	}
	// ChainConfigFileFlag points at a yaml file listing the chain indexers.
	ChainConfigFileFlag = &cli.StringFlag{
		Name:  "chain-config-file",
		Usage: "Path to a YAML file listing the chain indexer endpoints",
	}
	// TrustedBalanceSenders are addresses whose balances-update posts are applied.
	TrustedBalanceSenders = &cli.StringSliceFlag{
		Name:  "trusted-balance-sender",
		Usage: "Address whose balances-update posts update the balance table. May be used multiple times",
	}
)
