// Package p2p wires the node into the aleph gossip network: a libp2p host
// with noise security and tcp transport, and a gossipsub router carrying
// the message topics.
package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pubsub_pb "github.com/libp2p/go-libp2p-pubsub/pb"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	tcp "github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/async"
	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/runtime/version"
)

// bootstrapInterval is how often missing bootstrap peers are redialed.
const bootstrapInterval = time.Minute

// Service is the p2p host of the node.
type Service struct {
	cfg              *Config
	ctx              context.Context
	cancel           context.CancelFunc
	host             host.Host
	pubsub           *pubsub.PubSub
	joinedTopics     map[string]*pubsub.Topic
	joinedTopicsLock sync.Mutex
}

// NewService builds the libp2p host and the gossipsub router.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)

	priv, err := privateKey(cfg.PrivateKeyPath)
	if err != nil {
		cancel()
		return nil, err
	}
	listen, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", cfg.Host, cfg.TCPPort))
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "invalid listen address")
	}
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(listen),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.UserAgent(version.Version()),
	)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "could not create libp2p host")
	}

	psOpts := []pubsub.Option{
		pubsub.WithMessageSignaturePolicy(pubsub.StrictNoSign),
		pubsub.WithMessageIdFn(msgID),
	}
	if cfg.MaxMessageSize > 0 {
		psOpts = append(psOpts, pubsub.WithMaxMessageSize(cfg.MaxMessageSize))
	}
	ps, err := pubsub.NewGossipSub(ctx, h, psOpts...)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "could not create gossipsub router")
	}

	return &Service{
		cfg:          cfg,
		ctx:          ctx,
		cancel:       cancel,
		host:         h,
		pubsub:       ps,
		joinedTopics: make(map[string]*pubsub.Topic),
	}, nil
}

// Start dials the bootstrap peers and keeps redialing the missing ones.
func (s *Service) Start() {
	log.WithFields(map[string]interface{}{
		"peerID": s.host.ID().String(),
		"addrs":  s.host.Addrs(),
	}).Info("P2P host started")
	if len(s.cfg.BootstrapPeers) == 0 {
		return
	}
	s.ensurePeerConnections()
	async.RunEvery(s.ctx, bootstrapInterval, s.ensurePeerConnections)
}

// Stop closes the host and leaves every topic.
func (s *Service) Stop() error {
	s.cancel()
	return s.host.Close()
}

// Status returns nil: gossip keeps working through peer churn.
func (s *Service) Status() error {
	return nil
}

// PeerID returns the identity of the local host.
func (s *Service) PeerID() peer.ID {
	return s.host.ID()
}

// ConnectedPeerCount returns the number of live connections.
func (s *Service) ConnectedPeerCount() int {
	return len(s.host.Network().Peers())
}

func (s *Service) ensurePeerConnections() {
	for _, addr := range s.cfg.BootstrapPeers {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			log.WithError(err).WithField("addr", addr).Error("Invalid bootstrap peer address")
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			log.WithError(err).WithField("addr", addr).Error("Invalid bootstrap peer address")
			continue
		}
		if s.host.Network().Connectedness(info.ID) == network.Connected {
			continue
		}
		dialCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		if err := s.host.Connect(dialCtx, *info); err != nil {
			log.WithError(err).WithField("peer", info.ID.String()).Debug("Could not dial bootstrap peer")
		}
		cancel()
	}
}

// msgID derives gossip message ids from content, so the same envelope
// relayed by different peers deduplicates in the router.
func msgID(pmsg *pubsub_pb.Message) string {
	return types.SHA256Hex(pmsg.Data)
}

// privateKey loads the persisted node identity, generating and saving a
// fresh one on first start.
func privateKey(path string) (crypto.PrivKey, error) {
	if path == "" {
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		return priv, err
	}
	if raw, err := ioutil.ReadFile(path); err == nil {
		priv, err := crypto.UnmarshalPrivateKey(raw)
		if err != nil {
			return nil, errors.Wrap(err, "could not unmarshal node key")
		}
		return priv, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := ioutil.WriteFile(path, raw, 0600); err != nil {
		return nil, errors.Wrap(err, "could not persist node key")
	}
	return priv, nil
}
