package p2p

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// Broadcaster publishes raw payloads to gossip topics.
type Broadcaster interface {
	PublishToTopic(ctx context.Context, topic string, data []byte, opts ...pubsub.PubOpt) error
}

// PubSubProvider exposes topic membership to the sync service.
type PubSubProvider interface {
	JoinTopic(topic string, opts ...pubsub.TopicOpt) (*pubsub.Topic, error)
	LeaveTopic(topic string) error
	SubscribeToTopic(topic string, opts ...pubsub.SubOpt) (*pubsub.Subscription, error)
	AddTopicValidator(topic string, val pubsub.ValidatorEx) error
}

// PeerManager reports the identity and connectivity of the local host.
type PeerManager interface {
	PeerID() peer.ID
	ConnectedPeerCount() int
}

// Accessor is the full p2p surface consumed by other services.
type Accessor interface {
	Broadcaster
	PubSubProvider
	PeerManager
}
