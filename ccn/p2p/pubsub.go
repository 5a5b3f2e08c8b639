package p2p

import (
	"context"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// JoinTopic joins a gossip topic, reusing the handle if already joined.
func (s *Service) JoinTopic(topic string, opts ...pubsub.TopicOpt) (*pubsub.Topic, error) {
	s.joinedTopicsLock.Lock()
	defer s.joinedTopicsLock.Unlock()

	if _, ok := s.joinedTopics[topic]; !ok {
		topicHandle, err := s.pubsub.Join(topic, opts...)
		if err != nil {
			return nil, err
		}
		s.joinedTopics[topic] = topicHandle
	}
	return s.joinedTopics[topic], nil
}

// LeaveTopic closes the topic and drops its handle. Fails while
// subscriptions on the topic are still open.
func (s *Service) LeaveTopic(topic string) error {
	s.joinedTopicsLock.Lock()
	defer s.joinedTopicsLock.Unlock()

	if t, ok := s.joinedTopics[topic]; ok {
		if err := t.Close(); err != nil {
			return err
		}
		delete(s.joinedTopics, topic)
	}
	return nil
}

// PublishToTopic joins (if necessary) and publishes to a gossip topic.
func (s *Service) PublishToTopic(ctx context.Context, topic string, data []byte, opts ...pubsub.PubOpt) error {
	topicHandle, err := s.JoinTopic(topic)
	if err != nil {
		return err
	}
	return topicHandle.Publish(ctx, data, opts...)
}

// SubscribeToTopic joins (if necessary) and subscribes to a gossip topic.
func (s *Service) SubscribeToTopic(topic string, opts ...pubsub.SubOpt) (*pubsub.Subscription, error) {
	topicHandle, err := s.JoinTopic(topic)
	if err != nil {
		return nil, err
	}
	return topicHandle.Subscribe(opts...)
}

// AddTopicValidator installs the gossip validator of a topic. Peers pushing
// payloads the validator rejects lose router score.
func (s *Service) AddTopicValidator(topic string, val pubsub.ValidatorEx) error {
	return s.pubsub.RegisterTopicValidator(topic, val)
}
