package sync

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/aleph-im/go-aleph/ccn/types"
)

// subscription is the part of *pubsub.Subscription the message loop uses.
type subscription interface {
	Next(ctx context.Context) (*pubsub.Message, error)
}

// validateGossipMessage is the gossipsub validator of the message topic.
// Accepted envelopes are handed to the message loop through ValidatorData;
// reject feeds the router's peer scoring, ignore does not.
func (s *Service) validateGossipMessage(ctx context.Context, pid peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	if pid == s.cfg.P2P.PeerID() {
		return pubsub.ValidationAccept
	}
	envelope, err := types.UnmarshalMessage(msg.Data)
	if err != nil {
		ignoredMessagesTotal.WithLabelValues("undecodable").Inc()
		return pubsub.ValidationReject
	}
	if err := checkEnvelope(envelope); err != nil {
		log.WithError(err).WithField("peer", pid.String()).Debug("Rejecting malformed gossip envelope")
		ignoredMessagesTotal.WithLabelValues("malformed").Inc()
		return pubsub.ValidationReject
	}
	if _, seen := s.seenCache.Get(envelope.ItemHash); seen {
		ignoredMessagesTotal.WithLabelValues("seen").Inc()
		return pubsub.ValidationIgnore
	}
	if has, err := s.cfg.DB.HasMessage(ctx, envelope.ItemHash); err == nil && has {
		// Confirmed already; gossip copies carry no new confirmation.
		s.seenCache.SetDefault(envelope.ItemHash, struct{}{})
		ignoredMessagesTotal.WithLabelValues("confirmed").Inc()
		return pubsub.ValidationIgnore
	}
	if has, err := s.cfg.DB.HasPendingMessage(ctx, envelope.ItemHash); err == nil && has {
		// Already queued; survives cache expiry and restarts.
		s.seenCache.SetDefault(envelope.ItemHash, struct{}{})
		ignoredMessagesTotal.WithLabelValues("queued").Inc()
		return pubsub.ValidationIgnore
	}
	if depth, err := s.cfg.DB.CountPendingMessages(ctx); err == nil && depth > s.cfg.Params.PendingHighWatermark {
		ignoredMessagesTotal.WithLabelValues("backpressure").Inc()
		return pubsub.ValidationIgnore
	}
	s.seenCache.SetDefault(envelope.ItemHash, struct{}{})
	msg.ValidatorData = envelope
	return pubsub.ValidationAccept
}
