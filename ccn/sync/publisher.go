package sync

import (
	"context"

	"github.com/kevinms/leakybucket-go"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/p2p"
	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/config/params"
)

// ErrRateLimited is returned when a channel exceeds its publish budget.
var ErrRateLimited = errors.New("publish rate limit exceeded")

// Publisher pushes message envelopes to the gossip topic, rate limited per
// channel so one chatty channel cannot crowd out the rest.
type Publisher struct {
	broadcaster p2p.Broadcaster
	topic       string
	limiter     *leakybucket.Collector
}

// NewPublisher initializes the outbound publisher.
func NewPublisher(broadcaster p2p.Broadcaster, cfg *params.CCNChainConfig) *Publisher {
	return &Publisher{
		broadcaster: broadcaster,
		topic:       cfg.MessageTopic,
		limiter:     leakybucket.NewCollector(float64(cfg.PublishRate), cfg.PublishBurst, true /* deleteEmptyBuckets */),
	}
}

// Publish broadcasts one envelope to the message topic.
func (p *Publisher) Publish(ctx context.Context, msg *types.Message) error {
	if p.limiter.Add(msg.Channel, 1) == 0 {
		return errors.Wrapf(ErrRateLimited, "channel %q", msg.Channel)
	}
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	if err := p.broadcaster.PublishToTopic(ctx, p.topic, data); err != nil {
		return err
	}
	publishedMessagesTotal.Inc()
	return nil
}
