// Package sync connects the message pipeline to the outside world: a
// gossipsub subscriber feeding the pending queue, a direct submission
// entrypoint for the node's own API, and a rate-limited publisher pushing
// locally confirmed messages back to the network.
package sync

import (
	"context"
	"time"

	gcache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aleph-im/go-aleph/ccn/db"
	"github.com/aleph-im/go-aleph/ccn/p2p"
	"github.com/aleph-im/go-aleph/ccn/types"
	"github.com/aleph-im/go-aleph/config/params"
)

// seenTTL is how long an item hash stays in the hot dedup cache. Replays
// older than this still deduplicate against the database.
const seenTTL = 10 * time.Minute

// ErrQueueFull is returned to submitters while the pending queue is above
// the high watermark.
var ErrQueueFull = errors.New("pending message queue is full")

// Config options for the sync service.
type Config struct {
	DB     db.Database
	P2P    p2p.Accessor
	Params *params.CCNChainConfig
}

// Service subscribes to the message topic and accepts direct submissions.
type Service struct {
	cfg       *Config
	ctx       context.Context
	cancel    context.CancelFunc
	seenCache *gcache.Cache
	publisher *Publisher
}

// NewService initializes the sync service.
func NewService(ctx context.Context, cfg *Config) *Service {
	if cfg.Params == nil {
		cfg.Params = params.CCNConfig()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		seenCache: gcache.New(seenTTL, seenTTL),
		publisher: NewPublisher(cfg.P2P, cfg.Params),
	}
}

// Publisher returns the outbound side of the service, consumed by the
// pipeline to forward http-origin messages.
func (s *Service) Publisher() *Publisher {
	return s.publisher
}

// Start installs the topic validator and the subscription loop.
func (s *Service) Start() {
	topic := s.cfg.Params.MessageTopic
	if err := s.cfg.P2P.AddTopicValidator(topic, s.validateGossipMessage); err != nil {
		log.WithError(err).Error("Could not register topic validator")
		return
	}
	sub, err := s.cfg.P2P.SubscribeToTopic(topic)
	if err != nil {
		log.WithError(err).Error("Could not subscribe to message topic")
		return
	}
	log.WithField("topic", topic).Info("Subscribed to message topic")
	go s.messageLoop(sub)
}

// Stop halts the subscription loop.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always returns nil.
func (s *Service) Status() error {
	return nil
}

// SubmitMessage queues an envelope submitted directly to this node. The
// envelope is verified and applied asynchronously by the pipeline; once
// confirmed it is forwarded to the network.
func (s *Service) SubmitMessage(ctx context.Context, msg *types.Message) error {
	if err := checkEnvelope(msg); err != nil {
		return err
	}
	// Duplicate submissions succeed silently: the message is or will be
	// confirmed either way.
	if has, err := s.cfg.DB.HasMessage(ctx, msg.ItemHash); err == nil && has {
		return nil
	}
	if has, err := s.cfg.DB.HasPendingMessage(ctx, msg.ItemHash); err == nil && has {
		return nil
	}
	depth, err := s.cfg.DB.CountPendingMessages(ctx)
	if err != nil {
		return err
	}
	if depth > s.cfg.Params.PendingHighWatermark {
		return ErrQueueFull
	}
	pm := &types.PendingMessage{
		Message:      *msg,
		Origin:       types.OriginHTTP,
		CheckMessage: true,
	}
	if err := s.cfg.DB.SavePendingMessage(ctx, pm); err != nil {
		return err
	}
	receivedMessagesTotal.WithLabelValues(string(types.OriginHTTP)).Inc()
	return nil
}

// checkEnvelope rejects envelopes that could never pass the pipeline, so
// submitters get an immediate error instead of a silent rejection.
func checkEnvelope(msg *types.Message) error {
	if msg.Sender == "" || msg.Signature == "" {
		return errors.New("envelope requires sender and signature")
	}
	if msg.Time <= 0 {
		return errors.New("envelope requires a timestamp")
	}
	found := false
	for _, t := range types.MessageTypes {
		if msg.Type == t {
			found = true
			break
		}
	}
	if !found {
		return errors.Errorf("unknown message type %q", msg.Type)
	}
	hashType, err := types.ItemTypeFromHash(msg.ItemHash)
	if err != nil {
		return err
	}
	switch msg.ItemType {
	case types.ItemInline, types.ItemStorage:
		if hashType != types.ItemStorage {
			return errors.Errorf("item hash %q is not a sha256 digest", msg.ItemHash)
		}
	case types.ItemIPFS:
		if hashType != types.ItemIPFS {
			return errors.Errorf("item hash %q is not a CID", msg.ItemHash)
		}
	default:
		return errors.Errorf("unknown item type %q", msg.ItemType)
	}
	return nil
}

func (s *Service) messageLoop(sub subscription) {
	for {
		msg, err := sub.Next(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Subscription failed")
			return
		}
		envelope, ok := msg.ValidatorData.(*types.Message)
		if !ok {
			continue
		}
		pm := &types.PendingMessage{
			Message:      *envelope,
			Origin:       types.OriginP2P,
			CheckMessage: true,
		}
		if err := s.cfg.DB.SavePendingMessage(s.ctx, pm); err != nil {
			log.WithError(err).WithField("itemHash", envelope.ItemHash).Error("Could not queue gossip message")
			continue
		}
		receivedMessagesTotal.WithLabelValues(string(types.OriginP2P)).Inc()
		log.WithFields(logrus.Fields{
			"itemHash": envelope.ItemHash,
			"type":     envelope.Type,
		}).Debug("Queued gossip message")
	}
}
