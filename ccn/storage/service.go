package storage

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/types"
)

// Config options for the storage service.
type Config struct {
	Local        *LocalStore
	IPFS         *IPFSClient
	FetchTimeout time.Duration
}

// Service presents the unified content-addressed store: reads hit the local
// object store first and fall back to the IPFS daemon, persisting a local
// copy so subsequent readers stay local.
type Service struct {
	cfg *Config
}

// NewService initializes the storage service.
func NewService(cfg *Config) *Service {
	return &Service{cfg: cfg}
}

// Get returns the bytes addressed by hash. For IPFS item types a miss falls
// through to the daemon; storage item types are local-only. A fetch from the
// daemon is persisted locally before returning.
func (s *Service) Get(ctx context.Context, itemType types.ItemType, hash string) ([]byte, error) {
	content, err := s.cfg.Local.Get(hash)
	if err == nil {
		if itemType == types.ItemStorage && types.SHA256Hex(content) != hash {
			return nil, errors.Wrap(ErrHashMismatch, hash)
		}
		return content, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if itemType != types.ItemIPFS || s.cfg.IPFS == nil {
		return nil, ErrNotFound
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	content, err = s.cfg.IPFS.BlockGet(fetchCtx, hash)
	if err != nil {
		return nil, errors.Wrap(ErrNotFound, err.Error())
	}
	if err := s.cfg.Local.PutWithHash(hash, content); err != nil {
		log.WithError(err).WithField("hash", hash).Error("Could not persist fetched object locally")
	} else {
		log.WithFields(map[string]interface{}{
			"hash": hash,
			"size": humanize.Bytes(uint64(len(content))),
		}).Debug("Fetched object from IPFS")
	}
	return content, nil
}

// Put stores content locally under its sha256 hex digest.
func (s *Service) Put(content []byte) (string, error) {
	return s.cfg.Local.Put(content)
}

// Has reports whether the content is available locally.
func (s *Service) Has(hash string) bool {
	return s.cfg.Local.Has(hash)
}

// Size returns the stored byte size of the content.
func (s *Service) Size(hash string) (uint64, error) {
	return s.cfg.Local.Size(hash)
}

// Pin makes the content durable on its backend. Local objects are durable by
// construction; IPFS objects are pinned on the daemon.
func (s *Service) Pin(ctx context.Context, engine types.StorageEngine, hash string) error {
	if engine != types.EngineIPFS || s.cfg.IPFS == nil {
		return nil
	}
	pinCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	return s.cfg.IPFS.PinAdd(pinCtx, hash)
}

// Unpin releases the backend pin of the content.
func (s *Service) Unpin(ctx context.Context, engine types.StorageEngine, hash string) error {
	if engine != types.EngineIPFS || s.cfg.IPFS == nil {
		return nil
	}
	unpinCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	return s.cfg.IPFS.PinRm(unpinCtx, hash)
}

// Delete removes the local copy of the content.
func (s *Service) Delete(hash string) error {
	return s.cfg.Local.Delete(hash)
}
