// Package storage implements the content-addressed store of the node: a
// local object store keyed by sha256 hex, a thin shim over the IPFS HTTP
// API, and a unified service used by the ingestion pipeline, plus the
// garbage collector that reclaims unpinned files.
package storage

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/types"
)

// LocalStore is a flat-file object store. Objects live under
// {root}/objects/{hh}/{hash} where hh is the first two hex chars of the
// hash, written atomically via temp file and rename.
type LocalStore struct {
	root string
}

// NewLocalStore opens (and creates if needed) the object store rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	root := filepath.Join(dir, "objects")
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, errors.Wrap(err, "could not create object store directory")
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) objectPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.root, hash)
	}
	return filepath.Join(s.root, hash[:2], hash)
}

// Has reports whether the object is present.
func (s *LocalStore) Has(hash string) bool {
	_, err := os.Stat(s.objectPath(hash))
	return err == nil
}

// Get returns the bytes of an object, or ErrNotFound.
func (s *LocalStore) Get(hash string) ([]byte, error) {
	data, err := ioutil.ReadFile(s.objectPath(hash))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not read object")
	}
	return data, nil
}

// Put stores content under its sha256 hex digest and returns the digest.
// Storing the same bytes twice is a no-op: the object already exists under
// the same path.
func (s *LocalStore) Put(content []byte) (string, error) {
	hash := types.SHA256Hex(content)
	if err := s.PutWithHash(hash, content); err != nil {
		return "", err
	}
	return hash, nil
}

// PutWithHash stores content under a caller-supplied address. Used for IPFS
// objects whose CID is not the sha256 of the bytes.
func (s *LocalStore) PutWithHash(hash string, content []byte) error {
	target := s.objectPath(hash)
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return errors.Wrap(err, "could not create object shard directory")
	}
	tmp, err := ioutil.TempFile(filepath.Dir(target), ".tmp-")
	if err != nil {
		return errors.Wrap(err, "could not create temp object")
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "could not write temp object")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "could not close temp object")
	}
	return os.Rename(tmp.Name(), target)
}

// Size returns the byte size of an object, or ErrNotFound.
func (s *LocalStore) Size(hash string) (uint64, error) {
	info, err := os.Stat(s.objectPath(hash))
	if os.IsNotExist(err) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "could not stat object")
	}
	return uint64(info.Size()), nil
}

// Delete removes an object. Deleting a missing object is a no-op.
func (s *LocalStore) Delete(hash string) error {
	err := os.Remove(s.objectPath(hash))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
