package storage

import (
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// PebbleStore keeps one key per owner, so each Put is an atomic single-key
// write instead of a snapshot rewrite.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", path)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Get(owner string) ([]byte, error) {
	val, closer, err := s.db.Get(apiWalletKey(owner))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get api wallet %s", owner)
	}
	defer closer.Close()

	// val is only valid until closer.Close
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *PebbleStore) Put(owner string, value []byte) error {
	if err := s.db.Set(apiWalletKey(owner), value, pebble.Sync); err != nil {
		return errors.Wrapf(err, "save api wallet %s", owner)
	}
	return nil
}

// Keys lists stored owners in key order.
func (s *PebbleStore) Keys() ([]string, error) {
	prefix := []byte(prefixAPIWallet)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "iterate api wallets")
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()[len(prefix):]))
	}
	return keys, errors.Wrap(iter.Error(), "iterate api wallets")
}
