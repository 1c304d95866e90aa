// Package registry maps owner addresses to their delegate signing wallets.
//
// Per owner the record moves NoRecord -> Created -> Authorized and never
// back. All mutations are serialized through a single lock so at most one
// write to the backing store is in flight.
package registry

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/hlrelay/pkg/crypto"
	"github.com/uhyunpark/hlrelay/pkg/errs"
	"github.com/uhyunpark/hlrelay/pkg/signing"
	"github.com/uhyunpark/hlrelay/pkg/storage"
	"github.com/uhyunpark/hlrelay/pkg/util"
)

// Backend stores raw JSON records by lowercase owner address and returns
// storage.ErrNotFound for unknown owners.
type Backend interface {
	Get(owner string) ([]byte, error)
	Put(owner string, value []byte) error
	Keys() ([]string, error)
	Close() error
}

type Registry struct {
	mu      sync.Mutex
	backend Backend
	clock   util.Clock
	keygen  func() (*crypto.Signer, error)
	log     *zap.SugaredLogger
}

type Option func(*Registry)

func WithClock(c util.Clock) Option { return func(r *Registry) { r.clock = c } }

// WithKeyGenerator replaces random delegate key generation.
func WithKeyGenerator(f func() (*crypto.Signer, error)) Option {
	return func(r *Registry) { r.keygen = f }
}

func New(backend Backend, log *zap.Logger, opts ...Option) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		backend: backend,
		clock:   util.RealClock{},
		keygen:  crypto.GenerateKey,
		log:     log.Sugar(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Close() error { return r.backend.Close() }

func (r *Registry) Exists(owner string) (bool, error) {
	_, err := r.Get(owner)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Get returns the owner's record or a NotFound error.
func (r *Registry) Get(owner string) (*Record, error) {
	const op = "registry.get"
	key, err := ownerKey(op, owner)
	if err != nil {
		return nil, err
	}
	return r.load(op, key)
}

// CreateIfAbsent returns the existing record for owner, or generates a fresh
// delegate key and stores a new unauthorized record. An existing record's
// key is never replaced. created reports whether a new record was written.
func (r *Registry) CreateIfAbsent(owner string) (rec *Record, created bool, err error) {
	const op = "registry.create"
	key, err := ownerKey(op, owner)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.load(op, key)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, errs.ErrNotFound):
		return nil, false, err
	}

	delegate, err := r.keygen()
	if err != nil {
		return nil, false, errs.Wrap(errs.KindInternal, op, err)
	}
	rec = &Record{
		UserAddress:         key,
		APIWalletAddress:    delegate.Address().Hex(),
		APIWalletPrivateKey: Secret(delegate.PrivateKeyHex()),
		CreatedAt:           r.clock.Now().UTC(),
	}
	if err := r.store(op, rec); err != nil {
		return nil, false, err
	}

	r.log.Infow("api_wallet_created", "record", rec)
	return rec, true, nil
}

// MarkAuthorized flips the owner's record to authorized. Callers must only
// invoke it after the exchange accepted the approval. Marking an already
// authorized record keeps the original authorizedAt.
func (r *Registry) MarkAuthorized(owner string) (*Record, error) {
	const op = "registry.authorize"
	key, err := ownerKey(op, owner)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(op, key)
	if err != nil {
		return nil, err
	}
	if rec.Authorized {
		return rec, nil
	}

	now := r.clock.Now().UTC()
	rec.Authorized = true
	rec.AuthorizedAt = &now
	if err := r.store(op, rec); err != nil {
		return nil, err
	}

	r.log.Infow("api_wallet_authorized", "record", rec)
	return rec, nil
}

// Identity returns a signing identity for the owner's authorized delegate.
func (r *Registry) Identity(owner string) (*signing.LocalIdentity, error) {
	const op = "registry.identity"
	rec, err := r.Get(owner)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.E(errs.KindIdentityUnavailable, op, "no api wallet for "+owner)
	}
	if err != nil {
		return nil, err
	}
	if !rec.Authorized {
		return nil, errs.E(errs.KindIdentityUnavailable, op, "api wallet for "+rec.UserAddress+" is not authorized yet")
	}
	id, err := signing.LocalIdentityFromHex(rec.APIWalletPrivateKey.Reveal())
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, op, errors.New("stored api wallet key is unreadable"))
	}
	return id, nil
}

// Owners lists every owner with a record.
func (r *Registry) Owners() ([]string, error) {
	keys, err := r.backend.Keys()
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, "registry.owners", err)
	}
	return keys, nil
}

func (r *Registry) load(op, key string) (*Record, error) {
	raw, err := r.backend.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errs.E(errs.KindNotFound, op, "no api wallet for "+key)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, op, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, op, err)
	}
	return &rec, nil
}

func (r *Registry) store(op string, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errs.Wrap(errs.KindInternal, op, err)
	}
	if err := r.backend.Put(rec.UserAddress, raw); err != nil {
		return errs.Wrap(errs.KindPersistence, op, err)
	}
	return nil
}

func ownerKey(op, owner string) (string, error) {
	key, err := crypto.NormalizeAddress(owner)
	if err != nil {
		return "", errs.Validation(op, "%v", err)
	}
	return key, nil
}

