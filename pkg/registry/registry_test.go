package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/uhyunpark/hlrelay/pkg/errs"
	"github.com/uhyunpark/hlrelay/pkg/storage"
	"github.com/uhyunpark/hlrelay/pkg/util"
)

const owner = "0xAAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newFileRegistry(t *testing.T, opts ...Option) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api-wallets.json")
	store, err := storage.NewFileStore(path)
	require.NoError(t, err)
	opts = append([]Option{WithClock(util.FixedClock{T: t0})}, opts...)
	return New(store, zap.NewNop(), opts...), path
}

func TestCreateIfAbsentIsIdempotent(t *testing.T) {
	r, _ := newFileRegistry(t)

	first, created, err := r.CreateIfAbsent(owner)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, first.Authorized)
	assert.Nil(t, first.AuthorizedAt)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", first.UserAddress)
	assert.Equal(t, t0, first.CreatedAt)

	second, created, err := r.CreateIfAbsent(owner)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.APIWalletAddress, second.APIWalletAddress)
	assert.Equal(t, first.APIWalletPrivateKey.Reveal(), second.APIWalletPrivateKey.Reveal())
}

func TestExistsAndGet(t *testing.T) {
	r, _ := newFileRegistry(t)

	ok, err := r.Exists(owner)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.Get(owner)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, _, err = r.CreateIfAbsent(owner)
	require.NoError(t, err)

	ok, err = r.Exists(owner)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.Get("not-an-address")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestMarkAuthorizedIsMonotonic(t *testing.T) {
	clock := &stepClock{t: t0}
	r, _ := newFileRegistry(t, WithClock(clock))

	_, err := r.MarkAuthorized(owner)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, _, err = r.CreateIfAbsent(owner)
	require.NoError(t, err)

	clock.advance(time.Minute)
	rec, err := r.MarkAuthorized(owner)
	require.NoError(t, err)
	require.True(t, rec.Authorized)
	require.NotNil(t, rec.AuthorizedAt)
	firstAt := *rec.AuthorizedAt

	clock.advance(time.Hour)
	rec, err = r.MarkAuthorized(owner)
	require.NoError(t, err)
	assert.True(t, rec.Authorized)
	assert.Equal(t, firstAt, *rec.AuthorizedAt)

	// create after authorization leaves the record alone
	again, created, err := r.CreateIfAbsent(owner)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, again.Authorized)
}

func TestIdentity(t *testing.T) {
	r, _ := newFileRegistry(t)

	_, err := r.Identity(owner)
	assert.ErrorIs(t, err, errs.ErrIdentityUnavailable)

	rec, _, err := r.CreateIfAbsent(owner)
	require.NoError(t, err)

	_, err = r.Identity(owner)
	assert.ErrorIs(t, err, errs.ErrIdentityUnavailable, "unauthorized delegate cannot sign")

	_, err = r.MarkAuthorized(owner)
	require.NoError(t, err)

	id, err := r.Identity(owner)
	require.NoError(t, err)
	assert.Equal(t, rec.APIWalletAddress, id.Address().Hex())
}

func TestConcurrentCreatesAreSerialized(t *testing.T) {
	r, path := newFileRegistry(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := r.CreateIfAbsent(fmt.Sprintf("0x%040x", i+1))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	owners, err := r.Owners()
	require.NoError(t, err)
	assert.Len(t, owners, n, "no create clobbered another")

	store, err := storage.NewFileStore(path)
	require.NoError(t, err)
	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, n)
}

func TestPebbleBackend(t *testing.T) {
	store, err := storage.NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	r := New(store, nil, WithClock(util.FixedClock{T: t0}))
	defer r.Close()

	rec, created, err := r.CreateIfAbsent(owner)
	require.NoError(t, err)
	assert.True(t, created)

	_, err = r.MarkAuthorized(owner)
	require.NoError(t, err)

	got, err := r.Get(owner)
	require.NoError(t, err)
	assert.Equal(t, rec.APIWalletAddress, got.APIWalletAddress)
	assert.True(t, got.Authorized)
}

type failingBackend struct {
	putErr error
	data   map[string][]byte
}

func (b *failingBackend) Get(owner string) ([]byte, error) {
	v, ok := b.data[owner]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (b *failingBackend) Put(owner string, value []byte) error {
	if b.putErr != nil {
		return b.putErr
	}
	b.data[owner] = value
	return nil
}

func (b *failingBackend) Keys() ([]string, error) { return nil, nil }
func (b *failingBackend) Close() error            { return nil }

func TestPersistenceFailureCommitsNothing(t *testing.T) {
	b := &failingBackend{putErr: errors.New("disk full"), data: map[string][]byte{}}
	r := New(b, nil)

	_, _, err := r.CreateIfAbsent(owner)
	assert.ErrorIs(t, err, errs.ErrPersistence)
	assert.Empty(t, b.data)

	b.putErr = nil
	_, _, err = r.CreateIfAbsent(owner)
	require.NoError(t, err)

	b.putErr = errors.New("disk full")
	_, err = r.MarkAuthorized(owner)
	assert.ErrorIs(t, err, errs.ErrPersistence)

	rec, err := r.Get(owner)
	require.NoError(t, err)
	assert.False(t, rec.Authorized)
}

func TestSecretNeverPrinted(t *testing.T) {
	r, path := newFileRegistry(t)
	core, logs := observer.New(zapcore.InfoLevel)
	r.log = zap.New(core).Sugar()

	rec, _, err := r.CreateIfAbsent(owner)
	require.NoError(t, err)
	key := rec.APIWalletPrivateKey.Reveal()
	require.NotEmpty(t, key)

	for _, s := range []string{
		fmt.Sprintf("%v", rec),
		fmt.Sprintf("%+v", *rec),
		fmt.Sprintf("%#v", *rec),
		fmt.Sprintf("%s", rec.APIWalletPrivateKey),
		rec.APIWalletPrivateKey.String(),
	} {
		assert.NotContains(t, s, key[2:])
	}

	entries := logs.FilterMessage("api_wallet_created").All()
	require.Len(t, entries, 1)
	logged, err := json.Marshal(entries[0].ContextMap())
	require.NoError(t, err)
	assert.NotContains(t, string(logged), key[2:])
	assert.Contains(t, string(logged), rec.APIWalletAddress)

	// the key is persisted so the delegate can sign later
	reopened, err := storage.NewFileStore(path)
	require.NoError(t, err)
	raw, err := reopened.Get(rec.UserAddress)
	require.NoError(t, err)
	assert.Contains(t, string(raw), key)
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
