package delegation

import (
	"context"
	"crypto"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinfoilsh/e2e-delegation/dataowner"
	"github.com/tinfoilsh/e2e-delegation/keystore"
	"github.com/tinfoilsh/e2e-delegation/primitives"
)

type countingAsymmetric struct {
	primitives.Asymmetric
	decrypts atomic.Int32
}

func (c *countingAsymmetric) Decrypt(sk crypto.PrivateKey, ciphertext []byte) ([]byte, error) {
	c.decrypts.Add(1)
	return c.Asymmetric.Decrypt(sk, ciphertext)
}

func TestDecryptHcPartyKeyIsCached(t *testing.T) {
	counting := &countingAsymmetric{Asymmetric: primitives.NewRSA(testRSABits)}
	f := newFixture(t, func(o *Options) { o.Primitives.Asymmetric = counting })
	f.owner(t, "hcp-A", "")
	f.owner(t, "hcp-B", "")
	ctx := context.Background()

	owner, err := f.crypto.GenerateKeyForDelegate(ctx, "hcp-A", "hcp-B")
	require.NoError(t, err)
	encrypted := owner.HcPartyKeys["hcp-B"].ForDelegate()
	counting.decrypts.Store(0)

	var wg sync.WaitGroup
	keys := make([]ExchangeKey, 16)
	for i := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k, err := f.crypto.DecryptHcPartyKey(ctx, "hcp-A", "hcp-B", encrypted, false)
			assert.NoError(t, err)
			keys[i] = k
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, counting.decrypts.Load())
	for _, k := range keys {
		assert.Equal(t, "hcp-A", k.DelegatorID)
		assert.Same(t, keys[0].Key, k.Key)
	}

	// The other direction is its own entry.
	_, err = f.crypto.DecryptHcPartyKey(ctx, "hcp-A", "hcp-B", owner.HcPartyKeys["hcp-B"].ForOwner(), true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counting.decrypts.Load())

	f.crypto.EmptyHcpCache("hcp-A")
	_, err = f.crypto.DecryptHcPartyKey(ctx, "hcp-A", "hcp-B", encrypted, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, counting.decrypts.Load())
}

func TestGenerateKeyForDelegateInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	f.owner(t, "hcp-A", "")
	f.owner(t, "hcp-B", "")
	ctx := context.Background()
	cached := f.crypto.Directory()

	before, err := cached.GetDataOwner(ctx, "hcp-A")
	require.NoError(t, err)
	assert.NotContains(t, before.HcPartyKeys, "hcp-B")
	reverse, err := cached.GetExchangeKeysForDelegate(ctx, "hcp-B")
	require.NoError(t, err)
	assert.Empty(t, reverse)

	saved, err := f.crypto.GenerateKeyForDelegate(ctx, "hcp-A", "hcp-B")
	require.NoError(t, err)

	after, err := cached.GetDataOwner(ctx, "hcp-A")
	require.NoError(t, err)
	assert.Equal(t, saved.HcPartyKeys["hcp-B"], after.HcPartyKeys["hcp-B"])
	assert.Equal(t, saved.Rev, after.Rev)

	reverse, err = cached.GetExchangeKeysForDelegate(ctx, "hcp-B")
	require.NoError(t, err)
	assert.Equal(t, saved.HcPartyKeys["hcp-B"].ForDelegate(), reverse["hcp-A"])
}

func TestGenerateKeyForDelegateReplacesKey(t *testing.T) {
	f := newFixture(t)
	f.owner(t, "hcp-A", "")
	f.owner(t, "hcp-B", "")
	ctx := context.Background()

	first, err := f.crypto.exchangeKeyWith(ctx, "hcp-A", "hcp-B")
	require.NoError(t, err)
	_, err = f.crypto.GenerateKeyForDelegate(ctx, "hcp-A", "hcp-B")
	require.NoError(t, err)
	second, err := f.crypto.exchangeKeyWith(ctx, "hcp-A", "hcp-B")
	require.NoError(t, err)

	a, err := f.suite.Symmetric.ExportKey(first, primitives.FormatRaw)
	require.NoError(t, err)
	b, err := f.suite.Symmetric.ExportKey(second, primitives.FormatRaw)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGenerateKeyForDelegateConflict(t *testing.T) {
	f := newFixture(t)
	f.owner(t, "hcp-A", "")
	f.owner(t, "hcp-B", "")
	ctx := context.Background()

	// Prime the cache, then let someone else update the owner.
	_, err := f.crypto.Directory().GetDataOwner(ctx, "hcp-A")
	require.NoError(t, err)
	current, err := f.dir.GetDataOwner(ctx, "hcp-A")
	require.NoError(t, err)
	f.dir.Put(current)

	_, err = f.crypto.GenerateKeyForDelegate(ctx, "hcp-A", "hcp-B")
	assert.ErrorIs(t, err, dataowner.ErrConflict)

	// Not retried: the stored owner is unchanged.
	stored, err := f.dir.GetDataOwner(ctx, "hcp-A")
	require.NoError(t, err)
	assert.NotContains(t, stored.HcPartyKeys, "hcp-B")
}

func TestGenerateKeyForDelegateMissingPublicKey(t *testing.T) {
	f := newFixture(t)
	f.owner(t, "hcp-A", "")
	f.dir.Put(&dataowner.DataOwner{ID: "patient-X"})
	ctx := context.Background()

	_, err := f.crypto.GenerateKeyForDelegate(ctx, "hcp-A", "patient-X")
	assert.ErrorIs(t, err, ErrMissingPublicKey)
	id, _ := FailedDataOwner(err)
	assert.Equal(t, "patient-X", id)

	_, err = f.crypto.GenerateKeyForDelegate(ctx, "patient-X", "hcp-A")
	assert.ErrorIs(t, err, ErrMissingPublicKey)
	id, _ = FailedDataOwner(err)
	assert.Equal(t, "patient-X", id)

	_, err = f.crypto.GenerateKeyForDelegate(ctx, "hcp-A", "nobody")
	assert.ErrorIs(t, err, dataowner.ErrNotFound)
}

func TestMissingKeyMaterial(t *testing.T) {
	f := newFixture(t)
	f.owner(t, "hcp-A", "")
	require.NoError(t, f.keychain.DeleteKeyPair("hcp-A"))

	// A second instance has nothing cached and cannot borrow from the first.
	other, err := New(Options{Directory: f.dir, Keychain: f.keychain, Primitives: f.suite, Diagnostics: f.events})
	require.NoError(t, err)

	_, err = other.InitObjectDelegations(context.Background(), &Entity{ID: "doc-1"}, nil, "hcp-A", "")
	require.Error(t, err)
	assert.True(t, IsMissingKeyMaterial(err))
	id, ok := FailedDataOwner(err)
	assert.True(t, ok)
	assert.Equal(t, "hcp-A", id)

	_, err = f.crypto.InitObjectDelegations(context.Background(), &Entity{ID: "doc-1"}, nil, "hcp-A", "")
	assert.NoError(t, err)
}

func TestCheckPrivateKeyValidity(t *testing.T) {
	f := newFixture(t)
	f.owner(t, "hcp-A", "")
	f.owner(t, "hcp-B", "")
	ctx := context.Background()

	owner, err := f.dir.GetDataOwner(ctx, "hcp-A")
	require.NoError(t, err)
	assert.True(t, f.crypto.CheckPrivateKeyValidity(ctx, owner))

	assert.False(t, f.crypto.CheckPrivateKeyValidity(ctx, nil))
	assert.False(t, f.crypto.CheckPrivateKeyValidity(ctx, &dataowner.DataOwner{ID: "hcp-A"}))
	assert.False(t, f.crypto.CheckPrivateKeyValidity(ctx, &dataowner.DataOwner{ID: "hcp-A", PublicKey: "zz"}))

	empty := keystore.NewKeychain(keystore.NewMemoryStore(), f.suite)
	other, err := New(Options{Directory: f.dir, Keychain: empty, Primitives: f.suite})
	require.NoError(t, err)
	assert.False(t, other.CheckPrivateKeyValidity(ctx, owner))

	wrong, err := f.keychain.LoadKeyPair("hcp-B")
	require.NoError(t, err)
	other.CacheKeyPair("hcp-A", wrong)
	assert.False(t, other.CheckPrivateKeyValidity(ctx, owner))
}

func TestGenerateDataOwnerKeyPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.crypto.GenerateDataOwnerKeyPair(ctx, "hcp-new")
	require.NoError(t, err)
	assert.NotEmpty(t, saved.PublicKey)
	assert.True(t, f.crypto.CheckPrivateKeyValidity(ctx, saved))

	_, err = f.keychain.LoadKeyPair("hcp-new")
	require.NoError(t, err)

	_, err = f.crypto.GenerateDataOwnerKeyPair(ctx, "hcp-new")
	assert.ErrorIs(t, err, ErrPublicKeyExists)
}

func TestDecryptForDelegatorsRejectsUnknown(t *testing.T) {
	f := newFixture(t)
	f.owner(t, "hcp-A", "")
	f.owner(t, "hcp-B", "")
	ctx := context.Background()

	_, err := f.crypto.GenerateKeyForDelegate(ctx, "hcp-A", "hcp-B")
	require.NoError(t, err)

	keys, err := f.crypto.DecryptAndImportAesHcPartyKeysForDelegators(ctx, []string{"hcp-A"}, "hcp-B")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "hcp-A", keys[0].DelegatorID)

	_, err = f.crypto.DecryptAndImportAesHcPartyKeysForDelegators(ctx, []string{"hcp-ghost", "hcp-A"}, "hcp-B")
	require.ErrorIs(t, err, ErrMissingExchangeKey)
	var ownerErr DataOwnerError
	require.ErrorAs(t, err, &ownerErr)
	assert.Equal(t, "hcp-ghost", ownerErr.DataOwnerID)
	assert.Zero(t, f.events.count(EventMissingExchangeKey))
}

func TestHPKESuite(t *testing.T) {
	suite := primitives.NewHPKESuite()
	f := newFixture(t, func(o *Options) {
		o.Primitives = suite
		o.Keychain = keystore.NewKeychain(keystore.NewMemoryStore(), suite)
	})
	f.owner(t, "hcp-A", "")
	f.owner(t, "hcp-B", "")
	ctx := context.Background()

	e, secret, encSecret := f.entity(t, "doc-1", "hcp-A")
	shared, results := f.crypto.ShareWithMany(ctx, nil, e, "hcp-A", []string{"hcp-B"}, secret, encSecret)
	require.True(t, results[0].OK())

	extracted, err := f.crypto.ExtractDelegationsSFKs(ctx, shared, "hcp-B")
	require.NoError(t, err)
	assert.Equal(t, []string{secret}, extracted.Keys)

	owner, err := f.dir.GetDataOwner(ctx, "hcp-B")
	require.NoError(t, err)
	assert.True(t, f.crypto.CheckPrivateKeyValidity(ctx, owner))
}
