package delegation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/tinfoilsh/e2e-delegation/dataowner"
	"github.com/tinfoilsh/e2e-delegation/keystore"
	"github.com/tinfoilsh/e2e-delegation/primitives"
)

// Options configures a Crypto instance.
type Options struct {
	Directory  dataowner.Directory
	Keychain   *keystore.Keychain
	Primitives primitives.Suite
	// Diagnostics receives soft failures. Defaults to LogDiagnostics.
	Diagnostics Diagnostics
	// NewSecret returns fresh secret ids. Defaults to primitives.RandomUUID.
	NewSecret func() (string, error)
}

// Crypto creates, extends and reads delegation metadata on behalf of the
// data owners whose key pairs are in its keychain. Its caches belong to the
// instance; two instances never share entries.
type Crypto struct {
	dir       *dataowner.CachedDirectory
	keychain  *keystore.Keychain
	suite     primitives.Suite
	diag      Diagnostics
	newSecret func() (string, error)

	mu           sync.Mutex
	exchangeKeys map[string]*primitives.SymmetricKey
	keyPairs     map[string]*primitives.KeyPair
	// epoch is bumped on every exchange-key invalidation so that a decryption
	// started before it does not store its result.
	epoch uint64
	group singleflight.Group

	// ownerLocks serializes exchange-key provisioning per owner.
	ownerLocks sync.Map
}

func New(opts Options) (*Crypto, error) {
	if opts.Directory == nil {
		return nil, errors.New("delegation: directory is required")
	}
	if opts.Keychain == nil {
		return nil, errors.New("delegation: keychain is required")
	}
	if err := opts.Primitives.Validate(); err != nil {
		return nil, fmt.Errorf("delegation: %w", err)
	}

	c := &Crypto{
		keychain:     opts.Keychain,
		suite:        opts.Primitives,
		diag:         opts.Diagnostics,
		newSecret:    opts.NewSecret,
		exchangeKeys: make(map[string]*primitives.SymmetricKey),
		keyPairs:     make(map[string]*primitives.KeyPair),
	}
	if cached, ok := opts.Directory.(*dataowner.CachedDirectory); ok {
		c.dir = cached
	} else {
		c.dir = dataowner.NewCachedDirectory(opts.Directory)
	}
	if c.diag == nil {
		c.diag = LogDiagnostics{Logger: log.StandardLogger()}
	}
	if c.newSecret == nil {
		c.newSecret = primitives.RandomUUID
	}
	return c, nil
}

// Directory returns the caching directory the instance reads through.
func (c *Crypto) Directory() *dataowner.CachedDirectory {
	return c.dir
}

// CacheKeyPair makes pair the key pair used for dataOwnerID without
// touching the keychain.
func (c *Crypto) CacheKeyPair(dataOwnerID string, pair *primitives.KeyPair) {
	c.mu.Lock()
	c.keyPairs[dataOwnerID] = pair
	c.mu.Unlock()
}

// keyPair returns the cached key pair of a data owner, loading it from the
// keychain on a miss.
func (c *Crypto) keyPair(dataOwnerID string) (*primitives.KeyPair, error) {
	c.mu.Lock()
	pair, ok := c.keyPairs[dataOwnerID]
	c.mu.Unlock()
	if ok {
		return pair, nil
	}

	v, err, _ := c.group.Do("keypair|"+dataOwnerID, func() (any, error) {
		pair, err := c.keychain.LoadKeyPair(dataOwnerID)
		if err != nil {
			if errors.Is(err, keystore.ErrNotFound) {
				return nil, dataOwnerError(dataOwnerID, ErrMissingKeyMaterial)
			}
			return nil, dataOwnerError(dataOwnerID, fmt.Errorf("%w: %v", ErrMissingKeyMaterial, err))
		}
		c.CacheKeyPair(dataOwnerID, pair)
		return pair, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*primitives.KeyPair), nil
}

// EmptyHcpCache drops everything cached about one data owner: its directory
// entry, its reverse index and the exchange keys it is the delegator of.
func (c *Crypto) EmptyHcpCache(dataOwnerID string) {
	c.dir.EmptyCache(dataOwnerID)

	prefix := dataOwnerID + "|"
	c.mu.Lock()
	for k := range c.exchangeKeys {
		if strings.HasPrefix(k, prefix) {
			delete(c.exchangeKeys, k)
		}
	}
	c.epoch++
	c.mu.Unlock()
}

func (c *Crypto) forgetExchangeKey(delegatorID, delegateID string) {
	c.mu.Lock()
	delete(c.exchangeKeys, exchangeCacheKey(delegatorID, delegateID, true))
	delete(c.exchangeKeys, exchangeCacheKey(delegatorID, delegateID, false))
	c.epoch++
	c.mu.Unlock()
}

func exchangeCacheKey(delegatorID, delegateID string, encryptedForDelegator bool) string {
	return delegatorID + "|" + delegateID + "|" + strconv.FormatBool(encryptedForDelegator)
}

func (c *Crypto) ownerLock(dataOwnerID string) *sync.Mutex {
	v, _ := c.ownerLocks.LoadOrStore(dataOwnerID, &sync.Mutex{})
	return v.(*sync.Mutex)
}
