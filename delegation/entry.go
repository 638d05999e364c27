package delegation

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tinfoilsh/e2e-delegation/primitives"
	"github.com/tinfoilsh/e2e-delegation/protocol"
)

func (c *Crypto) encryptEntry(key *primitives.SymmetricKey, ownerID, delegateID, entityID, value string) (Delegation, error) {
	ct, err := c.suite.Symmetric.Encrypt(key, []byte(entityID+protocol.EntrySeparator+value))
	if err != nil {
		return Delegation{}, fmt.Errorf("failed to encrypt entry for %s: %w", delegateID, err)
	}
	return Delegation{Owner: ownerID, DelegatedTo: delegateID, Key: hex.EncodeToString(ct)}, nil
}

func (c *Crypto) decryptEntry(key *primitives.SymmetricKey, entry Delegation) (string, error) {
	ct, err := hex.DecodeString(entry.Key)
	if err != nil {
		return "", fmt.Errorf("%w: invalid hex: %v", ErrCorruptedDelegation, err)
	}
	pt, err := c.suite.Symmetric.Decrypt(key, ct)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptedDelegation, err)
	}
	return string(pt), nil
}

// splitEntry returns the value of an "<entityId>:<value>" plaintext.
func splitEntry(plaintext, entityID string) (string, error) {
	id, value, ok := strings.Cut(plaintext, protocol.EntrySeparator)
	if !ok {
		return "", fmt.Errorf("%w: no separator", ErrCorruptedDelegation)
	}
	if id != entityID {
		return "", fmt.Errorf("%w: entry is for %s, not %s", ErrCorruptedDelegation, id, entityID)
	}
	return value, nil
}
