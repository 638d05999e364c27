package delegation

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingKeyMaterial means no local key pair exists for a data owner
	// whose private key is needed.
	ErrMissingKeyMaterial = errors.New("missing key material")
	// ErrMissingPublicKey means a data owner has no published public key, so
	// no exchange key can be created for it.
	ErrMissingPublicKey = errors.New("missing public key")
	// ErrCorruptedDelegation marks an entry whose plaintext does not name the
	// entity it is attached to, or that cannot be decrypted at all.
	ErrCorruptedDelegation = errors.New("corrupted delegation entry")
	// ErrMissingExchangeKey means a delegator has no exchange key with the
	// delegate it was asked about.
	ErrMissingExchangeKey = errors.New("missing exchange key")
	// ErrHierarchyCycle is returned when parent ids loop back on themselves.
	ErrHierarchyCycle = errors.New("data owner hierarchy cycle")
	// ErrNoEncryptionKey means no encryption secret is reachable for an entity.
	ErrNoEncryptionKey = errors.New("no encryption key available")
	// ErrPublicKeyExists is returned when generating a key pair for a data
	// owner that already published one.
	ErrPublicKeyExists = errors.New("public key already published")
)

// DataOwnerError attaches the data owner an error is about.
type DataOwnerError struct {
	DataOwnerID string
	Err         error
}

func (e DataOwnerError) Error() string {
	return fmt.Sprintf("healthcare party %s: %v", e.DataOwnerID, e.Err)
}

func (e DataOwnerError) Unwrap() error {
	return e.Err
}

func dataOwnerError(id string, err error) error {
	return DataOwnerError{DataOwnerID: id, Err: err}
}

// IsMissingKeyMaterial reports whether err is a missing local key pair.
func IsMissingKeyMaterial(err error) bool {
	return errors.Is(err, ErrMissingKeyMaterial)
}

// IsMissingPublicKey reports whether err is a missing published public key.
func IsMissingPublicKey(err error) bool {
	return errors.Is(err, ErrMissingPublicKey)
}

// FailedDataOwner returns the data owner named by err, if any.
func FailedDataOwner(err error) (string, bool) {
	var doErr DataOwnerError
	if errors.As(err, &doErr) {
		return doErr.DataOwnerID, true
	}
	return "", false
}
