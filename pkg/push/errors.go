package push

import (
	"errors"
	"fmt"
)

// ErrRecordNotFound indicates an operation referenced a channel id with
// no stored subscription record.
var ErrRecordNotFound = errors.New("push: no record for channel")

// CommClass classifies a relay service failure so callers can decide
// whether to retry, resubscribe, or give up.
type CommClass int

const (
	// CommTransient covers network failures and 5xx responses; the
	// caller may retry at a higher layer.
	CommTransient CommClass = iota
	// CommIdentityInvalid covers 401/410-class responses: the server
	// has forgotten this instance or channel.
	CommIdentityInvalid
	// CommPermanent covers other 4xx responses; retrying will not help.
	CommPermanent
)

func (c CommClass) String() string {
	switch c {
	case CommTransient:
		return "transient"
	case CommIdentityInvalid:
		return "identity-invalid"
	case CommPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CommunicationError reports a failed relay service call together with
// the HTTP status (0 for transport-level failures) and a class.
type CommunicationError struct {
	Op     string
	Status int
	Class  CommClass
	Err    error
}

func (e *CommunicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("push: %s failed (%s, status %d): %v", e.Op, e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("push: %s failed (%s, status %d)", e.Op, e.Class, e.Status)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// IsIdentityInvalid reports whether err is a CommunicationError with
// the identity-invalid class.
func IsIdentityInvalid(err error) bool {
	var commErr *CommunicationError
	return errors.As(err, &commErr) && commErr.Class == CommIdentityInvalid
}

// StorageError reports a failure of the backing record store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("push: storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CryptoError reports a key generation or message decryption failure.
// These are never retried; a message that fails authentication is
// simply rejected.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("push: %s failed: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// RegistrationError reports that no valid connection identity exists
// and the attempt to establish one failed.
type RegistrationError struct {
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("push: registration failed: %v", e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
