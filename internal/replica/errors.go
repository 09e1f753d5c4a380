package replica

import "errors"

// NoSuchKeyError is returned by Update/process-path operations on a key
// that has never been created on this replica.
type NoSuchKeyError struct {
	Key string
}

func (e *NoSuchKeyError) Error() string {
	return "replica: no such key: " + e.Key
}

// DuplicateKeyError is returned by Create when the key already has a
// visible (non-tombstone) value on this replica.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return "replica: duplicate key: " + e.Key
}

// ConcurrentUpdateError is returned by Update/Delete when the set of
// visible versions has changed since the caller's last Read, meaning the
// caller's dependent_versions are stale.
type ConcurrentUpdateError struct {
	Key string
}

func (e *ConcurrentUpdateError) Error() string {
	return "replica: concurrent update on key: " + e.Key
}

// ErrFutureDependency is returned when a caller cites dependent_versions
// that this replica has not yet seen; the caller must have read those
// versions from a different, more up-to-date replica.
var ErrFutureDependency = errors.New("replica: dependent versions are from the future")
