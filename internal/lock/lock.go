package lock

import "context"

// Locker grants exclusive, non-blocking ownership of a key. When ok is true
// the caller must call unlock to release it.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}
