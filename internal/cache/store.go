package cache

import "errors"

// ErrNotFound is returned by a Store when a key has never been written
var ErrNotFound = errors.New("not found")

// Store persists encoded cache entries, one per key
type Store interface {
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
	Delete(key string) error
	Keys() ([]string, error)
}
