package cache

import "errors"

// ErrOutOfCapacity is returned by Manager.CreateCache when even the
// minimum cache size cannot be granted within the global hard limit.
var ErrOutOfCapacity = errors.New("tiercache: out of capacity")

// ErrBusy is returned by Manager.Close while any cache is still registered,
// and by cache operations whose target bucket cannot be obtained (its lock
// was not acquired, or the cache's table has already been released).
var ErrBusy = errors.New("tiercache: busy")

// ErrNotOperational is returned by operations attempted against a cache
// that is shutting down or has already shut down.
var ErrNotOperational = errors.New("tiercache: cache not operational")
