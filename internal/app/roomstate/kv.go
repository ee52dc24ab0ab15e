package roomstate

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for rooms nobody provisioned.
	ErrNotFound = errors.New("roster not found")
	// ErrConflict is surfaced when CAS retries are exhausted. The
	// orchestrator turns it into a generic "retry" message.
	ErrConflict = errors.New("roster version conflict")
)

// KV is the external cache store. CompareAndSwap must be one atomic
// server-side operation (script or transaction): read the version key,
// compare to expected, and only if equal write data and version with a
// refreshed TTL. A missing version key matches expected == 0.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetEx(ctx context.Context, key string, val []byte, ttl time.Duration) error
	CompareAndSwap(ctx context.Context, dataKey, versionKey string, expected int64, data []byte, ttl time.Duration) (bool, error)
}
