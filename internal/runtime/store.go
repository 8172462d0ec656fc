package runtime

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("runtime: key not found")

// Pipe collects mutations for one atomic batch. Operations are applied in
// order when the batch commits; a failed batch applies nothing.
type Pipe interface {
	Set(key string, value []byte)
	Delete(key string)
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
	ZAdd(key string, score float64, member string)
	ZRem(key string, member string)
}

// Store is the runtime key-value/index store the projector publishes into.
// Out-of-process actors (scheduler, evaluator, notifier) read it; this
// module only writes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	// Batch executes every operation queued on the pipe as one atomic
	// multi-op write.
	Batch(ctx context.Context, fn func(Pipe)) error
	Close() error
}
