package tx

import (
	"context"
	"sync"
	"time"

	dErrors "replate/pkg/domain-errors"
)

// Runner executes fn as one unit of work. key names the aggregate the work is
// serialized on; implementations that lock per aggregate use it, others may
// ignore it. fn must do all its store access through the ctx it receives.
type Runner interface {
	RunInTx(ctx context.Context, key string, fn func(txCtx context.Context) error) error
}

// numShards is the number of per-key mutexes the in-memory runner hashes onto.
const numShards = 128

// DefaultTimeout bounds a unit of work when ctx carries no deadline.
const DefaultTimeout = 5 * time.Second

// Sharded serializes in-memory units of work per key using sharded mutexes.
// Stores record compensating actions with OnRollback; when fn fails they run
// in reverse order so the failed unit leaves no partial effects.
type Sharded struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

func NewSharded(timeout time.Duration) *Sharded {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sharded{timeout: timeout}
}

type journalKey struct{}

type journal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *journal) record(fn func()) {
	j.mu.Lock()
	j.undo = append(j.undo, fn)
	j.mu.Unlock()
}

func (j *journal) rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// OnRollback registers undo to run if the surrounding in-memory unit of work
// fails. Outside a unit of work it is a no-op.
func OnRollback(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.record(undo)
	}
}

func (t *Sharded) RunInTx(ctx context.Context, key string, fn func(txCtx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	// Nested units join the outer one.
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := &t.shards[hashKey(key)%numShards]
	shard.Lock()
	defer shard.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}

// hashKey is FNV-1a.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
