package credential

import (
	"context"
	"errors"
	"fmt"
)

// Store kinds. KV-style stores support single-key reload, which the auth
// manager uses to pick up tokens written by other processes.
const (
	KindFile     = "file"
	KindKV       = "kv"
	KindDocument = "document"
	KindRedis    = "redis"
	KindEnv      = "env"
)

var (
	// ErrNotFound indicates the requested credential key does not exist.
	ErrNotFound = errors.New("credential not found")
	// ErrReadOnly indicates the store cannot persist refreshed records.
	ErrReadOnly = errors.New("credential store is read-only")
)

// Store reads and writes credential records. LoadAll preserves key
// lexicographic order within each key family so round-robin selection is
// deterministic across restarts. Save only updates pre-existing keys;
// creating new keys is not part of the contract.
type Store interface {
	Kind() string
	LoadAll(ctx context.Context) ([]*Record, error)
	LoadByKey(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Close() error
}

// StoreError wraps a store failure with its kind for the error boundary.
type StoreError struct {
	StoreKind string
	Op        string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("credential store %s: %s: %v", e.StoreKind, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{StoreKind: kind, Op: op, Err: err}
}
