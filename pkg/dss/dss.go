// Package dss is the client contract of the coordination store,
// a strongly consistent key/value store shared by every controller replica.
//
// Keys are dot separated, like "run.U123.status".
package dss

import "context"

type EventType string

const (
	// EventPut is notified when a key is created.
	EventPut EventType = "PUT"
	// EventModified is notified when an existing key is overwritten.
	EventModified EventType = "MODIFIED"
	// EventDelete is notified when a key is removed.
	EventDelete EventType = "DELETE"
)

// WatchFunc is called for each change under a watched prefix.
//
// It runs on the store client's goroutine. It must return quickly.
type WatchFunc func(typ EventType, key string, oldValue string, newValue string)

// Condition holds when the current value of Key is Value.
//
// It never holds for an absent key.
type Condition struct {
	Key   string
	Value string
}

type Store interface {
	// Get returns the value of key. ok is false when key does not exist.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// GetPrefix returns all pairs whose key starts with prefix.
	GetPrefix(ctx context.Context, prefix string) (map[string]string, error)

	// Put writes all pairs in kvs atomically.
	Put(ctx context.Context, kvs map[string]string) error

	// PutSwap sets newValue to key only if its current value is expectedOld.
	//
	// When swapped, pairs in extra are written in the same transaction.
	// It returns false when the current value is different (or key is absent).
	// That is not an error.
	PutSwap(ctx context.Context, key string, expectedOld string, newValue string, extra map[string]string) (bool, error)

	// Delete removes keys atomically. Absent keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Update writes puts and removes deletes in one transaction, only if all of conds hold.
	//
	// A key must not be in both puts and deletes. Absent keys in deletes are ignored.
	// It returns false when a condition does not hold, and nothing is changed.
	// That is not an error.
	Update(ctx context.Context, conds []Condition, puts map[string]string, deletes []string) (bool, error)

	// WatchPrefix starts notifying changes under prefix to fn.
	//
	// It returns an id to stop watching with Unwatch.
	WatchPrefix(prefix string, fn WatchFunc) (string, error)

	Unwatch(watchID string) error

	Close() error
}
