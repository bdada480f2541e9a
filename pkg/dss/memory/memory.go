// Package memory is an in-process dss.Store.
//
// It is used by tests and by the "memory" store type for a single replica.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/opst/testpod-controller/pkg/dss"
	xe "github.com/opst/testpod-controller/pkg/errors"
)

type watcher struct {
	prefix string
	fn     dss.WatchFunc
}

type change struct {
	typ      dss.EventType
	key      string
	oldValue string
	newValue string
}

type Store struct {
	mu       sync.Mutex
	kv       map[string]string
	watchers map[string]watcher
	closed   bool
}

var _ dss.Store = &Store{}

// New creates a Store holding initial.
func New(initial map[string]string) *Store {
	kv := make(map[string]string, len(initial))
	for k, v := range initial {
		kv[k] = v
	}
	return &Store{kv: kv, watchers: map[string]watcher{}}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(ctx); err != nil {
		return "", false, err
	}
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *Store) GetPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(ctx); err != nil {
		return nil, err
	}
	ret := map[string]string{}
	for k, v := range s.kv {
		if strings.HasPrefix(k, prefix) {
			ret[k] = v
		}
	}
	return ret, nil
}

func (s *Store) Put(ctx context.Context, kvs map[string]string) error {
	s.mu.Lock()
	if err := s.usable(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	changes := s.put(kvs)
	ws := s.currentWatchers()
	s.mu.Unlock()
	notify(ws, changes)
	return nil
}

func (s *Store) PutSwap(ctx context.Context, key string, expectedOld string, newValue string, extra map[string]string) (bool, error) {
	s.mu.Lock()
	if err := s.usable(ctx); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if current, ok := s.kv[key]; !ok || current != expectedOld {
		s.mu.Unlock()
		return false, nil
	}

	kvs := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		kvs[k] = v
	}
	kvs[key] = newValue
	changes := s.put(kvs)
	ws := s.currentWatchers()
	s.mu.Unlock()
	notify(ws, changes)
	return true, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	if err := s.usable(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	changes := []change{}
	for _, k := range keys {
		old, ok := s.kv[k]
		if !ok {
			continue
		}
		delete(s.kv, k)
		changes = append(changes, change{typ: dss.EventDelete, key: k, oldValue: old})
	}
	ws := s.currentWatchers()
	s.mu.Unlock()
	notify(ws, changes)
	return nil
}

func (s *Store) Update(ctx context.Context, conds []dss.Condition, puts map[string]string, deletes []string) (bool, error) {
	s.mu.Lock()
	if err := s.usable(ctx); err != nil {
		s.mu.Unlock()
		return false, err
	}
	for _, c := range conds {
		if current, ok := s.kv[c.Key]; !ok || current != c.Value {
			s.mu.Unlock()
			return false, nil
		}
	}
	changes := s.put(puts)
	for _, k := range deletes {
		old, ok := s.kv[k]
		if !ok {
			continue
		}
		delete(s.kv, k)
		changes = append(changes, change{typ: dss.EventDelete, key: k, oldValue: old})
	}
	ws := s.currentWatchers()
	s.mu.Unlock()
	notify(ws, changes)
	return true, nil
}

func (s *Store) WatchPrefix(prefix string, fn dss.WatchFunc) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", xe.New("store is closed")
	}
	id := uuid.NewString()
	s.watchers[id] = watcher{prefix: prefix, fn: fn}
	return id, nil
}

func (s *Store) Unwatch(watchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watchers[watchID]; !ok {
		return xe.Missingf("watch %s", watchID)
	}
	delete(s.watchers, watchID)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.watchers = map[string]watcher{}
	return nil
}

// Snapshot copies all pairs in the store.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make(map[string]string, len(s.kv))
	for k, v := range s.kv {
		ret[k] = v
	}
	return ret
}

// usable should be called with s.mu held.
func (s *Store) usable(ctx context.Context) error {
	if s.closed {
		return xe.New("store is closed")
	}
	return ctx.Err()
}

// put should be called with s.mu held.
func (s *Store) put(kvs map[string]string) []change {
	changes := make([]change, 0, len(kvs))
	for k, v := range kvs {
		old, existed := s.kv[k]
		s.kv[k] = v
		typ := dss.EventPut
		if existed {
			typ = dss.EventModified
		}
		changes = append(changes, change{typ: typ, key: k, oldValue: old, newValue: v})
	}
	return changes
}

// currentWatchers should be called with s.mu held.
func (s *Store) currentWatchers() []watcher {
	ws := make([]watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		ws = append(ws, w)
	}
	return ws
}

// notify runs without locks, so callbacks can use the store.
// Concurrent writers may have their notifications interleaved.
func notify(ws []watcher, changes []change) {
	for _, c := range changes {
		for _, w := range ws {
			if strings.HasPrefix(c.key, w.prefix) {
				w.fn(c.typ, c.key, c.oldValue, c.newValue)
			}
		}
	}
}
