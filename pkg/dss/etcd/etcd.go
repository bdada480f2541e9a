// Package etcd implements dss.Store on etcd v3.
package etcd

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opst/testpod-controller/pkg/dss"
	xe "github.com/opst/testpod-controller/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// rewatchDelay is waited before watching again a prefix whose watch is closed.
const rewatchDelay = time.Second

type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Username    string
	Password    string
}

type Store struct {
	client *clientv3.Client
	logger logrus.FieldLogger

	mu      sync.Mutex
	watches map[string]context.CancelFunc
}

var _ dss.Store = &Store{}

// Connect dials etcd.
func Connect(conf Config, logger logrus.FieldLogger) (*Store, error) {
	timeout := conf.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   conf.Endpoints,
		DialTimeout: timeout,
		Username:    conf.Username,
		Password:    conf.Password,
	})
	if err != nil {
		return nil, xe.WrapWithNote("connecting etcd", err)
	}
	return New(cli, logger), nil
}

// New wraps an etcd client. The Store owns the client after that.
func New(cli *clientv3.Client, logger logrus.FieldLogger) *Store {
	return &Store{client: cli, logger: logger, watches: map[string]context.CancelFunc{}}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return "", false, xe.Wrap(err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (s *Store) GetPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, xe.Wrap(err)
	}
	ret := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ret[string(kv.Key)] = string(kv.Value)
	}
	return ret, nil
}

func putOps(kvs map[string]string) []clientv3.Op {
	ops := make([]clientv3.Op, 0, len(kvs))
	for k, v := range kvs {
		ops = append(ops, clientv3.OpPut(k, v))
	}
	return ops
}

func (s *Store) Put(ctx context.Context, kvs map[string]string) error {
	if len(kvs) == 0 {
		return nil
	}
	if _, err := s.client.Txn(ctx).Then(putOps(kvs)...).Commit(); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (s *Store) PutSwap(ctx context.Context, key string, expectedOld string, newValue string, extra map[string]string) (bool, error) {
	ops := putOps(extra)
	ops = append(ops, clientv3.OpPut(key, newValue))

	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(key), "=", expectedOld)).
		Then(ops...).
		Commit()
	if err != nil {
		return false, xe.Wrap(err)
	}
	return resp.Succeeded, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ops := make([]clientv3.Op, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, clientv3.OpDelete(k))
	}
	if _, err := s.client.Txn(ctx).Then(ops...).Commit(); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, conds []dss.Condition, puts map[string]string, deletes []string) (bool, error) {
	cmps := make([]clientv3.Cmp, 0, len(conds))
	for _, c := range conds {
		cmps = append(cmps, clientv3.Compare(clientv3.Value(c.Key), "=", c.Value))
	}
	ops := putOps(puts)
	for _, k := range deletes {
		ops = append(ops, clientv3.OpDelete(k))
	}

	resp, err := s.client.Txn(ctx).If(cmps...).Then(ops...).Commit()
	if err != nil {
		return false, xe.Wrap(err)
	}
	return resp.Succeeded, nil
}

// WatchPrefix starts watching prefix.
//
// When etcd closes the watch (for example, by compaction), it is started again
// from the revision after the last notified one. Changes lost by compaction are logged.
func (s *Store) WatchPrefix(prefix string, fn dss.WatchFunc) (string, error) {
	ctx, cancel := context.WithCancel(context.Background())

	id := uuid.NewString()
	s.mu.Lock()
	s.watches[id] = cancel
	s.mu.Unlock()

	log := s.logger.WithField("prefix", prefix)
	go func() {
		var last int64
		for {
			opts := []clientv3.OpOption{clientv3.WithPrefix(), clientv3.WithPrevKV()}
			if 0 < last {
				opts = append(opts, clientv3.WithRev(last+1))
			}
			for resp := range s.client.Watch(ctx, prefix, opts...) {
				if resp.CompactRevision != 0 {
					log.Warnf("watch is compacted at revision %d. changes before it are lost", resp.CompactRevision)
					last = resp.CompactRevision - 1
				}
				if resp.Canceled {
					if err := resp.Err(); err != nil {
						log.WithError(err).Warn("watch is cancelled")
					}
					break
				}
				for _, ev := range resp.Events {
					typ, old, new := translate(ev)
					fn(typ, string(ev.Kv.Key), old, new)
					last = ev.Kv.ModRevision
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(rewatchDelay):
			}
			log.WithField("revision", last+1).Info("watching again")
		}
	}()

	return id, nil
}

func translate(ev *clientv3.Event) (dss.EventType, string, string) {
	old := ""
	if ev.PrevKv != nil {
		old = string(ev.PrevKv.Value)
	}

	switch ev.Type {
	case mvccpb.DELETE:
		return dss.EventDelete, old, ""
	default:
		if ev.IsCreate() {
			return dss.EventPut, old, string(ev.Kv.Value)
		}
		return dss.EventModified, old, string(ev.Kv.Value)
	}
}

func (s *Store) Unwatch(watchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.watches[watchID]
	if !ok {
		return xe.Missingf("watch %s", watchID)
	}
	cancel()
	delete(s.watches, watchID)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	for id, cancel := range s.watches {
		cancel()
		delete(s.watches, id)
	}
	s.mu.Unlock()
	return s.client.Close()
}
