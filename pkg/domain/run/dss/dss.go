// Package dss implements run.Interface on the coordination store.
package dss

import (
	"context"
	"sort"
	"time"

	"github.com/opst/testpod-controller/pkg/domain/run"
	store "github.com/opst/testpod-controller/pkg/dss"
	xe "github.com/opst/testpod-controller/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Repository struct {
	store  store.Store
	logger logrus.FieldLogger
	now    func() time.Time
}

var _ run.Interface = &Repository{}

type Option func(*Repository) *Repository

// WithClock replaces the clock used for timestamps this repository writes.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) *Repository {
		r.now = now
		return r
	}
}

// New creates a run repository.
//
// Runs which can not be read are logged to logger and left out of listings.
func New(s store.Store, logger logrus.FieldLogger, options ...Option) *Repository {
	r := &Repository{store: s, logger: logger, now: time.Now}
	for _, opt := range options {
		r = opt(r)
	}
	return r
}

func (r *Repository) All(ctx context.Context) ([]run.Run, error) {
	kvs, err := r.store.GetPrefix(ctx, run.Prefix)
	if err != nil {
		return nil, xe.WrapWithNote("listing runs", err)
	}

	grouped := run.Group(kvs)
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	runs := make([]run.Run, 0, len(names))
	for _, name := range names {
		rn, err := run.FromFields(name, grouped[name])
		if err != nil {
			r.logger.WithError(err).WithField("run", name).Warn("skipping unreadable run")
			continue
		}
		runs = append(runs, rn)
	}
	return runs, nil
}

func (r *Repository) filter(ctx context.Context, pred func(run.Run) bool) ([]run.Run, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	ret := make([]run.Run, 0, len(all))
	for _, rn := range all {
		if pred(rn) {
			ret = append(ret, rn)
		}
	}
	return ret, nil
}

func (r *Repository) Queued(ctx context.Context) ([]run.Run, error) {
	return r.filter(ctx, func(rn run.Run) bool {
		return rn.Status == run.StatusQueued
	})
}

func (r *Repository) Active(ctx context.Context) ([]run.Run, error) {
	return r.filter(ctx, func(rn run.Run) bool {
		return rn.Status != run.StatusQueued && !rn.Status.Finished()
	})
}

func (r *Repository) Get(ctx context.Context, name string) (*run.Run, error) {
	kvs, err := r.store.GetPrefix(ctx, run.Prefix+name+".")
	if err != nil {
		return nil, xe.WrapWithNote("getting run "+name, err)
	}
	fields, ok := run.Group(kvs)[name]
	if !ok {
		return nil, nil
	}
	rn, err := run.FromFields(name, fields)
	if err != nil {
		return nil, err
	}
	return &rn, nil
}

func (r *Repository) Allocate(ctx context.Context, name string, controllerID string, now time.Time, timeout time.Duration) (bool, error) {
	ok, err := r.store.PutSwap(
		ctx,
		run.Key(name, run.FieldStatus), string(run.StatusQueued), string(run.StatusAllocated),
		map[string]string{
			run.Key(name, run.FieldController):      controllerID,
			run.Key(name, run.FieldAllocated):       run.FormatTime(now),
			run.Key(name, run.FieldAllocateTimeout): run.FormatTime(now.Add(timeout)),
		},
	)
	if err != nil {
		return false, xe.WrapWithNote("allocating run "+name, err)
	}
	return ok, nil
}

func (r *Repository) MarkFinished(ctx context.Context, name string, reason run.Result) (bool, error) {
	ok, err := r.store.Update(
		ctx,
		[]store.Condition{{Key: run.Key(name, run.FieldInterruptReason), Value: string(reason)}},
		map[string]string{
			run.Key(name, run.FieldStatus):   string(run.StatusFinished),
			run.Key(name, run.FieldResult):   string(reason),
			run.Key(name, run.FieldFinished): run.FormatTime(r.now()),
		},
		[]string{
			run.Key(name, run.FieldInterruptReason),
			run.Key(name, run.FieldRasActions),
		},
	)
	if err != nil {
		return false, xe.WrapWithNote("finishing run "+name, err)
	}
	return ok, nil
}

func (r *Repository) Reset(ctx context.Context, name string) (bool, error) {
	rn, err := r.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if rn == nil || rn.Local {
		return false, nil
	}

	ok, err := r.store.Update(
		ctx,
		[]store.Condition{{Key: run.Key(name, run.FieldInterruptReason), Value: string(run.ResultRequeued)}},
		map[string]string{
			run.Key(name, run.FieldStatus): string(run.StatusQueued),
		},
		[]string{
			run.Key(name, run.FieldHeartbeat),
			run.Key(name, run.FieldInterruptReason),
			run.Key(name, run.FieldRasActions),
			run.Key(name, run.FieldController),
			run.Key(name, run.FieldAllocated),
			run.Key(name, run.FieldAllocateTimeout),
		},
	)
	if err != nil {
		return false, xe.WrapWithNote("resetting run "+name, err)
	}
	return ok, nil
}

func (r *Repository) MarkInterrupted(ctx context.Context, name string, reason run.Result) (bool, error) {
	rn, err := r.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if rn == nil || rn.Status.Finished() || rn.InterruptReason == reason {
		return false, nil
	}

	actions := append(run.RasActions{}, rn.RasActions...)
	if rn.RasRunID != "" {
		actions = append(actions, run.RasAction{
			RunID:            rn.RasRunID,
			DesiredRunStatus: string(run.StatusFinished),
			DesiredRunResult: string(reason),
		})
	}
	encoded, err := actions.Encode()
	if err != nil {
		return false, err
	}

	kvs := map[string]string{
		run.Key(name, run.FieldInterruptReason): string(reason),
	}
	if encoded != "" {
		kvs[run.Key(name, run.FieldRasActions)] = encoded
	}
	if err := r.store.Put(ctx, kvs); err != nil {
		return false, xe.WrapWithNote("interrupting run "+name, err)
	}
	return true, nil
}
