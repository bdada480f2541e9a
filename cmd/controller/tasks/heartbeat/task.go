// Package heartbeat finds runs whose engines have stopped reporting.
package heartbeat

import (
	"context"
	"time"

	"github.com/opst/testpod-controller/pkg/domain/run"
	"github.com/opst/testpod-controller/pkg/loop/recurring"
	"github.com/sirupsen/logrus"
)

// Timeout tells how long a run may go without heartbeat. It is asked once per scan.
type Timeout interface {
	DeadHeartbeatTimeout(ctx context.Context) time.Duration
}

// Recorder is told about every completed scan.
type Recorder interface {
	Succeeded(at time.Time)
}

type Counter interface {
	Inc()
}

// Missing is a run observed without heartbeat.
type Missing struct {
	// FirstSeen is when the run was found without heartbeat for the first time.
	FirstSeen time.Time

	// LastChecked is when the run was found without heartbeat last time.
	LastChecked time.Time
}

// Cache is runs without heartbeat, keyed by run name.
//
// It is owned by one loop, and passed from a scan to the next.
type Cache map[string]Missing

// initial value for task
func Seed() Cache {
	return Cache{}
}

type Option func(*options) *options

type options struct {
	now func() time.Time
}

func WithClock(now func() time.Time) Option {
	return func(o *options) *options {
		o.now = now
		return o
	}
}

// Task marks active runs as interrupted when their heartbeat is older than the timeout.
//
// Runs of shared environments and runs already interrupted are left.
// A run with stale heartbeat is marked Hung if it is local, otherwise Requeued.
// A run without heartbeat is marked Hung when it has been without heartbeat for the timeout.
// Cache entries not checked for twice the timeout are evicted.
func Task(
	logger logrus.FieldLogger,
	runs run.Interface,
	timeout Timeout,
	recorder Recorder,
	scans Counter,
	opts ...Option,
) recurring.Task[Cache] {
	o := &options{now: time.Now}
	for _, opt := range opts {
		o = opt(o)
	}

	return func(ctx context.Context, cache Cache) (Cache, bool, error) {
		now := o.now()
		defer func() {
			recorder.Succeeded(now)
			scans.Inc()
		}()

		if cache == nil {
			cache = Cache{}
		}
		limit := timeout.DeadHeartbeatTimeout(ctx)

		active, err := runs.Active(ctx)
		if err != nil {
			logger.WithError(err).Error("scan aborted")
			return cache, false, err
		}

		marked := 0
		mark := func(r run.Run, reason run.Result) {
			log := logger.WithFields(logrus.Fields{"run": r.Name, "reason": reason})
			ok, err := runs.MarkInterrupted(ctx, r.Name, reason)
			if err != nil {
				log.WithError(err).Error("failed to interrupt run")
				return
			}
			if ok {
				log.Warn("run has lost its heartbeat. interrupted")
				marked += 1
			}
		}

		for _, r := range active {
			if r.SharedEnvironment || r.Interrupted() {
				delete(cache, r.Name)
				continue
			}

			if r.Heartbeat != nil {
				delete(cache, r.Name)
				if r.Heartbeat.Add(limit).After(now) {
					continue
				}
				if r.Local {
					mark(r, run.ResultHung)
				} else {
					mark(r, run.ResultRequeued)
				}
				continue
			}

			m, ok := cache[r.Name]
			if !ok {
				logger.WithField("run", r.Name).Debug("run has no heartbeat yet")
				cache[r.Name] = Missing{FirstSeen: now, LastChecked: now}
				continue
			}
			if limit <= now.Sub(m.FirstSeen) {
				mark(r, run.ResultHung)
				delete(cache, r.Name)
				continue
			}
			m.LastChecked = now
			cache[r.Name] = m
		}

		for name, m := range cache {
			if 2*limit <= now.Sub(m.LastChecked) {
				logger.WithField("run", name).Debug("run has gone. forget it")
				delete(cache, name)
			}
		}

		return cache, 0 < marked, nil
	}
}
