// Package beacon advertises the controller in the store.
package beacon

import (
	"context"
	"time"

	"github.com/opst/testpod-controller/pkg/dss"
	"github.com/opst/testpod-controller/pkg/loop/recurring"
	"github.com/sirupsen/logrus"
)

// Expiry is how long a beacon is valid after it is put.
const Expiry = 2 * time.Minute

// Keys returns the keys of the beacon of the controller.
func Keys(controllerID string) (heartbeat string, expire string) {
	heartbeat = "servers.controller." + controllerID + ".heartbeat"
	return heartbeat, heartbeat + ".expire"
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

// initial value for task
func Seed() any {
	return nil
}

// Task puts the time and the expiry of the beacon.
func Task(logger logrus.FieldLogger, store dss.Store, controllerID string, opts ...Option) recurring.Task[any] {
	o := &options{now: time.Now}
	for _, opt := range opts {
		o = opt(o)
	}
	heartbeat, expire := Keys(controllerID)

	return func(ctx context.Context, value any) (any, bool, error) {
		now := o.now().UTC()
		if err := store.Put(ctx, map[string]string{
			heartbeat: now.Format(time.RFC3339),
			expire:    now.Add(Expiry).Format(time.RFC3339),
		}); err != nil {
			logger.WithError(err).Warn("failed to put beacon")
			return value, false, err
		}
		return value, true, nil
	}
}
