// Package cps reads tunables from the configuration property store.
//
// Properties are read on every call, so operators can change them while running.
package cps

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/opst/testpod-controller/pkg/dss"
	xe "github.com/opst/testpod-controller/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	LaunchIntervalProperty       = "kube.launch.interval.milliseconds"
	DeadHeartbeatTimeoutProperty = "resource.management.dead.heartbeat.timeout"

	DefaultLaunchInterval       = 1000 * time.Millisecond
	DefaultDeadHeartbeatTimeout = 300 * time.Second
)

type Properties struct {
	store     dss.Store
	namespace string
	logger    logrus.FieldLogger
}

// New creates a property reader of the namespace, like "framework".
func New(store dss.Store, namespace string, logger logrus.FieldLogger) *Properties {
	return &Properties{store: store, namespace: namespace, logger: logger}
}

// Key returns the store key of the property.
func (p *Properties) Key(property string) string {
	return p.namespace + "." + property
}

// Get returns the trimmed value of the property.
//
// ok is false when the property is absent or blank.
func (p *Properties) Get(ctx context.Context, property string) (value string, ok bool, err error) {
	v, found, err := p.store.Get(ctx, p.Key(property))
	if err != nil {
		return "", false, xe.WrapWithNote("reading property "+p.Key(property), err)
	}
	v = strings.TrimSpace(v)
	return v, found && v != "", nil
}

// positiveInt reads a positive integer property, or returns def.
func (p *Properties) positiveInt(ctx context.Context, property string, def int64) int64 {
	log := p.logger.WithField("property", p.Key(property))

	v, ok, err := p.Get(ctx, property)
	if err != nil {
		log.WithError(err).Warnf("using default %d", def)
		return def
	}
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		log.Warnf("invalid value %q, using default %d", v, def)
		return def
	}
	return n
}

// LaunchInterval is the pause between pod launches.
func (p *Properties) LaunchInterval(ctx context.Context) time.Duration {
	ms := p.positiveInt(ctx, LaunchIntervalProperty, DefaultLaunchInterval.Milliseconds())
	return time.Duration(ms) * time.Millisecond
}

// DeadHeartbeatTimeout is how long a run may go without heartbeat.
func (p *Properties) DeadHeartbeatTimeout(ctx context.Context) time.Duration {
	s := p.positiveInt(ctx, DeadHeartbeatTimeoutProperty, int64(DefaultDeadHeartbeatTimeout/time.Second))
	return time.Duration(s) * time.Second
}
