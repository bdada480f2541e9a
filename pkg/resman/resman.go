// Package resman fans notifications about runs out to resource management providers.
//
// Providers are given as an explicit list when the controller is built.
package resman

import (
	"context"
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	xe "github.com/opst/testpod-controller/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Provider manages resources bound to runs.
type Provider interface {
	// Name identifies the provider. It is matched against include/exclude globs.
	Name() string

	// Start prepares the provider. A provider failed to start is not notified.
	Start(ctx context.Context) error

	// RunFinishedOrDeleted tells the provider that the run has finished or has been deleted.
	RunFinishedOrDeleted(ctx context.Context, runName string) error

	Shutdown(ctx context.Context)
}

type Providers struct {
	logger logrus.FieldLogger

	mu        sync.Mutex
	providers []Provider
}

func New(logger logrus.FieldLogger, providers ...Provider) *Providers {
	return &Providers{logger: logger, providers: providers}
}

// Names returns names of providers, in notification order.
func (ps *Providers) Names() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	names := make([]string, 0, len(ps.providers))
	for _, p := range ps.providers {
		names = append(names, p.Name())
	}
	return names
}

func (ps *Providers) list() []Provider {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]Provider{}, ps.providers...)
}

// Filter returns Providers which have providers matching any of includes and none of excludes.
//
// Empty includes means "**". It returns an error wrapping ErrInvalid for a malformed glob.
func (ps *Providers) Filter(includes []string, excludes []string) (*Providers, error) {
	if len(includes) == 0 {
		includes = []string{"**"}
	}
	for _, pat := range append(append([]string{}, includes...), excludes...) {
		if !doublestar.ValidatePattern(pat) {
			return nil, xe.Invalidf("provider filter %q", pat)
		}
	}

	matchAny := func(pats []string, name string) bool {
		for _, pat := range pats {
			if ok, _ := doublestar.Match(pat, name); ok {
				return true
			}
		}
		return false
	}

	kept := []Provider{}
	for _, p := range ps.list() {
		name := p.Name()
		if !matchAny(includes, name) {
			ps.logger.WithField("provider", name).Info("not included")
			continue
		}
		if matchAny(excludes, name) {
			ps.logger.WithField("provider", name).Info("excluded")
			continue
		}
		kept = append(kept, p)
	}
	return New(ps.logger, kept...), nil
}

// Initialise starts all providers at once.
//
// Providers failed to start are dropped with an error log. Order of the rest is kept.
func (ps *Providers) Initialise(ctx context.Context) {
	providers := ps.list()
	started := make([]bool, len(providers))

	eg, ectx := errgroup.WithContext(ctx)
	for i, p := range providers {
		i, p := i, p
		eg.Go(func() (err error) {
			log := ps.logger.WithField("provider", p.Name())
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("panic on starting: %v", r)
				}
			}()
			if err := p.Start(ectx); err != nil {
				log.WithError(err).Error("failed to start. it is not notified.")
				return nil
			}
			log.Info("started")
			started[i] = true
			return nil
		})
	}
	eg.Wait()

	kept := []Provider{}
	for i, p := range providers {
		if started[i] {
			kept = append(kept, p)
		}
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.providers = kept
}

// RunFinishedOrDeleted notifies providers one by one, in order.
//
// An error or a panic of one provider is logged, and the rest are also notified.
// It returns how many providers have accepted the notification.
func (ps *Providers) RunFinishedOrDeleted(ctx context.Context, runName string) int {
	accepted := 0
	for _, p := range ps.list() {
		log := ps.logger.WithFields(logrus.Fields{"provider": p.Name(), "run": runName})
		if err := notify(ctx, p, runName); err != nil {
			log.WithError(err).Error("failed to notify run finished or deleted")
			continue
		}
		accepted += 1
	}
	return accepted
}

func notify(ctx context.Context, p Provider, runName string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.RunFinishedOrDeleted(ctx, runName)
}

// Shutdown stops all providers at once, and waits for them.
func (ps *Providers) Shutdown(ctx context.Context) {
	eg := new(errgroup.Group)
	for _, p := range ps.list() {
		p := p
		eg.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					ps.logger.WithField("provider", p.Name()).Errorf("panic on shutdown: %v", r)
				}
			}()
			p.Shutdown(ctx)
			return nil
		})
	}
	eg.Wait()
}
