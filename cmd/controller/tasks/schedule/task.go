// Package schedule launches engine pods for queued runs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/opst/testpod-controller/pkg/domain/run"
	"github.com/opst/testpod-controller/pkg/engine"
	"github.com/opst/testpod-controller/pkg/loop/recurring"
	"github.com/opst/testpod-controller/pkg/settings"
	"github.com/opst/testpod-controller/pkg/utils/retry"
	k8s "github.com/opst/testpod-controller/pkg/workloads/k8s"
	"github.com/sirupsen/logrus"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
)

// AllocateTimeout is written with allocations. Nothing reads it back.
const AllocateTimeout = 15 * time.Minute

// Settings is live engine settings.
type Settings interface {
	Get() settings.Settings
}

// Pacing tells how long to wait between launches. It is asked on every launch.
type Pacing interface {
	LaunchInterval(ctx context.Context) time.Duration
}

// Counter is incremented per submitted pod.
type Counter interface {
	Inc()
}

type Config struct {
	Namespace    string
	ControllerID string

	// RetryInterval is the wait before retrying a failed pod creation.
	RetryInterval time.Duration

	// MaxAttempts caps pod creation attempts per run. 0 is unbounded.
	//
	// Name collisions are not counted.
	MaxAttempts int

	// Env is passed to engines.
	Env engine.Env
}

// Sleep blocks for d, or until ctx is done.
type Sleep func(ctx context.Context, d time.Duration) error

type options struct {
	now   func() time.Time
	sleep Sleep
}

type Option func(*options) *options

func WithClock(now func() time.Time) Option {
	return func(o *options) *options {
		o.now = now
		return o
	}
}

func WithSleep(sleep Sleep) Option {
	return func(o *options) *options {
		o.sleep = sleep
		return o
	}
}

func staticSleep(ctx context.Context, d time.Duration) error {
	return retry.StaticBackoff(d)(ctx)
}

// initial value for task
func Seed() any {
	return nil
}

// Task launches queued runs, the oldest first, while the engine pods are less than max engines.
//
// A failed scan is logged and aborted. The next invocation starts over.
func Task(
	logger logrus.FieldLogger,
	runs run.Interface,
	client k8s.K8sClient,
	live Settings,
	pacing Pacing,
	submitted Counter,
	conf Config,
	opts ...Option,
) recurring.Task[any] {
	o := &options{now: time.Now, sleep: staticSleep}
	for _, opt := range opts {
		o = opt(o)
	}

	s := &scheduler{
		logger: logger, runs: runs, client: client, pacing: pacing,
		submitted: submitted, conf: conf, options: o,
	}

	return func(ctx context.Context, value any) (any, bool, error) {
		launched, err := s.scan(ctx, live)
		if err != nil {
			logger.WithError(err).Error("scan aborted")
		}
		return value, 0 < launched, err
	}
}

type scheduler struct {
	logger    logrus.FieldLogger
	runs      run.Interface
	client    k8s.K8sClient
	pacing    Pacing
	submitted Counter
	conf      Config
	*options
}

func (s *scheduler) scan(ctx context.Context, live Settings) (int, error) {
	queued, err := s.runs.Queued(ctx)
	if err != nil {
		return 0, err
	}
	candidates := slices.DeleteFunc(queued, func(r run.Run) bool { return r.Local })
	if len(candidates) == 0 {
		return 0, nil
	}
	slices.SortStableFunc(candidates, func(a, b run.Run) int { return a.Queued.Compare(b.Queued) })

	launched := 0
	for 0 < len(candidates) {
		current := live.Get()

		pods, err := engine.Pods(ctx, s.client, s.conf.Namespace, current.EngineLabel)
		if err != nil {
			return launched, err
		}
		if current.MaxEngines <= len(pods) {
			s.logger.WithFields(logrus.Fields{
				"pods": len(pods), "maxEngines": current.MaxEngines,
			}).Debug("max engines reached")
			return launched, nil
		}

		next := candidates[0]
		candidates = candidates[1:]

		ok, err := s.start(ctx, next, current)
		if err != nil {
			return launched, err
		}
		if !ok {
			continue
		}
		launched += 1

		if 0 < len(candidates) {
			if err := s.sleep(ctx, s.pacing.LaunchInterval(ctx)); err != nil {
				return launched, err
			}
		}
	}
	return launched, nil
}

// start allocates the run and creates its pod.
//
// It returns false without error when another controller has allocated the run,
// or when pod creation has given up.
func (s *scheduler) start(ctx context.Context, r run.Run, current settings.Settings) (bool, error) {
	log := s.logger.WithField("run", r.Name)

	allocated, err := s.runs.Allocate(ctx, r.Name, s.conf.ControllerID, s.now(), AllocateTimeout)
	if err != nil {
		return false, err
	}
	if !allocated {
		log.Debug("allocated by another controller")
		return false, nil
	}

	base := engine.PodName(current.EngineLabel, r.Name)
	name := base
	suffix := 0
	failures := 0

	// the first attempt is made without waiting.
	waited := false
	backoff := retry.Limited(func(ctx context.Context) error {
		if !waited {
			waited = true
			return nil
		}
		return s.sleep(ctx, s.conf.RetryInterval)
	}, s.conf.MaxAttempts)

	_, err = retry.Blocking(ctx, backoff, func() (struct{}, error) {
		for {
			pod := engine.BuildPod(engine.Spec{
				Settings: current,
				Env:      s.conf.Env,
				RunName:  r.Name,
				PodName:  name,
				Trace:    r.Trace,
			}, log)

			_, err := s.client.CreatePod(ctx, s.conf.Namespace, pod)
			if err == nil {
				return struct{}{}, nil
			}
			if kubeerr.IsAlreadyExists(err) {
				suffix += 1
				name = fmt.Sprintf("%s-%d", base, suffix)
				log.WithField("pod", name).Debug("pod name is taken. retry with new name")
				continue
			}

			failures += 1
			log.WithError(err).Warnf("failed to create engine pod (attempt %d)", failures)
			return struct{}{}, retry.ErrRetry
		}
	})
	if errors.Is(err, retry.ErrGaveUp) {
		log.Errorf("gave up creating engine pod after %d attempts", failures)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.submitted.Inc()
	log.WithField("pod", name).Info("engine pod submitted")
	return true, nil
}
