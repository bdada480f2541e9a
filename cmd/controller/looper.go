package main

import (
	"context"
	"errors"
	"time"

	"github.com/opst/testpod-controller/pkg/loop"
	"github.com/opst/testpod-controller/pkg/loop/recurring"
	"github.com/sirupsen/logrus"
)

// Wrapper for monitoring loop tasks
//
// Log the start and end of each time a task is executed. Essentially, it executes a task.
func monitor[T any](logger logrus.FieldLogger, task loop.Task[T]) loop.Task[T] {
	// counter for execution of the task
	var counter uint64
	return func(ctx context.Context, t T) (ret T, next loop.Next) {
		counter += 1
		timestamp := time.Now()

		logger.Debugf("task start: #0x%X", counter)
		defer func() {
			logger.Debugf("task end: #0x%X (takes %s): %s", counter, time.Since(timestamp), next)
		}()

		ret, next = task(ctx, t)
		return
	}
}

// Manifest for starting a loop, which determines how the loop should behave.
type LoopManifest struct {
	// Name is logged as the field "loop".
	Name string

	// Policy for the looping
	Policy recurring.Policy

	// Timeout of each task. 0 means no timeout.
	Timeout time.Duration
}

// Logger for the loop.
func (m LoopManifest) Logger(root logrus.FieldLogger) logrus.FieldLogger {
	return root.WithField("loop", m.Name)
}

// startLoop runs task until ctx is done.
//
// Panics in the task are logged, and the loop goes on as the policy says.
// It returns nil when the loop is stopped by ctx.
func startLoop[T any](
	ctx context.Context,
	logger logrus.FieldLogger,
	seed T,
	task recurring.Task[T],
	manifest LoopManifest,
) error {
	l := manifest.Logger(logger)

	options := []loop.LoopOption{
		loop.WithRecover(func(r any) loop.Next {
			l.Errorf("task panicked: %v", r)
			return manifest.Policy.Next(false, nil)
		}),
	}
	if 0 < manifest.Timeout {
		options = append(options, loop.WithTimeout(manifest.Timeout))
	}

	l.Infof("start loop with policy %s", manifest.Policy)
	_, err := loop.Start(ctx, seed, monitor(l, task.Applied(manifest.Policy)), options...)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		l.Info("loop is stopped")
		return nil
	}
	return err
}
