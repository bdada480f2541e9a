// Package cleanup deletes terminated engine pods whose runs are over.
package cleanup

import (
	"context"

	"github.com/opst/testpod-controller/pkg/domain/run"
	"github.com/opst/testpod-controller/pkg/engine"
	"github.com/opst/testpod-controller/pkg/loop/recurring"
	"github.com/opst/testpod-controller/pkg/settings"
	k8s "github.com/opst/testpod-controller/pkg/workloads/k8s"
	"github.com/sirupsen/logrus"
)

type Settings interface {
	Get() settings.Settings
}

// initial value for task
func Seed() any {
	return nil
}

// Task deletes terminated pods when their runs are finished or have gone.
//
// Pods of other runs are left. Failed deletions are logged, and retried on the next invocation.
func Task(
	logger logrus.FieldLogger,
	runs run.Interface,
	client k8s.K8sClient,
	live Settings,
	namespace string,
) recurring.Task[any] {
	return func(ctx context.Context, value any) (any, bool, error) {
		pods, err := engine.Pods(ctx, client, namespace, live.Get().EngineLabel)
		if err != nil {
			logger.WithError(err).Error("scan aborted")
			return value, false, err
		}

		deleted := 0
		for _, pod := range engine.Terminated(pods) {
			name, ok := engine.RunName(pod)
			if !ok {
				continue
			}
			log := logger.WithFields(logrus.Fields{"run": name, "pod": pod.Name})

			r, err := runs.Get(ctx, name)
			if err != nil {
				log.WithError(err).Warn("failed to read run")
				continue
			}
			if r != nil && !r.Status.Finished() {
				continue
			}

			if err := client.DeletePod(ctx, namespace, pod.Name); err != nil {
				log.WithError(err).Warn("failed to delete pod")
				continue
			}
			if r == nil {
				log.Info("deleted pod of a removed run")
			} else {
				log.Info("deleted pod of a finished run")
			}
			deleted += 1
		}
		return value, 0 < deleted, nil
	}
}
