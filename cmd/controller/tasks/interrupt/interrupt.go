// Package interrupt handles runs with interruption requests.
//
// Monitor finds interrupted runs, deletes their pods and queues events.
// Processor takes events out of the queue and settles the runs.
package interrupt

import (
	"context"

	"github.com/opst/testpod-controller/pkg/domain/run"
	"github.com/opst/testpod-controller/pkg/engine"
	"github.com/opst/testpod-controller/pkg/loop/recurring"
	"github.com/opst/testpod-controller/pkg/ras"
	"github.com/opst/testpod-controller/pkg/utils/queue"
	k8s "github.com/opst/testpod-controller/pkg/workloads/k8s"
	"github.com/sirupsen/logrus"
)

// Event is an interruption of a run waiting to be processed.
type Event struct {
	RunName    string
	Reason     run.Result
	RasActions run.RasActions
	Local      bool
}

type Queue = queue.Bounded[Event]

func NewQueue(capacity int) *Queue {
	return queue.NewBounded[Event](capacity)
}

type Counter interface {
	Inc()
}

// initial value for task
func Seed() any {
	return nil
}

// Monitor queues an Event for each interrupted run, after deleting the run's pods.
//
// When the pods can not be found or deleted, or the queue is full, no event is queued
// and the next scan finds the run again.
func Monitor(
	logger logrus.FieldLogger,
	runs run.Interface,
	client k8s.K8sClient,
	namespace string,
	events *Queue,
) recurring.Task[any] {
	return func(ctx context.Context, value any) (any, bool, error) {
		all, err := runs.All(ctx)
		if err != nil {
			logger.WithError(err).Error("scan aborted")
			return value, false, err
		}

		queued := 0
		for _, r := range all {
			if !r.Interrupted() {
				continue
			}
			log := logger.WithFields(logrus.Fields{"run": r.Name, "reason": r.InterruptReason})

			ev := Event{RunName: r.Name, Reason: r.InterruptReason, RasActions: r.RasActions, Local: r.Local}

			pods, err := client.FindPods(
				ctx, namespace, k8s.LabelSelector{engine.LabelRun: k8s.EqualityBased(r.Name)},
			)
			if err != nil {
				log.WithError(err).Warn("failed to find pods. retry on next scan")
				continue
			}
			deleted := true
			for _, p := range pods {
				if err := client.DeletePod(ctx, namespace, p.Name); err != nil {
					log.WithError(err).WithField("pod", p.Name).Warn("failed to delete pod. retry on next scan")
					deleted = false
					continue
				}
				log.WithField("pod", p.Name).Info("deleted pod of interrupted run")
			}
			if !deleted {
				continue
			}

			if !events.Offer(ev) {
				log.WithField("capacity", events.Cap()).Warn("interrupt queue is full. event is dropped")
				continue
			}
			queued += 1
		}
		return value, 0 < queued, nil
	}
}

// Processor drains the queue. For each event, RAS actions are applied and then the run is
//
//   - finished with the reason as result, for Cancelled and Hung.
//
//   - put back to queued, for Requeued. Local runs can not be requeued, so they are
//     finished with result Requeued.
//
// An event whose interruption has been consumed already (by a duplicated event or another
// controller) changes nothing. Events with other reasons are logged and dropped.
func Processor(
	logger logrus.FieldLogger,
	runs run.Interface,
	archive ras.Archive,
	events *Queue,
	processed Counter,
) recurring.Task[any] {
	return func(ctx context.Context, value any) (any, bool, error) {
		n := events.Drain(func(ev Event) {
			defer processed.Inc()
			process(ctx, logger.WithFields(logrus.Fields{"run": ev.RunName, "reason": ev.Reason}), runs, archive, ev)
		})
		return value, 0 < n, nil
	}
}

func process(ctx context.Context, log logrus.FieldLogger, runs run.Interface, archive ras.Archive, ev Event) {
	ras.ApplyActions(ctx, log, archive, ev.RunName, ev.RasActions)

	switch {
	case ev.Reason == run.ResultCancelled, ev.Reason == run.ResultHung:
		finish(ctx, log, runs, ev)
	case ev.Reason == run.ResultRequeued && ev.Local:
		log.Warn("local runs can not be requeued. finishing it instead")
		finish(ctx, log, runs, ev)
	case ev.Reason == run.ResultRequeued:
		reset, err := runs.Reset(ctx, ev.RunName)
		if err != nil {
			log.WithError(err).Error("failed to requeue interrupted run")
			return
		}
		if !reset {
			log.Debug("interruption is already consumed")
			return
		}
		log.Info("interrupted run is requeued")
	default:
		log.Error("unknown interrupt reason. event is dropped")
	}
}

func finish(ctx context.Context, log logrus.FieldLogger, runs run.Interface, ev Event) {
	finished, err := runs.MarkFinished(ctx, ev.RunName, ev.Reason)
	if err != nil {
		log.WithError(err).Error("failed to finish interrupted run")
		return
	}
	if !finished {
		log.Debug("interruption is already consumed")
		return
	}
	log.Info("interrupted run is finished")
}
