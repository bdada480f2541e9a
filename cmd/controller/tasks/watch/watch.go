// Package watch passes status changes of runs in the store to resource management providers.
package watch

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/opst/testpod-controller/pkg/domain/run"
	"github.com/opst/testpod-controller/pkg/dss"
	"github.com/opst/testpod-controller/pkg/loop/recurring"
	"github.com/opst/testpod-controller/pkg/utils/queue"
	"github.com/sirupsen/logrus"
)

var statusKey = regexp.MustCompile(`^run\.([^.]+)\.status$`)

// Event is a change on a status key of a run.
type Event struct {
	Type     dss.EventType
	Key      string
	RunName  string
	OldValue string
	NewValue string
}

type Queue = queue.Bounded[Event]

func NewQueue(capacity int) *Queue {
	return queue.NewBounded[Event](capacity)
}

// Notifier is told about runs finished or deleted.
type Notifier interface {
	RunFinishedOrDeleted(ctx context.Context, runName string) int
}

// Watcher queues changes of run status.
type Watcher struct {
	store  dss.Store
	events *Queue
	logger logrus.FieldLogger

	mu      sync.Mutex
	watchID string
}

func NewWatcher(store dss.Store, events *Queue, logger logrus.FieldLogger) *Watcher {
	return &Watcher{store: store, events: events, logger: logger}
}

// Start watches keys of runs.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watchID != "" {
		return nil
	}
	id, err := w.store.WatchPrefix(run.Prefix, w.Callback)
	if err != nil {
		return err
	}
	w.watchID = id
	return nil
}

// Stop stops watching. Stopping a stopped Watcher does nothing.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watchID == "" {
		return nil
	}
	id := w.watchID
	w.watchID = ""
	return w.store.Unwatch(id)
}

// Callback queues changes on "run.<name>.status". It never blocks.
func (w *Watcher) Callback(typ dss.EventType, key string, oldValue string, newValue string) {
	if key == "" {
		return
	}
	m := statusKey.FindStringSubmatch(key)
	if m == nil {
		return
	}
	ev := Event{Type: typ, Key: key, RunName: m[1], OldValue: oldValue, NewValue: newValue}
	if !w.events.Offer(ev) {
		w.logger.WithFields(logrus.Fields{"run": ev.RunName, "type": typ}).Warn("watch queue is full. event is dropped")
	}
}

// initial value for task
func Seed() any {
	return nil
}

// Drain empties the queue, notifying runs deleted or changed to finished.
//
// Other events are discarded.
func Drain(logger logrus.FieldLogger, events *Queue, notifier Notifier) recurring.Task[any] {
	return func(ctx context.Context, value any) (any, bool, error) {
		notified := 0
		events.Drain(func(ev Event) {
			if ev.Type != dss.EventDelete && !strings.EqualFold(ev.NewValue, string(run.StatusFinished)) {
				return
			}
			accepted := notifier.RunFinishedOrDeleted(ctx, ev.RunName)
			logger.WithFields(logrus.Fields{
				"run": ev.RunName, "type": ev.Type, "providers": accepted,
			}).Debug("notified run finished or deleted")
			notified += 1
		})
		return value, 0 < notified, nil
	}
}
