package beacon_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/testpod-controller/cmd/controller/tasks/beacon"
	"github.com/opst/testpod-controller/pkg/dss/memory"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestTask(t *testing.T) {
	t.Run("it puts the heartbeat and its expiry", func(t *testing.T) {
		logger, _ := logtest.NewNullLogger()
		store := memory.New(nil)
		now := time.Date(2024, 5, 1, 19, 0, 0, 0, time.FixedZone("JST", 9*60*60))

		testee := beacon.Task(logger, store, "c1", beacon.WithClock(func() time.Time { return now }))
		if _, _, err := testee(context.Background(), beacon.Seed()); err != nil {
			t.Fatal(err)
		}

		expected := map[string]string{
			"servers.controller.c1.heartbeat":        "2024-05-01T10:00:00Z",
			"servers.controller.c1.heartbeat.expire": "2024-05-01T10:02:00Z",
		}
		if diff := cmp.Diff(expected, store.Snapshot()); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("failures are returned", func(t *testing.T) {
		logger, hook := logtest.NewNullLogger()
		store := memory.New(nil)
		store.Close()

		testee := beacon.Task(logger, store, "c1")
		if _, _, err := testee(context.Background(), beacon.Seed()); err == nil {
			t.Error("expected error is not returned")
		}
		if hook.LastEntry() == nil {
			t.Error("failure is not logged")
		}
	})
}
