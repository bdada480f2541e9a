package cps_test

import (
	"context"
	"testing"
	"time"

	"github.com/opst/testpod-controller/pkg/cps"
	"github.com/opst/testpod-controller/pkg/dss/memory"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestTunables(t *testing.T) {
	type When struct {
		stored map[string]string
	}
	type Then struct {
		launchInterval time.Duration
		deadHeartbeat  time.Duration
		warnings       int
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			logger, hook := logtest.NewNullLogger()
			testee := cps.New(memory.New(when.stored), "framework", logger)
			ctx := context.Background()

			if actual := testee.LaunchInterval(ctx); actual != then.launchInterval {
				t.Errorf("launch interval mismatch. (actual, expected) = (%s, %s)", actual, then.launchInterval)
			}
			if actual := testee.DeadHeartbeatTimeout(ctx); actual != then.deadHeartbeat {
				t.Errorf("dead heartbeat mismatch. (actual, expected) = (%s, %s)", actual, then.deadHeartbeat)
			}

			warnings := 0
			for _, e := range hook.AllEntries() {
				if e.Level == logrus.WarnLevel {
					warnings += 1
				}
			}
			if warnings != then.warnings {
				t.Errorf("warnings mismatch. (actual, expected) = (%d, %d)", warnings, then.warnings)
			}
		}
	}

	t.Run("defaults are used when nothing is set", theory(
		When{stored: nil},
		Then{launchInterval: time.Second, deadHeartbeat: 300 * time.Second},
	))

	t.Run("stored values are used", theory(
		When{stored: map[string]string{
			"framework.kube.launch.interval.milliseconds":           " 250 ",
			"framework.resource.management.dead.heartbeat.timeout": "60",
		}},
		Then{launchInterval: 250 * time.Millisecond, deadHeartbeat: time.Minute},
	))

	t.Run("blank values fall back silently", theory(
		When{stored: map[string]string{
			"framework.kube.launch.interval.milliseconds": "",
		}},
		Then{launchInterval: time.Second, deadHeartbeat: 300 * time.Second},
	))

	t.Run("invalid values fall back with warnings", theory(
		When{stored: map[string]string{
			"framework.kube.launch.interval.milliseconds":           "soon",
			"framework.resource.management.dead.heartbeat.timeout": "-1",
		}},
		Then{launchInterval: time.Second, deadHeartbeat: 300 * time.Second, warnings: 2},
	))

	t.Run("other namespaces are not read", theory(
		When{stored: map[string]string{
			"other.kube.launch.interval.milliseconds": "5",
		}},
		Then{launchInterval: time.Second, deadHeartbeat: 300 * time.Second},
	))
}
