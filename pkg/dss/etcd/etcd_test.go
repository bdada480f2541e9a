package etcd_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/testpod-controller/pkg/dss"
	"github.com/opst/testpod-controller/pkg/dss/etcd"
	"github.com/opst/testpod-controller/pkg/utils/try"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// connect returns a Store on the etcd named by TESTPOD_TEST_ETCD,
// or skips the test when it is not set.
func connect(t *testing.T) *etcd.Store {
	t.Helper()
	endpoints := os.Getenv("TESTPOD_TEST_ETCD")
	if endpoints == "" {
		t.Skip("TESTPOD_TEST_ETCD is not set")
	}
	s := try.To(etcd.Connect(etcd.Config{
		Endpoints:   strings.Split(endpoints, ","),
		DialTimeout: 5 * time.Second,
	}, logrus.New())).OrFatal(t)
	t.Cleanup(func() { s.Close() })
	return s
}

// cleanPrefix removes keys under prefix when the test finishes.
func cleanPrefix(t *testing.T, s *etcd.Store, prefix string) {
	t.Cleanup(func() {
		ctx := context.Background()
		kvs, err := s.GetPrefix(ctx, prefix)
		if err != nil {
			t.Log(err)
			return
		}
		keys := make([]string, 0, len(kvs))
		for k := range kvs {
			keys = append(keys, k)
		}
		s.Delete(ctx, keys...)
	})
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("PutSwap succeeds only when the value matches", func(t *testing.T) {
		s := connect(t)
		prefix := "test." + t.Name() + "."
		cleanPrefix(t, s, prefix)

		key := prefix + "status"
		if err := s.Put(ctx, map[string]string{key: "queued"}); err != nil {
			t.Fatal(err)
		}

		ok := try.To(s.PutSwap(ctx, key, "queued", "allocated", map[string]string{prefix + "controller": "c1"})).OrFatal(t)
		if !ok {
			t.Fatal("first swap failed")
		}
		ok = try.To(s.PutSwap(ctx, key, "queued", "allocated", map[string]string{prefix + "controller": "c2"})).OrFatal(t)
		if ok {
			t.Fatal("second swap succeeded")
		}

		actual := try.To(s.GetPrefix(ctx, prefix)).OrFatal(t)
		expected := map[string]string{key: "allocated", prefix + "controller": "c1"}
		if diff := cmp.Diff(expected, actual); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Update writes and deletes only when every condition holds", func(t *testing.T) {
		s := connect(t)
		prefix := "test." + t.Name() + "."
		cleanPrefix(t, s, prefix)

		if err := s.Put(ctx, map[string]string{prefix + "status": "running", prefix + "reason": "Requeued"}); err != nil {
			t.Fatal(err)
		}
		conds := []dss.Condition{{Key: prefix + "reason", Value: "Requeued"}}

		ok := try.To(s.Update(ctx, conds, map[string]string{prefix + "status": "queued"}, []string{prefix + "reason"})).OrFatal(t)
		if !ok {
			t.Fatal("first update failed")
		}
		ok = try.To(s.Update(ctx, conds, map[string]string{prefix + "status": "queued-again"}, nil)).OrFatal(t)
		if ok {
			t.Fatal("second update succeeded")
		}

		actual := try.To(s.GetPrefix(ctx, prefix)).OrFatal(t)
		if diff := cmp.Diff(map[string]string{prefix + "status": "queued"}, actual); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("watch notifies creation, modification and deletion", func(t *testing.T) {
		s := connect(t)
		prefix := "test." + t.Name() + "."
		cleanPrefix(t, s, prefix)

		got := make(chan dss.EventType, 3)
		id := try.To(s.WatchPrefix(prefix, func(typ dss.EventType, _, _, _ string) {
			got <- typ
		})).OrFatal(t)
		defer s.Unwatch(id)

		key := prefix + "k"
		s.Put(ctx, map[string]string{key: "1"})
		s.Put(ctx, map[string]string{key: "2"})
		s.Delete(ctx, key)

		for _, want := range []dss.EventType{dss.EventPut, dss.EventModified, dss.EventDelete} {
			select {
			case typ := <-got:
				if typ != want {
					t.Errorf("mismatch. (actual, expected) = (%s, %s)", typ, want)
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("timeout waiting %s", want)
			}
		}
	})
}

func TestWatchPrefix_Unwatch(t *testing.T) {
	endpoints := os.Getenv("TESTPOD_TEST_ETCD")
	if endpoints == "" {
		t.Skip("TESTPOD_TEST_ETCD is not set")
	}
	ctx := context.Background()
	logger, hook := logtest.NewNullLogger()
	s := try.To(etcd.Connect(etcd.Config{
		Endpoints:   strings.Split(endpoints, ","),
		DialTimeout: 5 * time.Second,
	}, logger)).OrFatal(t)
	defer s.Close()
	prefix := "test." + t.Name() + "."
	cleanPrefix(t, s, prefix)

	got := make(chan string, 8)
	id := try.To(s.WatchPrefix(prefix, func(_ dss.EventType, key, _, _ string) {
		got <- key
	})).OrFatal(t)
	if err := s.Unwatch(id); err != nil {
		t.Fatal(err)
	}

	time.Sleep(2 * time.Second)
	if err := s.Put(ctx, map[string]string{prefix + "k": "1"}); err != nil {
		t.Fatal(err)
	}
	select {
	case key := <-got:
		t.Errorf("notified after unwatch: %s", key)
	case <-time.After(time.Second):
	}
	for _, e := range hook.AllEntries() {
		if e.Message == "watching again" {
			t.Error("unwatched prefix is watched again")
		}
	}
}
