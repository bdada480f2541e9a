package loop_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opst/testpod-controller/pkg/loop"
	"github.com/opst/testpod-controller/pkg/utils/try"
)

func TestStart(t *testing.T) {
	t.Run("it repeats tasks with interval until context get be done", func(t *testing.T) {
		period := 10 * time.Millisecond
		lifetime := 100 * time.Millisecond
		expectedMaxRepeat := int64(lifetime/period) + 1

		ctx, cancel := context.WithTimeout(context.Background(), lifetime)
		defer cancel()

		actual, err := loop.Start(
			ctx, 0, func(_ context.Context, v int64) (int64, loop.Next) {
				return v + 1, loop.Continue(period)
			},
		)

		if !errors.Is(err, context.DeadlineExceeded) {
			t.Error("expected error (DeadlineExceeded) is not returned: ", err)
		}

		if actual < 1 || expectedMaxRepeat < actual {
			t.Errorf(
				"task run too much/less (actual, expected) = (%d, 1..%d)",
				actual, expectedMaxRepeat,
			)
		}
	})

	t.Run("it pass deadlined context when WithTimout is passed", func(t *testing.T) {
		timeout := 100 * time.Millisecond

		try.To(loop.Start(
			context.Background(), 1, func(ctx context.Context, v int64) (int64, loop.Next) {
				now := time.Now()

				if deadline, ok := ctx.Deadline(); !ok {
					t.Errorf("deadline is not set")
				} else if !(deadline.Sub(now) <= timeout) {
					t.Errorf(
						"unexpected deadline\n===actual===\n%s\n===expected===\n(near) %s",
						deadline, now.Add(timeout),
					)
				}

				if 3 <= v {
					return v + 1, loop.Break(nil)
				}
				return v + 1, loop.Continue(time.Millisecond)
			},
			loop.WithTimeout(timeout),
		)).OrFatal(t)
	})

	t.Run("when context has been done before starting, it does nothing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		actual, err := loop.Start(
			ctx, 1, func(ctx context.Context, v int) (int, loop.Next) {
				return v + 1, loop.Continue(0)
			},
		)

		if !errors.Is(err, context.Canceled) {
			t.Fatal(err)
		}
		if actual != 1 {
			t.Errorf("loop does not honour context")
		}
	})

	t.Run("it repeats task until it Breaks with error", func(t *testing.T) {
		expectedErr := errors.New("break!")

		expected := 10
		actual, err := loop.Start(context.Background(), 1, func(ctx context.Context, v int) (int, loop.Next) {
			new := v + 1
			if expected <= new {
				return new, loop.Break(expectedErr)
			}
			return new, loop.Continue(0)
		})

		if !errors.Is(err, expectedErr) {
			t.Errorf("error is unexpected one. (actual, expected) = (%v, %v) ", err, expectedErr)
		}
		if actual != expected {
			t.Errorf("repeats too much/less. (actual, expected) = (%d, %d)", actual, expected)
		}
	})

	t.Run("WithRecover keeps the loop running over panics", func(t *testing.T) {
		recovered := []any{}
		calls := 0

		actual, err := loop.Start(
			context.Background(), 0,
			func(ctx context.Context, v int) (int, loop.Next) {
				calls += 1
				if calls == 2 {
					panic("boom")
				}
				if 4 <= calls {
					return v + 1, loop.Break(nil)
				}
				return v + 1, loop.Continue(0)
			},
			loop.WithRecover(func(r any) loop.Next {
				recovered = append(recovered, r)
				return loop.Continue(0)
			}),
		)

		if err != nil {
			t.Fatal(err)
		}
		if calls != 4 {
			t.Errorf("task called %d times, want 4", calls)
		}
		// the panicked invocation does not update the value.
		if actual != 3 {
			t.Errorf("mismatch. (actual, expected) = (%d, %d)", actual, 3)
		}
		if len(recovered) != 1 || recovered[0] != "boom" {
			t.Errorf("unexpected recovered values: %v", recovered)
		}
	})

	t.Run("WithRecover and WithTimeout can be combined", func(t *testing.T) {
		_, err := loop.Start(
			context.Background(), 0,
			func(ctx context.Context, v int) (int, loop.Next) {
				if _, ok := ctx.Deadline(); !ok {
					t.Error("deadline is not set")
				}
				panic("boom")
			},
			loop.WithRecover(func(r any) loop.Next { return loop.Break(nil) }),
			loop.WithTimeout(time.Second),
		)
		if err != nil {
			t.Fatal(err)
		}
	})
}
