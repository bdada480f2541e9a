package loop

import (
	"context"
	"fmt"
	"time"
)

type Next struct {
	// if not nil, breaks with error
	err error
	// if quit == true and err == nil, breaks without error
	quit bool
	// otherwise, continue loop with interval.
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}
	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Interval returns the sleep before the next task, when n continues the loop.
func (n Next) Interval() (time.Duration, bool) {
	if n.quit {
		return 0, false
	}
	return n.interval, true
}

// continue loop.
//
// args:
//
// - interval: sleep before starting next task.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// break loop.
//
// args:
//
// - err: If you break loop with error, set non nil value.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task is the body of a loop.
//
// It receives the value its last invocation returned and tells the loop what to do next.
type Task[T any] func(context.Context, T) (T, Next)

// Start task in loop.
//
// The task is called as task(ctx, init) at first, and then with the value it returned.
// When it returns Continue(d), Start sleeps d and calls it again.
// When it returns Break(err), Start returns the value and err.
// Zero value (Next{}) equals Continue(0), that is, "go next ASAP!".
//
// A controller loop run with fixed delay looks like:
//
//	Start(ctx, seed, func(ctx context.Context, s State) (State, Next) {
//		s = scan(ctx, s)
//		return s, Continue(5 * time.Second)
//	})
//
// Args
//
// - ctx : context. When this context get be Done, loop will be break with ctx.Err().
// Sleeping between tasks is interrupted, running task is not.
//
// - init : the first value passed to task.
//
// - task : task receiving (context, last value), then return (new value, Continue() or Break()).
//
// - options: options for loop.
//
// Returns
//
// - T: T task returns at last.
// This value is always returned wheather or not it returns non-nil error together.
//
// - error: error in Break(error). It is nil when loop breaks with Break(nil).
func Start[T any](ctx context.Context, init T, task Task[T], options ...LoopOption) (T, error) {
	select {
	case <-ctx.Done():
		return init, ctx.Err()
	default:
	}

	value := init
	for {
		lc := &loopConfig{ctx: ctx}
		for _, opt := range options {
			lc = opt(lc)
		}

		v, n := func() (ret T, next Next) {
			if lc.deferred != nil {
				defer lc.deferred()
			}
			if lc.recover != nil {
				defer func() {
					if r := recover(); r != nil {
						ret, next = value, lc.recover(r)
					}
				}()
			}
			return task(lc.ctx, value)
		}()

		if n.err != nil {
			return v, n.err
		} else if n.quit {
			return v, nil
		}
		value = v

		timer := time.NewTimer(n.interval)
		select {
		case <-ctx.Done():
			// shutting down is priority. it should come first, and checking timer later.
			if !timer.Stop() {
				<-timer.C // drain. see: time.Timer.Stop's document
			}
			return value, ctx.Err()
		case <-timer.C:
			continue
		}
	}
}

type loopConfig struct {
	ctx      context.Context
	deferred func()
	recover  func(any) Next
}

type LoopOption func(*loopConfig) *loopConfig

// set timeout per loop
//
// this timeout is set on context.Context passed to task.
func WithTimeout(d time.Duration) LoopOption {
	return func(lc *loopConfig) *loopConfig {
		ctx, cancel := context.WithTimeout(lc.ctx, d)
		return &loopConfig{
			ctx:     ctx,
			recover: lc.recover,
			deferred: func() {
				if lc.deferred != nil {
					defer lc.deferred()
				}
				cancel()
			},
		}
	}
}

// WithRecover keeps the loop alive when the task panics.
//
// handler receives the recovered value and decides what to do next.
// The value passed to the next invocation is the one the panicked task received.
func WithRecover(handler func(recovered any) Next) LoopOption {
	return func(lc *loopConfig) *loopConfig {
		return &loopConfig{
			ctx:      lc.ctx,
			deferred: lc.deferred,
			recover:  handler,
		}
	}
}
