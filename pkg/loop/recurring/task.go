package recurring

import (
	"context"

	"github.com/opst/testpod-controller/pkg/loop"
)

// Task is a loop body which does not decide by itself when to run next.
//
// Return:
//
// - T : same as return value T of loop.Task[T]
//
// - bool : true when this task do something in this cycle, and more backlog can be.
// otherwise false.
//
// - error : the cycle has failed. Whether the loop goes on is up to the Policy.
type Task[T any] func(context.Context, T) (T, bool, error)

// a loop.Task which execute rt ('rt()') and p.Next() with the result.
func (rt Task[T]) Applied(p Policy) loop.Task[T] {
	return func(ctx context.Context, t T) (T, loop.Next) {
		new, ok, err := rt(ctx, t)
		return new, p.Next(ok, err)
	}
}
