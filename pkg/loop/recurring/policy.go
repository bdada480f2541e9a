package recurring

import (
	"fmt"
	"time"

	"github.com/opst/testpod-controller/pkg/loop"
)

// Policy for loop task behavior.
// How the policy behaves depends on the implementation of Next() method.
type Policy interface {
	Next(updated bool, err error) loop.Next
	String() string
}

// Restart immediately while there are things to do.
// Otherwise, restart after interval.
func Forever(intervalWaitingBacklog time.Duration) Policy {
	return forever(intervalWaitingBacklog)
}

type forever time.Duration

func (f forever) String() string {
	return fmt.Sprintf("forever:%s", time.Duration(f).String())
}

func (f forever) Next(updated bool, _ error) loop.Next {
	if updated {
		return loop.Continue(0)
	}
	return loop.Continue(time.Duration(f))
}

// FixedDelay restarts after delay, whatever the task did.
//
// An error returned by the task does not stop the loop.
func FixedDelay(delay time.Duration) Policy {
	return fixedDelay(delay)
}

type fixedDelay time.Duration

func (f fixedDelay) String() string {
	return fmt.Sprintf("fixed:%s", time.Duration(f).String())
}

func (f fixedDelay) Next(bool, error) loop.Next {
	return loop.Continue(time.Duration(f))
}

// DelayOf is FixedDelay whose delay is asked to delay() on every restart.
//
// Use this when the delay is a live setting.
func DelayOf(name string, delay func() time.Duration) Policy {
	return delayOf{name: name, delay: delay}
}

type delayOf struct {
	name  string
	delay func() time.Duration
}

func (d delayOf) String() string {
	return fmt.Sprintf("fixed:(%s)", d.name)
}

func (d delayOf) Next(bool, error) loop.Next {
	return loop.Continue(d.delay())
}
