package mock

import (
	"context"
	"errors"
	"time"

	"github.com/opst/testpod-controller/pkg/domain/run"
)

type CallLog[T any] []T

func (l CallLog[T]) Times() uint {
	return uint(len(l))
}

type AllocateArgs struct {
	Name         string
	ControllerID string
	Now          time.Time
	Timeout      time.Duration
}

type ResultArgs struct {
	Name   string
	Result run.Result
}

// Runs is a mock of run.Interface. Calling a method without Impl panics.
type Runs struct {
	Impl struct {
		Queued          func(ctx context.Context) ([]run.Run, error)
		Active          func(ctx context.Context) ([]run.Run, error)
		All             func(ctx context.Context) ([]run.Run, error)
		Get             func(ctx context.Context, name string) (*run.Run, error)
		Allocate        func(ctx context.Context, name string, controllerID string, now time.Time, timeout time.Duration) (bool, error)
		MarkFinished    func(ctx context.Context, name string, result run.Result) (bool, error)
		Reset           func(ctx context.Context, name string) (bool, error)
		MarkInterrupted func(ctx context.Context, name string, reason run.Result) (bool, error)
	}

	Calls struct {
		Queued          CallLog[struct{}]
		Active          CallLog[struct{}]
		All             CallLog[struct{}]
		Get             CallLog[string]
		Allocate        CallLog[AllocateArgs]
		MarkFinished    CallLog[ResultArgs]
		Reset           CallLog[string]
		MarkInterrupted CallLog[ResultArgs]
	}
}

func New() *Runs {
	return &Runs{}
}

var _ run.Interface = &Runs{}

func (m *Runs) Queued(ctx context.Context) ([]run.Run, error) {
	m.Calls.Queued = append(m.Calls.Queued, struct{}{})
	if m.Impl.Queued != nil {
		return m.Impl.Queued(ctx)
	}
	panic(errors.New("it should not be called"))
}

func (m *Runs) Active(ctx context.Context) ([]run.Run, error) {
	m.Calls.Active = append(m.Calls.Active, struct{}{})
	if m.Impl.Active != nil {
		return m.Impl.Active(ctx)
	}
	panic(errors.New("it should not be called"))
}

func (m *Runs) All(ctx context.Context) ([]run.Run, error) {
	m.Calls.All = append(m.Calls.All, struct{}{})
	if m.Impl.All != nil {
		return m.Impl.All(ctx)
	}
	panic(errors.New("it should not be called"))
}

func (m *Runs) Get(ctx context.Context, name string) (*run.Run, error) {
	m.Calls.Get = append(m.Calls.Get, name)
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, name)
	}
	panic(errors.New("it should not be called"))
}

func (m *Runs) Allocate(ctx context.Context, name string, controllerID string, now time.Time, timeout time.Duration) (bool, error) {
	m.Calls.Allocate = append(m.Calls.Allocate, AllocateArgs{
		Name: name, ControllerID: controllerID, Now: now, Timeout: timeout,
	})
	if m.Impl.Allocate != nil {
		return m.Impl.Allocate(ctx, name, controllerID, now, timeout)
	}
	panic(errors.New("it should not be called"))
}

func (m *Runs) MarkFinished(ctx context.Context, name string, result run.Result) (bool, error) {
	m.Calls.MarkFinished = append(m.Calls.MarkFinished, ResultArgs{Name: name, Result: result})
	if m.Impl.MarkFinished != nil {
		return m.Impl.MarkFinished(ctx, name, result)
	}
	panic(errors.New("it should not be called"))
}

func (m *Runs) Reset(ctx context.Context, name string) (bool, error) {
	m.Calls.Reset = append(m.Calls.Reset, name)
	if m.Impl.Reset != nil {
		return m.Impl.Reset(ctx, name)
	}
	panic(errors.New("it should not be called"))
}

func (m *Runs) MarkInterrupted(ctx context.Context, name string, reason run.Result) (bool, error) {
	m.Calls.MarkInterrupted = append(m.Calls.MarkInterrupted, ResultArgs{Name: name, Result: reason})
	if m.Impl.MarkInterrupted != nil {
		return m.Impl.MarkInterrupted(ctx, name, reason)
	}
	panic(errors.New("it should not be called"))
}
