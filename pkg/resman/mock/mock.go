package mock

import (
	"context"

	"github.com/opst/testpod-controller/pkg/resman"
)

// Provider is a mock of resman.Provider. Missing Impl funcs do nothing.
type Provider struct {
	name string
	Impl struct {
		Start                func(ctx context.Context) error
		RunFinishedOrDeleted func(ctx context.Context, runName string) error
		Shutdown             func(ctx context.Context)
	}
	Calls struct {
		Start                uint64
		RunFinishedOrDeleted []string
		Shutdown             uint64
	}
}

var _ resman.Provider = &Provider{}

func New(name string) *Provider {
	return &Provider{name: name}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Start(ctx context.Context) error {
	p.Calls.Start += 1
	if p.Impl.Start == nil {
		return nil
	}
	return p.Impl.Start(ctx)
}

func (p *Provider) RunFinishedOrDeleted(ctx context.Context, runName string) error {
	p.Calls.RunFinishedOrDeleted = append(p.Calls.RunFinishedOrDeleted, runName)
	if p.Impl.RunFinishedOrDeleted == nil {
		return nil
	}
	return p.Impl.RunFinishedOrDeleted(ctx, runName)
}

func (p *Provider) Shutdown(ctx context.Context) {
	p.Calls.Shutdown += 1
	if p.Impl.Shutdown != nil {
		p.Impl.Shutdown(ctx)
	}
}
