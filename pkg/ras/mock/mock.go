package mock

import (
	"context"
	"errors"

	"github.com/opst/testpod-controller/pkg/ras"
)

type Archive struct {
	Impl struct {
		TestStructure       func(ctx context.Context, runID string) (*ras.TestStructure, error)
		UpdateTestStructure func(ctx context.Context, runID string, ts *ras.TestStructure) error
	}
	Called struct {
		TestStructure       uint64
		UpdateTestStructure uint64
	}
}

var _ ras.Archive = &Archive{}

func New() *Archive {
	return &Archive{}
}

func (m *Archive) TestStructure(ctx context.Context, runID string) (*ras.TestStructure, error) {
	m.Called.TestStructure += 1
	if m.Impl.TestStructure == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.TestStructure(ctx, runID)
}

func (m *Archive) UpdateTestStructure(ctx context.Context, runID string, ts *ras.TestStructure) error {
	m.Called.UpdateTestStructure += 1
	if m.Impl.UpdateTestStructure == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.UpdateTestStructure(ctx, runID, ts)
}

// InMemory is an archive holding records in a map.
type InMemory struct {
	Records map[string]*ras.TestStructure
	Updates []string
}

var _ ras.Archive = &InMemory{}

func (m *InMemory) TestStructure(_ context.Context, runID string) (*ras.TestStructure, error) {
	ts, ok := m.Records[runID]
	if !ok {
		return nil, nil
	}
	c := *ts
	return &c, nil
}

func (m *InMemory) UpdateTestStructure(_ context.Context, runID string, ts *ras.TestStructure) error {
	c := *ts
	m.Records[runID] = &c
	m.Updates = append(m.Updates, runID)
	return nil
}
