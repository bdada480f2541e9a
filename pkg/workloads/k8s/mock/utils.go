package mock

import (
	"context"
	"errors"

	k8s "github.com/opst/testpod-controller/pkg/workloads/k8s"
	kubecore "k8s.io/api/core/v1"
)

type MockClient struct {
	Impl struct {
		CreatePod    func(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error)
		DeletePod    func(ctx context.Context, namespace string, name string) error
		FindPods     func(ctx context.Context, namespace string, ls k8s.LabelSelector) ([]kubecore.Pod, error)
		GetConfigMap func(ctx context.Context, namespace string, name string) (*kubecore.ConfigMap, error)
	}
	Called struct {
		CreatePod    uint64
		DeletePod    uint64
		FindPods     uint64
		GetConfigMap uint64
	}
}

// MockClient implements k8s.K8sClient
var _ k8s.K8sClient = &MockClient{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) CreatePod(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error) {
	m.Called.CreatePod += 1
	if m.Impl.CreatePod == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.CreatePod(ctx, namespace, pod)
}

func (m *MockClient) DeletePod(ctx context.Context, namespace string, name string) error {
	m.Called.DeletePod += 1
	if m.Impl.DeletePod == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.DeletePod(ctx, namespace, name)
}

func (m *MockClient) FindPods(ctx context.Context, namespace string, ls k8s.LabelSelector) ([]kubecore.Pod, error) {
	m.Called.FindPods += 1
	if m.Impl.FindPods == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.FindPods(ctx, namespace, ls)
}

func (m *MockClient) GetConfigMap(ctx context.Context, namespace string, name string) (*kubecore.ConfigMap, error) {
	m.Called.GetConfigMap += 1
	if m.Impl.GetConfigMap == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.GetConfigMap(ctx, namespace, name)
}
