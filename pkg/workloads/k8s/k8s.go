package k8s

import (
	"context"

	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8s "k8s.io/client-go/kubernetes"
)

// subset of k8s.Clientset
type K8sClient interface {
	CreatePod(ctx context.Context, namespace string, spec *kubecore.Pod) (*kubecore.Pod, error)

	// DeletePod deletes the pod immediately.
	//
	// Deleting a pod which does not exist is not an error.
	DeletePod(ctx context.Context, namespace string, name string) error

	FindPods(ctx context.Context, namespace string, labelSelector LabelSelector) ([]kubecore.Pod, error)

	GetConfigMap(ctx context.Context, namespace string, name string) (*kubecore.ConfigMap, error)
}

// A wrapper for k8s.Interface; because it does not prefer method chain-style invocations of that type.
type k8sClient struct {
	client k8s.Interface
}

// type check: k8sClient implements K8sClient
var _ K8sClient = &k8sClient{}

func WrapK8sClient(c k8s.Interface) K8sClient {
	return &k8sClient{client: c}
}

func (k *k8sClient) CreatePod(ctx context.Context, namespace string, pod *kubecore.Pod) (*kubecore.Pod, error) {
	return k.client.CoreV1().Pods(namespace).Create(ctx, pod, kubeapimeta.CreateOptions{})
}

// The typed Delete of pods fails to decode some responses of the API server,
// so DELETE is sent through the REST client and only its status is checked.
func (k *k8sClient) DeletePod(ctx context.Context, namespace string, podname string) error {
	err := k.client.CoreV1().RESTClient().
		Delete().
		Namespace(namespace).
		Resource("pods").
		Name(podname).
		Body(kubeapimeta.NewDeleteOptions(0)).
		Do(ctx).
		Error()
	if kubeerr.IsNotFound(err) {
		return nil
	}
	return err
}

func (k *k8sClient) FindPods(ctx context.Context, namespace string, labels LabelSelector) ([]kubecore.Pod, error) {
	resp, err := k.client.CoreV1().Pods(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: labels.QueryString(),
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (k *k8sClient) GetConfigMap(ctx context.Context, namespace string, name string) (*kubecore.ConfigMap, error) {
	return k.client.CoreV1().ConfigMaps(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}
