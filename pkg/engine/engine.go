// Package engine builds engine pods, which execute one run each, and reads them back.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	xe "github.com/opst/testpod-controller/pkg/errors"
	"github.com/opst/testpod-controller/pkg/settings"
	k8s "github.com/opst/testpod-controller/pkg/workloads/k8s"
	"github.com/sirupsen/logrus"
	kubecore "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	LabelController = "galasa-engine-controller"
	LabelRun        = "galasa-run"

	ContainerName        = "engine"
	EncryptionKeysVolume = "encryption-keys"

	EnvMaxHeap            = "MAX_HEAP"
	EnvRASToken           = "GALASA_RAS_TOKEN"
	EnvEventStreamsToken  = "GALASA_EVENT_STREAMS_TOKEN"
	EnvEncryptionKeysPath = "GALASA_ENCRYPTION_KEYS_PATH"
	EnvConfigStore        = "GALASA_CONFIG_STORE"
	EnvDynamicStatusStore = "GALASA_DYNAMICSTATUS_STORE"
	EnvCredentialsStore   = "GALASA_CREDENTIALS_STORE"

	nodeArchLabel = "kubernetes.io/arch"
)

// PodName is the name of the pod for the run, without collision suffix.
func PodName(engineLabel string, runName string) string {
	return engineLabel + "-" + strings.ToLower(runName)
}

// Selector selects pods made by controllers with the engine label.
func Selector(engineLabel string) k8s.LabelSelector {
	return k8s.LabelSelector{LabelController: k8s.EqualityBased(engineLabel)}
}

// Pods lists engine pods labelled with engineLabel, in the namespace.
func Pods(ctx context.Context, client k8s.K8sClient, namespace string, engineLabel string) ([]kubecore.Pod, error) {
	pods, err := client.FindPods(ctx, namespace, Selector(engineLabel))
	if err != nil {
		return nil, xe.WrapWithNote("listing engine pods", err)
	}
	return pods, nil
}

// IsTerminated tells whether the pod has stopped as Succeeded or Failed.
func IsTerminated(pod kubecore.Pod) bool {
	phase := string(pod.Status.Phase)
	return strings.EqualFold(phase, string(kubecore.PodSucceeded)) ||
		strings.EqualFold(phase, string(kubecore.PodFailed))
}

// Terminated picks terminated pods.
func Terminated(pods []kubecore.Pod) []kubecore.Pod {
	ret := []kubecore.Pod{}
	for _, p := range pods {
		if IsTerminated(p) {
			ret = append(ret, p)
		}
	}
	return ret
}

// Active picks pods which are not terminated.
func Active(pods []kubecore.Pod) []kubecore.Pod {
	ret := []kubecore.Pod{}
	for _, p := range pods {
		if !IsTerminated(p) {
			ret = append(ret, p)
		}
	}
	return ret
}

// RunName returns the run the pod executes. ok is false for unlabelled pods.
func RunName(pod kubecore.Pod) (name string, ok bool) {
	name, ok = pod.Labels[LabelRun]
	return name, ok && name != ""
}

// Env looks up environment variables passed to engines.
type Env func(key string) string

// Spec is what an engine pod is made from.
type Spec struct {
	Settings settings.Settings
	Env      Env
	RunName  string
	PodName  string
	Trace    bool
}

// BuildPod makes the pod executing the run.
//
// Malformed affinity or tolerations in settings are logged and ignored.
func BuildPod(spec Spec, logger logrus.FieldLogger) *kubecore.Pod {
	s := spec.Settings
	pod := &kubecore.Pod{
		TypeMeta: kubeapimeta.TypeMeta{APIVersion: "v1", Kind: "Pod"},
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name: spec.PodName,
			Labels: map[string]string{
				LabelController: s.EngineLabel,
				LabelRun:        spec.RunName,
			},
		},
		Spec: kubecore.PodSpec{
			RestartPolicy: kubecore.RestartPolicyNever,
			Volumes: []kubecore.Volume{
				{
					Name: EncryptionKeysVolume,
					VolumeSource: kubecore.VolumeSource{
						Secret: &kubecore.SecretVolumeSource{SecretName: s.EncryptionKeysSecretName},
					},
				},
			},
		},
	}

	if s.NodeArch != "" {
		pod.Spec.NodeSelector = map[string]string{nodeArchLabel: s.NodeArch}
	}

	if s.NodePreferredAffinity != "" {
		if affinity, ok := preferredAffinity(s.NodePreferredAffinity); ok {
			pod.Spec.Affinity = affinity
		} else {
			logger.WithField("nodePreferredAffinity", s.NodePreferredAffinity).
				Warn("node preferred affinity should be key=value. ignored")
		}
	}

	if s.NodeTolerations != "" {
		pod.Spec.Tolerations = tolerations(s.NodeTolerations, logger)
	}

	pod.Spec.Containers = []kubecore.Container{container(spec)}
	return pod
}

func preferredAffinity(s string) (*kubecore.Affinity, bool) {
	selection := strings.Split(s, "=")
	if len(selection) != 2 {
		return nil, false
	}
	return &kubecore.Affinity{
		NodeAffinity: &kubecore.NodeAffinity{
			PreferredDuringSchedulingIgnoredDuringExecution: []kubecore.PreferredSchedulingTerm{
				{
					Weight: 1,
					Preference: kubecore.NodeSelectorTerm{
						MatchExpressions: []kubecore.NodeSelectorRequirement{
							{
								Key:      selection[0],
								Operator: kubecore.NodeSelectorOpIn,
								Values:   []string{selection[1]},
							},
						},
					},
				},
			},
		},
	}, true
}

// tolerations parses "key=Operator:Effect,key=Operator:Effect".
func tolerations(s string, logger logrus.FieldLogger) []kubecore.Toleration {
	ret := []kubecore.Toleration{}
	for _, item := range strings.Split(s, ",") {
		selection := strings.Split(item, "=")
		if len(selection) != 2 {
			logger.WithField("toleration", item).Error("badly formatted toleration")
			continue
		}
		operatorAndEffect := strings.Split(selection[1], ":")
		if len(operatorAndEffect) != 2 {
			logger.WithField("toleration", item).Error("toleration has no operator or effect")
			continue
		}
		ret = append(ret, kubecore.Toleration{
			Key:      selection[0],
			Operator: kubecore.TolerationOperator(operatorAndEffect[0]),
			Effect:   kubecore.TaintEffect(operatorAndEffect[1]),
		})
	}
	return ret
}

// Args builds command line arguments of the engine.
func Args(s settings.Settings, runName string, trace bool) []string {
	args := []string{}
	if s.EngineMemoryHeap != 0 {
		args = append(args, fmt.Sprintf("-Xmx%dm", s.EngineMemoryHeap))
	}
	args = append(args,
		"-jar", "boot.jar",
		"--obr", "file:galasa.obr",
		"--bootstrap", s.Bootstrap,
		"--run", runName,
	)
	if trace {
		args = append(args, "--trace")
	}
	return args
}

func container(spec Spec) kubecore.Container {
	s := spec.Settings
	c := kubecore.Container{
		Name:            ContainerName,
		Image:           s.EngineImage,
		ImagePullPolicy: kubecore.PullAlways,
		Command:         []string{"java"},
		Args:            Args(s, spec.RunName, spec.Trace),
		Resources: kubecore.ResourceRequirements{
			Requests: kubecore.ResourceList{
				kubecore.ResourceMemory: resource.MustParse(strconv.Itoa(s.EngineMemoryRequest) + "Mi"),
			},
			Limits: kubecore.ResourceList{
				kubecore.ResourceMemory: resource.MustParse(strconv.Itoa(s.EngineMemoryLimit) + "Mi"),
			},
		},
		Env: envs(spec),
	}
	if 0 < s.EngineCPURequest {
		c.Resources.Requests[kubecore.ResourceCPU] = resource.MustParse(strconv.Itoa(s.EngineCPURequest) + "m")
	}
	if 0 < s.EngineCPULimit {
		c.Resources.Limits[kubecore.ResourceCPU] = resource.MustParse(strconv.Itoa(s.EngineCPULimit) + "m")
	}

	if keysPath := strings.TrimSpace(spec.env(EnvEncryptionKeysPath)); keysPath != "" {
		c.VolumeMounts = []kubecore.VolumeMount{
			{
				Name:      EncryptionKeysVolume,
				MountPath: filepath.Dir(keysPath),
				ReadOnly:  true,
			},
		}
	}
	return c
}

func (spec Spec) env(key string) string {
	if spec.Env == nil {
		return ""
	}
	return spec.Env(key)
}

func envs(spec Spec) []kubecore.EnvVar {
	ret := []kubecore.EnvVar{
		{Name: EnvMaxHeap, Value: strconv.Itoa(spec.Settings.EngineMemoryHeap) + "m"},
		{Name: EnvRASToken, Value: spec.env(EnvRASToken)},
		{Name: EnvEventStreamsToken, Value: spec.env(EnvEventStreamsToken)},
		{Name: EnvEncryptionKeysPath, Value: spec.env(EnvEncryptionKeysPath)},
	}
	for _, key := range []string{EnvConfigStore, EnvDynamicStatusStore, EnvCredentialsStore} {
		if v := spec.env(key); strings.TrimSpace(v) != "" {
			ret = append(ret, kubecore.EnvVar{Name: key, Value: v})
		}
	}
	return ret
}
