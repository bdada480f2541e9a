package engine_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/testpod-controller/pkg/engine"
	"github.com/opst/testpod-controller/pkg/settings"
	"github.com/opst/testpod-controller/pkg/utils/try"
	k8s "github.com/opst/testpod-controller/pkg/workloads/k8s"
	"github.com/opst/testpod-controller/pkg/workloads/k8s/mock"
	logtest "github.com/sirupsen/logrus/hooks/test"
	kubecore "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func baseSettings() settings.Settings {
	s := settings.Defaults("k8s-standard-engine")
	s.Bootstrap = "http://galasa/bootstrap"
	s.EngineImage = "galasa/engine:0.1"
	return s
}

func envOf(m map[string]string) engine.Env {
	return func(key string) string { return m[key] }
}

func TestPodName(t *testing.T) {
	if actual := engine.PodName("k8s-standard-engine", "U123"); actual != "k8s-standard-engine-u123" {
		t.Errorf("mismatch. (actual, expected) = (%s, %s)", actual, "k8s-standard-engine-u123")
	}
}

func TestArgs(t *testing.T) {
	t.Run("heap and trace are put when given", func(t *testing.T) {
		actual := engine.Args(baseSettings(), "U1", true)
		expected := []string{
			"-Xmx150m", "-jar", "boot.jar", "--obr", "file:galasa.obr",
			"--bootstrap", "http://galasa/bootstrap", "--run", "U1", "--trace",
		}
		if diff := cmp.Diff(expected, actual); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no heap, no trace", func(t *testing.T) {
		s := baseSettings()
		s.EngineMemoryHeap = 0
		actual := engine.Args(s, "U1", false)
		expected := []string{
			"-jar", "boot.jar", "--obr", "file:galasa.obr",
			"--bootstrap", "http://galasa/bootstrap", "--run", "U1",
		}
		if diff := cmp.Diff(expected, actual); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBuildPod(t *testing.T) {
	t.Run("a pod with defaults", func(t *testing.T) {
		logger, _ := logtest.NewNullLogger()
		pod := engine.BuildPod(engine.Spec{
			Settings: baseSettings(),
			Env: envOf(map[string]string{
				"GALASA_RAS_TOKEN":            "ras-token",
				"GALASA_EVENT_STREAMS_TOKEN":  "es-token",
				"GALASA_ENCRYPTION_KEYS_PATH": "/etc/galasa/keys/encryption-keys.yaml",
				"GALASA_CONFIG_STORE":         "etcd:http://etcd:2379",
				"GALASA_CREDENTIALS_STORE":    "  ",
			}),
			RunName: "U1",
			PodName: "k8s-standard-engine-u1",
		}, logger)

		if pod.Name != "k8s-standard-engine-u1" {
			t.Errorf("unexpected name: %s", pod.Name)
		}
		if diff := cmp.Diff(
			map[string]string{"galasa-engine-controller": "k8s-standard-engine", "galasa-run": "U1"},
			pod.Labels,
		); diff != "" {
			t.Errorf("labels mismatch (-want +got):\n%s", diff)
		}
		if pod.Spec.RestartPolicy != kubecore.RestartPolicyNever {
			t.Errorf("unexpected restart policy: %s", pod.Spec.RestartPolicy)
		}
		if pod.Spec.NodeSelector != nil || pod.Spec.Affinity != nil || len(pod.Spec.Tolerations) != 0 {
			t.Errorf("unexpected scheduling: %+v", pod.Spec)
		}

		expectedVolumes := []kubecore.Volume{{
			Name: "encryption-keys",
			VolumeSource: kubecore.VolumeSource{
				Secret: &kubecore.SecretVolumeSource{SecretName: "platform-encryption-keys"},
			},
		}}
		if diff := cmp.Diff(expectedVolumes, pod.Spec.Volumes); diff != "" {
			t.Errorf("volumes mismatch (-want +got):\n%s", diff)
		}

		if len(pod.Spec.Containers) != 1 {
			t.Fatalf("unexpected containers: %v", pod.Spec.Containers)
		}
		c := pod.Spec.Containers[0]
		if c.Name != "engine" || c.Image != "galasa/engine:0.1" || c.ImagePullPolicy != kubecore.PullAlways {
			t.Errorf("unexpected container: %s %s %s", c.Name, c.Image, c.ImagePullPolicy)
		}
		if diff := cmp.Diff([]string{"java"}, c.Command); diff != "" {
			t.Errorf("command mismatch (-want +got):\n%s", diff)
		}

		if q := c.Resources.Requests[kubecore.ResourceMemory]; q.Cmp(resource.MustParse("300Mi")) != 0 {
			t.Errorf("unexpected memory request: %s", q.String())
		}
		if q := c.Resources.Limits[kubecore.ResourceMemory]; q.Cmp(resource.MustParse("400Mi")) != 0 {
			t.Errorf("unexpected memory limit: %s", q.String())
		}
		if _, ok := c.Resources.Requests[kubecore.ResourceCPU]; ok {
			t.Error("cpu request is set")
		}
		if _, ok := c.Resources.Limits[kubecore.ResourceCPU]; ok {
			t.Error("cpu limit is set")
		}

		expectedEnv := []kubecore.EnvVar{
			{Name: "MAX_HEAP", Value: "150m"},
			{Name: "GALASA_RAS_TOKEN", Value: "ras-token"},
			{Name: "GALASA_EVENT_STREAMS_TOKEN", Value: "es-token"},
			{Name: "GALASA_ENCRYPTION_KEYS_PATH", Value: "/etc/galasa/keys/encryption-keys.yaml"},
			{Name: "GALASA_CONFIG_STORE", Value: "etcd:http://etcd:2379"},
		}
		if diff := cmp.Diff(expectedEnv, c.Env); diff != "" {
			t.Errorf("env mismatch (-want +got):\n%s", diff)
		}

		expectedMounts := []kubecore.VolumeMount{
			{Name: "encryption-keys", MountPath: "/etc/galasa/keys", ReadOnly: true},
		}
		if diff := cmp.Diff(expectedMounts, c.VolumeMounts); diff != "" {
			t.Errorf("mounts mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("CPU, node selector, affinity and tolerations from settings", func(t *testing.T) {
		logger, hook := logtest.NewNullLogger()
		s := baseSettings()
		s.EngineCPURequest = 250
		s.EngineCPULimit = 500
		s.NodeArch = "arm64"
		s.NodePreferredAffinity = "galasa-zone=fast"
		s.NodeTolerations = "galasa-engines=Exists:NoSchedule,broken,dedicated=Equal"

		pod := engine.BuildPod(engine.Spec{Settings: s, RunName: "U1", PodName: "p"}, logger)

		if diff := cmp.Diff(map[string]string{"kubernetes.io/arch": "arm64"}, pod.Spec.NodeSelector); diff != "" {
			t.Errorf("node selector mismatch (-want +got):\n%s", diff)
		}

		expectedAffinity := &kubecore.Affinity{
			NodeAffinity: &kubecore.NodeAffinity{
				PreferredDuringSchedulingIgnoredDuringExecution: []kubecore.PreferredSchedulingTerm{{
					Weight: 1,
					Preference: kubecore.NodeSelectorTerm{
						MatchExpressions: []kubecore.NodeSelectorRequirement{{
							Key: "galasa-zone", Operator: kubecore.NodeSelectorOpIn, Values: []string{"fast"},
						}},
					},
				}},
			},
		}
		if diff := cmp.Diff(expectedAffinity, pod.Spec.Affinity); diff != "" {
			t.Errorf("affinity mismatch (-want +got):\n%s", diff)
		}

		expectedTolerations := []kubecore.Toleration{
			{Key: "galasa-engines", Operator: kubecore.TolerationOpExists, Effect: kubecore.TaintEffectNoSchedule},
		}
		if diff := cmp.Diff(expectedTolerations, pod.Spec.Tolerations); diff != "" {
			t.Errorf("tolerations mismatch (-want +got):\n%s", diff)
		}
		if n := len(hook.AllEntries()); n != 2 {
			t.Errorf("malformed tolerations should be logged: %d entries", n)
		}

		c := pod.Spec.Containers[0]
		if q := c.Resources.Requests[kubecore.ResourceCPU]; q.Cmp(resource.MustParse("250m")) != 0 {
			t.Errorf("unexpected cpu request: %s", q.String())
		}
		if q := c.Resources.Limits[kubecore.ResourceCPU]; q.Cmp(resource.MustParse("500m")) != 0 {
			t.Errorf("unexpected cpu limit: %s", q.String())
		}
		if len(c.VolumeMounts) != 0 {
			t.Errorf("keys are mounted without path: %v", c.VolumeMounts)
		}
		if args := c.Args; args[len(args)-1] == "--trace" {
			t.Errorf("trace is set: %v", args)
		}
	})

	t.Run("a malformed affinity is ignored", func(t *testing.T) {
		logger, hook := logtest.NewNullLogger()
		s := baseSettings()
		s.NodePreferredAffinity = "no-value"
		pod := engine.BuildPod(engine.Spec{Settings: s, RunName: "U1", PodName: "p"}, logger)
		if pod.Spec.Affinity != nil {
			t.Errorf("unexpected affinity: %v", pod.Spec.Affinity)
		}
		if len(hook.AllEntries()) != 1 {
			t.Errorf("malformed affinity should be logged")
		}
	})
}

func pod(name string, phase kubecore.PodPhase, labels map[string]string) kubecore.Pod {
	return kubecore.Pod{
		ObjectMeta: kubeapimeta.ObjectMeta{Name: name, Labels: labels},
		Status:     kubecore.PodStatus{Phase: phase},
	}
}

func names(pods []kubecore.Pod) []string {
	ret := []string{}
	for _, p := range pods {
		ret = append(ret, p.Name)
	}
	return ret
}

func TestTerminatedAndActive(t *testing.T) {
	pods := []kubecore.Pod{
		pod("succeeded", kubecore.PodSucceeded, nil),
		pod("failed", kubecore.PodFailed, nil),
		pod("lower", kubecore.PodPhase("failed"), nil),
		pod("running", kubecore.PodRunning, nil),
		pod("pending", kubecore.PodPending, nil),
	}

	if diff := cmp.Diff([]string{"succeeded", "failed", "lower"}, names(engine.Terminated(pods))); diff != "" {
		t.Errorf("terminated mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"running", "pending"}, names(engine.Active(pods))); diff != "" {
		t.Errorf("active mismatch (-want +got):\n%s", diff)
	}
}

func TestRunName(t *testing.T) {
	if name, ok := engine.RunName(pod("p", "", map[string]string{"galasa-run": "U1"})); !ok || name != "U1" {
		t.Errorf("mismatch. (actual, expected) = ((%s, %v), (U1, true))", name, ok)
	}
	if _, ok := engine.RunName(pod("p", "", nil)); ok {
		t.Error("unlabelled pod has a run name")
	}
}

func TestPods(t *testing.T) {
	client := mock.NewMockClient()
	client.Impl.FindPods = func(_ context.Context, namespace string, ls k8s.LabelSelector) ([]kubecore.Pod, error) {
		if namespace != "galasa" {
			t.Errorf("unexpected namespace: %s", namespace)
		}
		if q := ls.QueryString(); q != "galasa-engine-controller=my-engine" {
			t.Errorf("unexpected selector: %s", q)
		}
		return []kubecore.Pod{pod("a", kubecore.PodRunning, nil)}, nil
	}

	pods := try.To(engine.Pods(context.Background(), client, "galasa", "my-engine")).OrFatal(t)
	if diff := cmp.Diff([]string{"a"}, names(pods)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
