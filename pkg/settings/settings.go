// Package settings holds engine settings read from a ConfigMap.
package settings

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	xe "github.com/opst/testpod-controller/pkg/errors"
	k8s "github.com/opst/testpod-controller/pkg/workloads/k8s"
	"github.com/sirupsen/logrus"
)

// Keys in the ConfigMap.
const (
	KeyBootstrap                = "bootstrap"
	KeyMaxEngines               = "max_engines"
	KeyEngineLabel              = "engine_label"
	KeyEngineImage              = "engine_image"
	KeyEngineMemoryRequest      = "engine_memory_request"
	KeyEngineMemoryLimit        = "engine_memory_limit"
	KeyEngineMemoryHeap         = "engine_memory_heap"
	KeyEngineCPURequest         = "engine_cpu_request"
	KeyEngineCPULimit           = "engine_cpu_limit"
	KeyNodeArch                 = "node_arch"
	KeyNodePreferredAffinity    = "node_preferred_affinity"
	KeyNodeTolerations          = "node_tolerations"
	KeyEncryptionKeysSecretName = "encryption_keys_secret_name"
	KeyRunPoll                  = "run_poll"
)

type Settings struct {
	Bootstrap   string
	MaxEngines  int
	EngineLabel string
	EngineImage string

	// memory in MiB
	EngineMemoryRequest int
	EngineMemoryLimit   int
	EngineMemoryHeap    int

	// CPU in millicores. 0 or less means unset.
	EngineCPURequest int
	EngineCPULimit   int

	NodeArch              string
	NodePreferredAffinity string
	NodeTolerations       string

	EncryptionKeysSecretName string

	// RunPoll is the delay between scans of the pod scheduler and the cleanup reaper.
	RunPoll time.Duration
}

// Defaults returns settings used for absent keys.
func Defaults(engineLabel string) Settings {
	return Settings{
		MaxEngines:               1,
		EngineLabel:              engineLabel,
		EngineMemoryRequest:      300,
		EngineMemoryLimit:        400,
		EngineMemoryHeap:         150,
		EncryptionKeysSecretName: "platform-encryption-keys",
		RunPoll:                  20 * time.Second,
	}
}

// Parse builds Settings from data of the ConfigMap.
//
// Absent keys take values from defaults. Unparsable values keep the value in previous.
func Parse(data map[string]string, previous Settings, defaults Settings, logger logrus.FieldLogger) Settings {
	str := func(key string, def string) string {
		if v, ok := data[key]; ok {
			return strings.TrimSpace(v)
		}
		return def
	}
	num := func(key string, prev int, def int) int {
		v, ok := data[key]
		if !ok || strings.TrimSpace(v) == "" {
			return def
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			logger.WithField("key", key).Warnf("invalid number %q, keeping %d", v, prev)
			return prev
		}
		return n
	}

	s := Settings{
		Bootstrap:                str(KeyBootstrap, defaults.Bootstrap),
		MaxEngines:               num(KeyMaxEngines, previous.MaxEngines, defaults.MaxEngines),
		EngineLabel:              str(KeyEngineLabel, defaults.EngineLabel),
		EngineImage:              str(KeyEngineImage, defaults.EngineImage),
		EngineMemoryRequest:      num(KeyEngineMemoryRequest, previous.EngineMemoryRequest, defaults.EngineMemoryRequest),
		EngineMemoryLimit:        num(KeyEngineMemoryLimit, previous.EngineMemoryLimit, defaults.EngineMemoryLimit),
		EngineMemoryHeap:         num(KeyEngineMemoryHeap, previous.EngineMemoryHeap, defaults.EngineMemoryHeap),
		EngineCPURequest:         num(KeyEngineCPURequest, previous.EngineCPURequest, defaults.EngineCPURequest),
		EngineCPULimit:           num(KeyEngineCPULimit, previous.EngineCPULimit, defaults.EngineCPULimit),
		NodeArch:                 str(KeyNodeArch, defaults.NodeArch),
		NodePreferredAffinity:    str(KeyNodePreferredAffinity, defaults.NodePreferredAffinity),
		NodeTolerations:          str(KeyNodeTolerations, defaults.NodeTolerations),
		EncryptionKeysSecretName: str(KeyEncryptionKeysSecretName, defaults.EncryptionKeysSecretName),
	}
	if s.EngineLabel == "" {
		s.EngineLabel = defaults.EngineLabel
	}
	if s.EncryptionKeysSecretName == "" {
		s.EncryptionKeysSecretName = defaults.EncryptionKeysSecretName
	}

	pollSec := num(KeyRunPoll, int(previous.RunPoll/time.Second), int(defaults.RunPoll/time.Second))
	if pollSec <= 0 {
		logger.WithField("key", KeyRunPoll).Warnf("run_poll should be positive, keeping %s", previous.RunPoll)
		s.RunPoll = previous.RunPoll
	} else {
		s.RunPoll = time.Duration(pollSec) * time.Second
	}

	return s
}

// Holder keeps the latest Settings.
//
// It is safe for concurrent use.
type Holder struct {
	client    k8s.K8sClient
	namespace string
	configMap string
	defaults  Settings
	logger    logrus.FieldLogger

	mu      sync.RWMutex
	current Settings
}

func New(client k8s.K8sClient, namespace string, configMap string, defaults Settings, logger logrus.FieldLogger) *Holder {
	return &Holder{
		client:    client,
		namespace: namespace,
		configMap: configMap,
		defaults:  defaults,
		logger:    logger,
		current:   defaults,
	}
}

// Get returns the latest settings.
func (h *Holder) Get() Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Refresh reads the ConfigMap again.
//
// On error, the settings are left unchanged.
func (h *Holder) Refresh(ctx context.Context) error {
	cm, err := h.client.GetConfigMap(ctx, h.namespace, h.configMap)
	if err != nil {
		return xe.WrapWithNote("reading configmap "+h.namespace+"/"+h.configMap, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	next := Parse(cm.Data, h.current, h.defaults, h.logger)
	if next != h.current {
		h.logger.WithFields(logrus.Fields{
			"maxEngines":  next.MaxEngines,
			"engineLabel": next.EngineLabel,
			"engineImage": next.EngineImage,
			"runPoll":     next.RunPoll,
		}).Info("settings are updated")
	}
	if next.Bootstrap == "" {
		h.logger.Warn("bootstrap is not set. engines will not be able to start")
	}
	h.current = next
	return nil
}
