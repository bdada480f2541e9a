package controller

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
//
// All types named `pkg/configs/controller.XxxMarshall` are `Marshalled[*Xxx]` .
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

const (
	DefaultEngineLabel       = "k8s-standard-engine"
	DefaultSettingsConfigMap = "config"
	DefaultCPSNamespace      = "framework"
	DefaultMetricsPort       = 9010
	DefaultHealthPort        = 9011
)

// Configuration of the controller.
//
// This type is marshalling value and mutable.
// Get the immutable version, `ControllerConfig`, with `TrySeal`.
type ControllerConfigMarshall struct {
	Namespace         string                   `yaml:"namespace"`
	EngineLabel       string                   `yaml:"engineLabel,omitempty"`
	ControllerID      string                   `yaml:"controllerId,omitempty"`
	SettingsConfigMap string                   `yaml:"settingsConfigMap,omitempty"`
	Store             *StoreConfigMarshall     `yaml:"store"`
	CPS               *CPSConfigMarshall       `yaml:"cps,omitempty"`
	Archive           *ArchiveConfigMarshall   `yaml:"archive,omitempty"`
	Metrics           *ServerConfigMarshall    `yaml:"metrics,omitempty"`
	Health            *HealthConfigMarshall    `yaml:"health,omitempty"`
	Loops             *LoopsConfigMarshall     `yaml:"loops,omitempty"`
	PodCreate         *PodCreateConfigMarshall `yaml:"podCreate,omitempty"`
	Providers         *ProvidersConfigMarshall `yaml:"providers,omitempty"`
}

var _ Marshalled[*ControllerConfig] = &ControllerConfigMarshall{}

func (c *ControllerConfigMarshall) trySeal(path string) *ControllerConfig {
	c = nonnil(c, path)
	return &ControllerConfig{
		namespace:         required(c.Namespace, path+".namespace"),
		engineLabel:       orDefault(c.EngineLabel, DefaultEngineLabel),
		controllerID:      orDefault(c.ControllerID, defaultControllerID()),
		settingsConfigMap: orDefault(c.SettingsConfigMap, DefaultSettingsConfigMap),
		store:             nonnil(c.Store, path+".store").trySeal(path + ".store"),
		cps:               orEmpty(c.CPS).trySeal(path + ".cps"),
		archive:           orEmpty(c.Archive).trySeal(path + ".archive"),
		metrics:           orEmpty(c.Metrics).trySeal(path+".metrics", DefaultMetricsPort),
		health:            orEmpty(c.Health).trySeal(path + ".health"),
		loops:             orEmpty(c.Loops).trySeal(path + ".loops"),
		podCreate:         orEmpty(c.PodCreate).trySeal(path + ".podCreate"),
		providers:         orEmpty(c.Providers).trySeal(path + ".providers"),
	}
}

// defaultControllerID is the pod name given by the downward API,
// or the hostname.
func defaultControllerID() string {
	if name := strings.TrimSpace(os.Getenv("POD_NAME")); name != "" {
		return name
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "controller-" + uuid.NewString()
}

type StoreConfigMarshall struct {
	Type        StoreType     `yaml:"type"`
	Endpoints   []string      `yaml:"endpoints,omitempty"`
	DialTimeout time.Duration `yaml:"dialTimeout,omitempty"`
	Username    string        `yaml:"username,omitempty"`
	Password    string        `yaml:"password,omitempty"`
}

func (s *StoreConfigMarshall) trySeal(path string) *StoreConfig {
	typ := orDefault(s.Type, StoreEtcd)
	switch typ {
	case StoreEtcd:
		if len(s.Endpoints) == 0 {
			panic(path + ".endpoints is required")
		}
	case StoreMemory:
	default:
		panic(fmt.Sprintf("%s.type: unknown store type %q", path, typ))
	}

	return &StoreConfig{
		typ:         typ,
		endpoints:   append([]string{}, s.Endpoints...),
		dialTimeout: orDefault(s.DialTimeout, 5*time.Second),
		username:    s.Username,
		password:    s.Password,
	}
}

type CPSConfigMarshall struct {
	Namespace string `yaml:"namespace,omitempty"`
}

func (c *CPSConfigMarshall) trySeal(string) *CPSConfig {
	return &CPSConfig{namespace: orDefault(c.Namespace, DefaultCPSNamespace)}
}

type ArchiveConfigMarshall struct {
	Type     ArchiveType `yaml:"type,omitempty"`
	URL      string      `yaml:"url,omitempty"`
	Database string      `yaml:"database,omitempty"`
}

func (a *ArchiveConfigMarshall) trySeal(path string) *ArchiveConfig {
	typ := orDefault(a.Type, ArchiveNone)
	conf := &ArchiveConfig{typ: typ}
	switch typ {
	case ArchiveCouchDB:
		conf.url = required(a.URL, path+".url")
		conf.database = orDefault(a.Database, "galasa_run")
	case ArchivePostgres:
		conf.url = required(a.URL, path+".url")
	case ArchiveNone:
	default:
		panic(fmt.Sprintf("%s.type: unknown archive type %q", path, typ))
	}
	return conf
}

type ServerConfigMarshall struct {
	Port *int32 `yaml:"port,omitempty"`
}

func (s *ServerConfigMarshall) trySeal(path string, defaultPort int32) *ServerConfig {
	port := defaultPort
	if s.Port != nil {
		port = *s.Port
	}
	if port < 0 || 65535 < port {
		panic(fmt.Sprintf("%s.port: out of range: %d", path, port))
	}
	return &ServerConfig{port: port}
}

type HealthConfigMarshall struct {
	ServerConfigMarshall `yaml:",inline"`
	StaleAfter           time.Duration `yaml:"staleAfter,omitempty"`
}

func (h *HealthConfigMarshall) trySeal(path string) *HealthConfig {
	return &HealthConfig{
		ServerConfig: *h.ServerConfigMarshall.trySeal(path, DefaultHealthPort),
		staleAfter:   positive(orDefault(h.StaleAfter, 5*time.Minute), path+".staleAfter"),
	}
}

type LoopsConfigMarshall struct {
	InterruptInterval       time.Duration `yaml:"interruptInterval,omitempty"`
	HeartbeatInterval       time.Duration `yaml:"heartbeatInterval,omitempty"`
	WatchDrainInterval      time.Duration `yaml:"watchDrainInterval,omitempty"`
	DeadHeartbeatInterval   time.Duration `yaml:"deadHeartbeatInterval,omitempty"`
	SettingsRefreshInterval time.Duration `yaml:"settingsRefreshInterval,omitempty"`
	ShutdownGrace           time.Duration `yaml:"shutdownGrace,omitempty"`
}

func (l *LoopsConfigMarshall) trySeal(path string) *LoopsConfig {
	return &LoopsConfig{
		interruptInterval:       positive(orDefault(l.InterruptInterval, 5*time.Second), path+".interruptInterval"),
		heartbeatInterval:       positive(orDefault(l.HeartbeatInterval, 20*time.Second), path+".heartbeatInterval"),
		watchDrainInterval:      positive(orDefault(l.WatchDrainInterval, 10*time.Second), path+".watchDrainInterval"),
		deadHeartbeatInterval:   positive(orDefault(l.DeadHeartbeatInterval, 20*time.Second), path+".deadHeartbeatInterval"),
		settingsRefreshInterval: positive(orDefault(l.SettingsRefreshInterval, 20*time.Second), path+".settingsRefreshInterval"),
		shutdownGrace:           positive(orDefault(l.ShutdownGrace, 30*time.Second), path+".shutdownGrace"),
	}
}

type PodCreateConfigMarshall struct {
	RetryInterval time.Duration `yaml:"retryInterval,omitempty"`
	MaxAttempts   int           `yaml:"maxAttempts,omitempty"`
}

func (p *PodCreateConfigMarshall) trySeal(path string) *PodCreateConfig {
	if p.MaxAttempts < 0 {
		panic(fmt.Sprintf("%s.maxAttempts: should not be negative: %d", path, p.MaxAttempts))
	}
	return &PodCreateConfig{
		retryInterval: positive(orDefault(p.RetryInterval, 2*time.Second), path+".retryInterval"),
		maxAttempts:   p.MaxAttempts,
	}
}

type ProvidersConfigMarshall struct {
	Includes []string                 `yaml:"includes,omitempty"`
	Excludes []string                 `yaml:"excludes,omitempty"`
	Webhooks []*WebhookConfigMarshall `yaml:"webhooks,omitempty"`
}

func (p *ProvidersConfigMarshall) trySeal(path string) *ProvidersConfig {
	includes := p.Includes
	if len(includes) == 0 {
		includes = []string{"**"}
	}

	names := map[string]struct{}{}
	webhooks := make([]*WebhookConfig, 0, len(p.Webhooks))
	for i, w := range p.Webhooks {
		wpath := fmt.Sprintf("%s.webhooks[%d]", path, i)
		sealed := nonnil(w, wpath).trySeal(wpath)
		if _, ok := names[sealed.name]; ok {
			panic(fmt.Sprintf("%s.name: duplicated: %s", wpath, sealed.name))
		}
		names[sealed.name] = struct{}{}
		webhooks = append(webhooks, sealed)
	}

	return &ProvidersConfig{
		includes: append([]string{}, includes...),
		excludes: append([]string{}, p.Excludes...),
		webhooks: webhooks,
	}
}

type WebhookConfigMarshall struct {
	Name string   `yaml:"name"`
	URLs []string `yaml:"urls"`
}

func (w *WebhookConfigMarshall) trySeal(path string) *WebhookConfig {
	if len(w.URLs) == 0 {
		panic(path + ".urls is required")
	}
	urls := make([]*url.URL, 0, len(w.URLs))
	for i, u := range w.URLs {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			panic(fmt.Sprintf("%s.urls[%d]: not an absolute URL: %q", path, i, u))
		}
		urls = append(urls, parsed)
	}
	return &WebhookConfig{
		name: required(w.Name, path+".name"),
		urls: urls,
	}
}

func nonnil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}

func orDefault[T comparable](v T, def T) T {
	if v == *new(T) {
		return def
	}
	return v
}

// orEmpty returns v, or a new zero value when v is nil.
func orEmpty[T any](v *T) *T {
	if v == nil {
		return new(T)
	}
	return v
}

func positive(d time.Duration, path string) time.Duration {
	if d <= 0 {
		panic(fmt.Sprintf("%s: should be positive: %s", path, d))
	}
	return d
}
