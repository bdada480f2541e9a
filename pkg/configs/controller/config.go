package controller

import (
	"net/url"
	"time"
)

// Configuration of the test pod controller.
//
// To get a ControllerConfig, use `Unmarshal` or `Load`.
type ControllerConfig struct {
	namespace         string
	engineLabel       string
	controllerID      string
	settingsConfigMap string
	store             *StoreConfig
	cps               *CPSConfig
	archive           *ArchiveConfig
	metrics           *ServerConfig
	health            *HealthConfig
	loops             *LoopsConfig
	podCreate         *PodCreateConfig
	providers         *ProvidersConfig
}

// k8s namespace where engine pods are created.
func (c *ControllerConfig) Namespace() string {
	return c.namespace
}

// Value of the label "galasa-engine-controller" put on engine pods.
//
// This is also the prefix of pod names.
func (c *ControllerConfig) EngineLabel() string {
	return c.engineLabel
}

// Identity of this controller, written into allocated runs.
func (c *ControllerConfig) ControllerID() string {
	return c.controllerID
}

// Name of the ConfigMap holding engine settings.
func (c *ControllerConfig) SettingsConfigMap() string {
	return c.settingsConfigMap
}

func (c *ControllerConfig) Store() *StoreConfig {
	return c.store
}

func (c *ControllerConfig) CPS() *CPSConfig {
	return c.cps
}

func (c *ControllerConfig) Archive() *ArchiveConfig {
	return c.archive
}

func (c *ControllerConfig) Metrics() *ServerConfig {
	return c.metrics
}

func (c *ControllerConfig) Health() *HealthConfig {
	return c.health
}

func (c *ControllerConfig) Loops() *LoopsConfig {
	return c.loops
}

func (c *ControllerConfig) PodCreate() *PodCreateConfig {
	return c.podCreate
}

func (c *ControllerConfig) Providers() *ProvidersConfig {
	return c.providers
}

type StoreType string

const (
	StoreEtcd   StoreType = "etcd"
	StoreMemory StoreType = "memory"
)

type StoreConfig struct {
	typ         StoreType
	endpoints   []string
	dialTimeout time.Duration
	username    string
	password    string
}

func (s *StoreConfig) Type() StoreType {
	return s.typ
}

func (s *StoreConfig) Endpoints() []string {
	return append([]string{}, s.endpoints...)
}

func (s *StoreConfig) DialTimeout() time.Duration {
	return s.dialTimeout
}

func (s *StoreConfig) Username() string {
	return s.username
}

func (s *StoreConfig) Password() string {
	return s.password
}

type CPSConfig struct {
	namespace string
}

// Namespace of properties, like "framework".
func (c *CPSConfig) Namespace() string {
	return c.namespace
}

type ArchiveType string

const (
	ArchiveCouchDB  ArchiveType = "couchdb"
	ArchivePostgres ArchiveType = "postgres"
	ArchiveNone     ArchiveType = "none"
)

type ArchiveConfig struct {
	typ      ArchiveType
	url      string
	database string
}

func (a *ArchiveConfig) Type() ArchiveType {
	return a.typ
}

// URL of CouchDB, or connection string of PostgreSQL.
func (a *ArchiveConfig) URL() string {
	return a.url
}

// Database name in CouchDB.
func (a *ArchiveConfig) Database() string {
	return a.database
}

type ServerConfig struct {
	port int32
}

// Port to listen. 0 disables the server.
func (s *ServerConfig) Port() int32 {
	return s.port
}

type HealthConfig struct {
	ServerConfig
	staleAfter time.Duration
}

// The health check fails when no scan succeeds in this duration.
func (h *HealthConfig) StaleAfter() time.Duration {
	return h.staleAfter
}

type LoopsConfig struct {
	interruptInterval       time.Duration
	heartbeatInterval       time.Duration
	watchDrainInterval      time.Duration
	deadHeartbeatInterval   time.Duration
	settingsRefreshInterval time.Duration
	shutdownGrace           time.Duration
}

// Delay between scans of interrupted runs, and between drains of interrupt events.
func (l *LoopsConfig) InterruptInterval() time.Duration {
	return l.interruptInterval
}

// Delay between controller heartbeats.
func (l *LoopsConfig) HeartbeatInterval() time.Duration {
	return l.heartbeatInterval
}

func (l *LoopsConfig) WatchDrainInterval() time.Duration {
	return l.watchDrainInterval
}

func (l *LoopsConfig) DeadHeartbeatInterval() time.Duration {
	return l.deadHeartbeatInterval
}

func (l *LoopsConfig) SettingsRefreshInterval() time.Duration {
	return l.settingsRefreshInterval
}

// How long to wait for loops to stop on shutdown.
func (l *LoopsConfig) ShutdownGrace() time.Duration {
	return l.shutdownGrace
}

type PodCreateConfig struct {
	retryInterval time.Duration
	maxAttempts   int
}

func (p *PodCreateConfig) RetryInterval() time.Duration {
	return p.retryInterval
}

// Attempts to create a pod before giving up. 0 means no limit.
func (p *PodCreateConfig) MaxAttempts() int {
	return p.maxAttempts
}

type ProvidersConfig struct {
	includes []string
	excludes []string
	webhooks []*WebhookConfig
}

// Glob patterns of provider names to be enabled.
func (p *ProvidersConfig) Includes() []string {
	return append([]string{}, p.includes...)
}

// Glob patterns of provider names to be disabled.
func (p *ProvidersConfig) Excludes() []string {
	return append([]string{}, p.excludes...)
}

func (p *ProvidersConfig) Webhooks() []*WebhookConfig {
	return append([]*WebhookConfig{}, p.webhooks...)
}

type WebhookConfig struct {
	name string
	urls []*url.URL
}

func (w *WebhookConfig) Name() string {
	return w.name
}

func (w *WebhookConfig) URLs() []*url.URL {
	ret := make([]*url.URL, 0, len(w.urls))
	for _, u := range w.urls {
		c := *u
		ret = append(ret, &c)
	}
	return ret
}
