package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opst/testpod-controller/cmd/controller/tasks/beacon"
	"github.com/opst/testpod-controller/cmd/controller/tasks/cleanup"
	"github.com/opst/testpod-controller/cmd/controller/tasks/heartbeat"
	"github.com/opst/testpod-controller/cmd/controller/tasks/interrupt"
	"github.com/opst/testpod-controller/cmd/controller/tasks/schedule"
	"github.com/opst/testpod-controller/cmd/controller/tasks/watch"
	ctrlconf "github.com/opst/testpod-controller/pkg/configs/controller"
	"github.com/opst/testpod-controller/pkg/cps"
	rundss "github.com/opst/testpod-controller/pkg/domain/run/dss"
	"github.com/opst/testpod-controller/pkg/dss"
	"github.com/opst/testpod-controller/pkg/dss/etcd"
	"github.com/opst/testpod-controller/pkg/dss/memory"
	xe "github.com/opst/testpod-controller/pkg/errors"
	"github.com/opst/testpod-controller/pkg/health"
	"github.com/opst/testpod-controller/pkg/kubeutil"
	"github.com/opst/testpod-controller/pkg/loop/recurring"
	"github.com/opst/testpod-controller/pkg/metrics"
	"github.com/opst/testpod-controller/pkg/ras"
	"github.com/opst/testpod-controller/pkg/ras/couchdb"
	"github.com/opst/testpod-controller/pkg/ras/postgres"
	"github.com/opst/testpod-controller/pkg/resman"
	"github.com/opst/testpod-controller/pkg/resman/webhook"
	"github.com/opst/testpod-controller/pkg/settings"
	"github.com/opst/testpod-controller/pkg/utils/filewatch"
	"github.com/opst/testpod-controller/pkg/utils/httpretry"
	k8s "github.com/opst/testpod-controller/pkg/workloads/k8s"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	// capacity of event queues between a producer and its drain loop.
	queueCapacity = 1024

	// timeout of each invocation of tasks other than the scheduler.
	taskTimeout = 30 * time.Second
)

var (
	configPath string
	kubeconfig string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller until it is signaled or its config file is modified",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), log, configPath, kubeconfig)
	},
}

func init() {
	runCmd.Flags().StringVar(
		&configPath, "config", os.Getenv("TESTPOD_CONTROLLER_CONFIG"),
		"path to controller config file (env: TESTPOD_CONTROLLER_CONFIG)",
	)
	runCmd.Flags().StringVar(
		&kubeconfig, "kubeconfig", "",
		"path to kubeconfig. in-cluster config is used when not found.",
	)
}

func run(parent context.Context, logger *logrus.Logger, configPath string, kubeconfig string) error {
	if parent == nil {
		parent = context.Background()
	}
	sigctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conf, err := ctrlconf.Load(configPath)
	if err != nil {
		return xe.WrapWithNote("loading config "+configPath, err)
	}

	ctx, cancelWatch, err := filewatch.UntilModifyContext(sigctx, configPath)
	if err != nil {
		return xe.WrapWithNote("watching config "+configPath, err)
	}
	defer cancelWatch()

	root := logger.WithFields(logrus.Fields{
		"controller": conf.ControllerID(),
		"namespace":  conf.Namespace(),
	})

	clientset, err := kubeutil.ConnectToK8s(kubeconfig)
	if err != nil {
		return xe.WrapWithNote("connecting kubernetes", err)
	}
	client := k8s.WrapK8sClient(clientset)

	store, err := openStore(conf.Store(), root)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			root.WithError(err).Warn("failed to close store")
		}
	}()

	archive, closeArchive, err := openArchive(ctx, conf.Archive(), root)
	if err != nil {
		return err
	}
	defer closeArchive()

	holder := settings.New(
		client, conf.Namespace(), conf.SettingsConfigMap(),
		settings.Defaults(conf.EngineLabel()),
		root.WithField("component", "settings"),
	)
	if err := holder.Refresh(ctx); err != nil {
		root.WithError(err).Warn("failed to read settings. defaults are used until next refresh.")
	}

	props := cps.New(store, conf.CPS().Namespace(), root.WithField("component", "cps"))
	runs := rundss.New(store, root.WithField("component", "runs"))
	m := metrics.New()
	tracker := health.NewTracker(conf.Health().StaleAfter())

	providers, err := buildProviders(conf.Providers(), root)
	if err != nil {
		return err
	}
	providers.Initialise(ctx)
	root.WithField("providers", providers.Names()).Info("resource management providers are started")
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), conf.Loops().ShutdownGrace())
		defer cancel()
		providers.Shutdown(shutdown)
	}()

	storeEvents := watch.NewQueue(queueCapacity)
	watcher := watch.NewWatcher(store, storeEvents, root.WithField("component", "watch"))
	if err := watcher.Start(); err != nil {
		return xe.WrapWithNote("watching runs", err)
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			root.WithError(err).Warn("failed to stop watching runs")
		}
	}()

	interrupts := interrupt.NewQueue(queueCapacity)
	loops := conf.Loops()
	runPoll := recurring.DelayOf(settings.KeyRunPoll, func() time.Duration { return holder.Get().RunPoll })

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return startLoop(
			egctx, root, schedule.Seed(),
			schedule.Task(
				root.WithField("loop", "schedule"), runs, client, holder, props, m.SubmittedRuns,
				schedule.Config{
					Namespace:     conf.Namespace(),
					ControllerID:  conf.ControllerID(),
					RetryInterval: conf.PodCreate().RetryInterval(),
					MaxAttempts:   conf.PodCreate().MaxAttempts(),
					Env:           os.Getenv,
				},
			),
			LoopManifest{Name: "schedule", Policy: runPoll},
		)
	})
	eg.Go(func() error {
		return startLoop(
			egctx, root, cleanup.Seed(),
			cleanup.Task(root.WithField("loop", "cleanup"), runs, client, holder, conf.Namespace()),
			LoopManifest{Name: "cleanup", Policy: runPoll, Timeout: taskTimeout},
		)
	})
	eg.Go(func() error {
		return startLoop(
			egctx, root, interrupt.Seed(),
			interrupt.Monitor(root.WithField("loop", "interrupt"), runs, client, conf.Namespace(), interrupts),
			LoopManifest{Name: "interrupt", Policy: recurring.FixedDelay(loops.InterruptInterval()), Timeout: taskTimeout},
		)
	})
	eg.Go(func() error {
		return startLoop(
			egctx, root, interrupt.Seed(),
			interrupt.Processor(root.WithField("loop", "interrupted"), runs, archive, interrupts, m.InterruptEventsProcessed),
			LoopManifest{Name: "interrupted", Policy: recurring.Forever(loops.InterruptInterval()), Timeout: taskTimeout},
		)
	})
	eg.Go(func() error {
		return startLoop(
			egctx, root, heartbeat.Seed(),
			heartbeat.Task(root.WithField("loop", "dead-heartbeat"), runs, props, tracker, m.ResourceManagementRuns),
			LoopManifest{Name: "dead-heartbeat", Policy: recurring.FixedDelay(loops.DeadHeartbeatInterval()), Timeout: taskTimeout},
		)
	})
	eg.Go(func() error {
		return startLoop(
			egctx, root, watch.Seed(),
			watch.Drain(root.WithField("loop", "watch"), storeEvents, providers),
			LoopManifest{Name: "watch", Policy: recurring.Forever(loops.WatchDrainInterval()), Timeout: taskTimeout},
		)
	})
	eg.Go(func() error {
		return startLoop(
			egctx, root, beacon.Seed(),
			beacon.Task(root.WithField("loop", "beacon"), store, conf.ControllerID()),
			LoopManifest{Name: "beacon", Policy: recurring.FixedDelay(loops.HeartbeatInterval()), Timeout: taskTimeout},
		)
	})
	eg.Go(func() error {
		return startLoop(
			egctx, root, any(nil),
			refresh(holder, root.WithField("loop", "settings")),
			LoopManifest{Name: "settings", Policy: recurring.FixedDelay(loops.SettingsRefreshInterval()), Timeout: taskTimeout},
		)
	})
	eg.Go(func() error {
		return health.Serve(egctx, health.HealthServer(tracker, root.WithField("server", "health")), conf.Health().Port())
	})
	eg.Go(func() error {
		return health.Serve(egctx, health.MetricsServer(m.Registry, root.WithField("server", "metrics")), conf.Metrics().Port())
	})

	root.Info("controller is started")

	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()

	select {
	case err := <-done:
		return stopped(ctx, root, err)
	case <-egctx.Done():
	}

	root.WithField("cause", context.Cause(egctx)).Info("stopping controller")
	select {
	case err := <-done:
		return stopped(ctx, root, err)
	case <-time.After(loops.ShutdownGrace()):
		root.Warnf("loops did not stop in %s. giving up waiting.", loops.ShutdownGrace())
		return nil
	}
}

// stopped reports how the loops stopped.
//
// Stopping by signal or config change is not an error.
func stopped(ctx context.Context, logger logrus.FieldLogger, err error) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.WithField("cause", context.Cause(ctx)).Info("controller is stopped")
	return nil
}

func refresh(holder *settings.Holder, logger logrus.FieldLogger) recurring.Task[any] {
	return func(ctx context.Context, value any) (any, bool, error) {
		if err := holder.Refresh(ctx); err != nil {
			logger.WithError(err).Warn("failed to refresh settings. previous ones are kept.")
			return value, false, err
		}
		return value, true, nil
	}
}

func openStore(conf *ctrlconf.StoreConfig, logger logrus.FieldLogger) (dss.Store, error) {
	switch conf.Type() {
	case ctrlconf.StoreMemory:
		logger.Warn("store is in memory. runs are lost on exit.")
		return memory.New(nil), nil
	default:
		s, err := etcd.Connect(etcd.Config{
			Endpoints:   conf.Endpoints(),
			DialTimeout: conf.DialTimeout(),
			Username:    conf.Username(),
			Password:    conf.Password(),
		}, logger.WithField("component", "store"))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func openArchive(ctx context.Context, conf *ctrlconf.ArchiveConfig, logger logrus.FieldLogger) (ras.Archive, func(), error) {
	nop := func() {}
	switch conf.Type() {
	case ctrlconf.ArchiveCouchDB:
		a, err := couchdb.New(
			httpretry.NewClient(logger.WithField("component", "ras")),
			conf.URL(), conf.Database(),
		)
		if err != nil {
			return nil, nil, err
		}
		return a, nop, nil
	case ctrlconf.ArchivePostgres:
		a, closer, err := postgres.Connect(ctx, conf.URL())
		if err != nil {
			return nil, nil, err
		}
		return a, closer, nil
	default:
		logger.Warn("no archive is configured. ras actions are discarded.")
		return ras.None{}, nop, nil
	}
}

func buildProviders(conf *ctrlconf.ProvidersConfig, logger logrus.FieldLogger) (*resman.Providers, error) {
	candidates := []resman.Provider{}
	for _, w := range conf.Webhooks() {
		client := httpretry.NewClient(logger.WithField("provider", "webhook/"+w.Name()))
		candidates = append(candidates, webhook.New(w.Name(), w.URLs(), client))
	}
	return resman.New(logger.WithField("component", "resman"), candidates...).
		Filter(conf.Includes(), conf.Excludes())
}
