// Package health serves the health and metrics endpoints.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Tracker remembers when the last scan has succeeded.
type Tracker struct {
	staleAfter time.Duration
	now        func() time.Time

	mu   sync.Mutex
	last *time.Time
}

type Option func(*Tracker) *Tracker

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) *Tracker {
		t.now = now
		return t
	}
}

// NewTracker creates a Tracker which gets unhealthy when no scans succeeded in staleAfter.
func NewTracker(staleAfter time.Duration, options ...Option) *Tracker {
	t := &Tracker{staleAfter: staleAfter, now: time.Now}
	for _, opt := range options {
		t = opt(t)
	}
	return t
}

// Succeeded records a successful scan at the time.
func (t *Tracker) Succeeded(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last != nil && at.Before(*t.last) {
		return
	}
	t.last = &at
}

type Report struct {
	// LastSuccessfulScan is RFC3339 timestamp, or nil before the first scan.
	LastSuccessfulScan *string `json:"lastSuccessfulScan"`
	Healthy            bool    `json:"healthy"`
}

func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Report{}
	}
	ts := t.last.UTC().Format(time.RFC3339)
	return Report{
		LastSuccessfulScan: &ts,
		Healthy:            t.now().Sub(*t.last) <= t.staleAfter,
	}
}

func newEcho(logger logrus.FieldLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.OFF)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(err, c)
		logger.WithError(err).Warn("request failed")
	}
	e.Use(logRequests(logger))
	return e
}

func logRequests(logger logrus.FieldLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			begin := time.Now()
			err := next(c)
			logger.WithFields(logrus.Fields{
				"method": c.Request().Method,
				"path":   c.Request().URL.Path,
				"status": c.Response().Status,
				"took":   time.Since(begin),
			}).Debug("served")
			return err
		}
	}
}

// HealthServer serves GET /health.
//
// It responds 503 until the first successful scan, or when the last one is stale.
func HealthServer(tracker *Tracker, logger logrus.FieldLogger) *echo.Echo {
	e := newEcho(logger)
	e.GET("/health", func(c echo.Context) error {
		r := tracker.Report()
		if !r.Healthy {
			return c.JSON(http.StatusServiceUnavailable, r)
		}
		return c.JSON(http.StatusOK, r)
	})
	return e
}

// MetricsServer serves GET /metrics in the prometheus exposition format.
func MetricsServer(registry *prometheus.Registry, logger logrus.FieldLogger) *echo.Echo {
	e := newEcho(logger)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	return e
}

// Serve runs e on the port until ctx is done.
//
// When port is 0, it returns nil without serving.
func Serve(ctx context.Context, e *echo.Echo, port int32) error {
	if port == 0 {
		return nil
	}

	errc := make(chan error, 1)
	go func() {
		errc <- e.Start(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		graceful, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(graceful)
	}
}
