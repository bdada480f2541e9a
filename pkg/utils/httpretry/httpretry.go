// Package httpretry builds retrying HTTP clients which log with logrus.
package httpretry

import (
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// leveled adapts logrus to retryablehttp.LeveledLogger.
type leveled struct {
	logger logrus.FieldLogger
}

var _ retryablehttp.LeveledLogger = leveled{}

func (l leveled) with(keysAndValues []any) logrus.FieldLogger {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			fields[k] = keysAndValues[i+1]
		}
	}
	return l.logger.WithFields(fields)
}

func (l leveled) Error(msg string, keysAndValues ...any) {
	l.with(keysAndValues).Error(msg)
}

func (l leveled) Info(msg string, keysAndValues ...any) {
	// retryablehttp reports every request at this level
	l.with(keysAndValues).Debug(msg)
}

func (l leveled) Debug(msg string, keysAndValues ...any) {
	l.with(keysAndValues).Debug(msg)
}

func (l leveled) Warn(msg string, keysAndValues ...any) {
	l.with(keysAndValues).Warn(msg)
}

type Option func(*retryablehttp.Client) *retryablehttp.Client

// WithRetry sets retry count and the range of waits between them.
func WithRetry(max int, waitMin time.Duration, waitMax time.Duration) Option {
	return func(c *retryablehttp.Client) *retryablehttp.Client {
		c.RetryMax = max
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
		return c
	}
}

// WithTimeout sets the timeout of each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *retryablehttp.Client) *retryablehttp.Client {
		c.HTTPClient.Timeout = d
		return c
	}
}

// NewClient creates a client retrying 3 times, waiting 100ms to 2s between attempts.
func NewClient(logger logrus.FieldLogger, options ...Option) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = leveled{logger: logger}
	c.RetryMax = 3
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 30 * time.Second
	for _, opt := range options {
		c = opt(c)
	}
	return c
}
