package httpretry_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/opst/testpod-controller/pkg/utils/httpretry"
	"github.com/opst/testpod-controller/pkg/utils/try"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestNewClient(t *testing.T) {
	t.Run("it retries server errors and logs them", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		logger, hook := logtest.NewNullLogger()
		logger.SetLevel(logrus.DebugLevel)
		client := httpretry.NewClient(logger, httpretry.WithRetry(5, time.Millisecond, 2*time.Millisecond))

		req := try.To(retryablehttp.NewRequest(http.MethodGet, srv.URL, nil)).OrFatal(t)
		resp := try.To(client.Do(req)).OrFatal(t)
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("mismatch. (actual, expected) = (%d, %d)", resp.StatusCode, http.StatusOK)
		}
		if n := calls.Load(); n != 3 {
			t.Errorf("mismatch. (actual, expected) = (%d, %d)", n, 3)
		}
		if len(hook.AllEntries()) == 0 {
			t.Error("nothing is logged")
		}
	})

	t.Run("it gives up after retries", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		logger, _ := logtest.NewNullLogger()
		client := httpretry.NewClient(logger, httpretry.WithRetry(1, time.Millisecond, time.Millisecond))

		req := try.To(retryablehttp.NewRequest(http.MethodGet, srv.URL, nil)).OrFatal(t)
		if _, err := client.Do(req); err == nil {
			t.Error("expected error is not returned")
		}
	})
}
