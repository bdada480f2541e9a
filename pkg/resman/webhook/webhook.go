// Package webhook is a resource management provider calling HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/opst/testpod-controller/pkg/resman"
)

// EventFinishedOrDeleted is the event name sent when a run has finished or has been deleted.
const EventFinishedOrDeleted = "finished-or-deleted"

var ErrHookFailed = errors.New("hook failed")

// Payload is the JSON body POSTed to each URL.
type Payload struct {
	RunName string `json:"runName"`
	Event   string `json:"event"`
}

// Webhook POSTs Payload to URLs.
//
// Every URL is called, and succeeds if and only if all of them return 2xx status.
type Webhook struct {
	name   string
	urls   []*url.URL
	client *retryablehttp.Client
}

var _ resman.Provider = &Webhook{}

// New creates a webhook provider named "webhook/<name>".
func New(name string, urls []*url.URL, client *retryablehttp.Client) *Webhook {
	return &Webhook{name: name, urls: urls, client: client}
}

func (w *Webhook) Name() string {
	return "webhook/" + w.name
}

func (w *Webhook) Start(context.Context) error {
	if len(w.urls) == 0 {
		return fmt.Errorf("webhook %s has no urls", w.name)
	}
	return nil
}

func (w *Webhook) Shutdown(context.Context) {
	w.client.HTTPClient.CloseIdleConnections()
}

func (w *Webhook) RunFinishedOrDeleted(ctx context.Context, runName string) error {
	buf, err := json.Marshal(Payload{RunName: runName, Event: EventFinishedOrDeleted})
	if err != nil {
		return err
	}

	errs := []error{}
	for _, u := range w.urls {
		if err := w.send(ctx, u.String(), buf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Webhook) send(ctx context.Context, url string, payload []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return errors.Join(err, ErrHookFailed)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Join(err, ErrHookFailed)
	}
	defer resp.Body.Close()

	if 200 <= resp.StatusCode && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	ctype := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ctype, "text/") && !(strings.HasPrefix(ctype, "application/") && strings.Contains(ctype, "json")) {
		return fmt.Errorf(
			"%w (%s %d, Content-Type: %s)",
			ErrHookFailed, url, resp.StatusCode, ctype,
		)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf(
		"%w (%s %d, Content-Type: %s): %s",
		ErrHookFailed, url, resp.StatusCode, ctype, bytes.TrimSpace(body),
	)
}
