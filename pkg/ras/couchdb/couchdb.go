// Package couchdb is the archive on CouchDB, where Galasa keeps run records as documents.
package couchdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
	xe "github.com/opst/testpod-controller/pkg/errors"
	"github.com/opst/testpod-controller/pkg/ras"
)

type Archive struct {
	client   *retryablehttp.Client
	base     *url.URL
	database string
}

var _ ras.Archive = &Archive{}

// New creates an archive on the database in CouchDB at base.
func New(client *retryablehttp.Client, base string, database string) (*Archive, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, xe.WrapWithNote("couchdb url", err)
	}
	return &Archive{client: client, base: u, database: database}, nil
}

func (a *Archive) documentURL(runID string) string {
	return a.base.JoinPath(a.database, runID).String()
}

func str(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func (a *Archive) TestStructure(ctx context.Context, runID string) (*ras.TestStructure, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, a.documentURL(runID), nil)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, xe.WrapWithNote("reading "+runID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	default:
		return nil, unexpected(resp)
	}

	doc := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, xe.WrapWithNote("document "+runID, xe.Invalidf("%s", err))
	}
	return &ras.TestStructure{
		RunID:    runID,
		Status:   str(doc, "status"),
		Result:   str(doc, "result"),
		Document: doc,
	}, nil
}

// UpdateTestStructure puts the document back with its revision.
//
// When the revision is stale, it returns an error satisfying errors.Is(err, errors.ErrConflict).
func (a *Archive) UpdateTestStructure(ctx context.Context, runID string, ts *ras.TestStructure) error {
	doc := map[string]any{}
	for k, v := range ts.Document {
		doc[k] = v
	}
	doc["status"] = ts.Status
	doc["result"] = ts.Result

	body, err := json.Marshal(doc)
	if err != nil {
		return xe.Wrap(err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, a.documentURL(runID), bytes.NewReader(body))
	if err != nil {
		return xe.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return xe.WrapWithNote("updating "+runID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		io.Copy(io.Discard, resp.Body)
		return nil
	case http.StatusConflict:
		io.Copy(io.Discard, resp.Body)
		return xe.WrapWithNote("document "+runID+" is updated by others", xe.ErrConflict)
	default:
		return unexpected(resp)
	}
}

func unexpected(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return xe.New(fmt.Sprintf(
		"unexpected response from couchdb: %s %s: %d %s",
		resp.Request.Method, resp.Request.URL, resp.StatusCode, bytes.TrimSpace(msg),
	))
}
