package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrRemoteUnconfigured is returned by tiers without connection parameters.
var ErrRemoteUnconfigured = errors.New("remote store is not configured")

// RemoteTier is the network-accessed durable tier. Values are opaque blobs.
type RemoteTier interface {
	Configured() bool
	// Get returns found=false when the key has no value.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// RESTConfig configures a RESTRemote.
type RESTConfig struct {
	URL        string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// RESTRemote talks to a Redis-over-REST service: GET {url}/get/{key} and
// POST {url}/set/{key} with a bearer token, answering {"result": ...} or
// {"error": "..."}.
type RESTRemote struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRESTRemote builds a remote tier. Missing URL or token leaves it
// unconfigured.
func NewRESTRemote(cfg RESTConfig) *RESTRemote {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &RESTRemote{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		client:  client,
	}
}

func (r *RESTRemote) Configured() bool {
	return r != nil && r.baseURL != "" && r.token != ""
}

func (r *RESTRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !r.Configured() {
		return nil, false, ErrRemoteUnconfigured
	}

	body, err := r.do(ctx, http.MethodGet, "/get/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, false, err
	}

	result := gjson.GetBytes(body, "result")
	switch {
	case !result.Exists():
		return nil, false, fmt.Errorf("malformed remote response: missing result")
	case result.Type == gjson.Null:
		return nil, false, nil
	case result.Type != gjson.String:
		return nil, false, fmt.Errorf("malformed remote response: result is %s", result.Type)
	}
	return []byte(result.Str), true, nil
}

func (r *RESTRemote) Set(ctx context.Context, key string, value []byte) error {
	if !r.Configured() {
		return ErrRemoteUnconfigured
	}

	body, err := r.do(ctx, http.MethodPost, "/set/"+url.PathEscape(key), value)
	if err != nil {
		return err
	}

	if result := gjson.GetBytes(body, "result"); result.String() != "OK" {
		return fmt.Errorf("malformed remote response: unexpected result %q", result.Raw)
	}
	return nil
}

func (r *RESTRemote) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build remote request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read remote response: %w", err)
	}

	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return nil, fmt.Errorf("remote error (status %d): %s", resp.StatusCode, msg.String())
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("remote rejected credentials (status %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("malformed remote response: invalid JSON")
	}
	return body, nil
}
