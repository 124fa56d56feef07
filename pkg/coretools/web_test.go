package coretools

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kskip310/luminous/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetch(t *testing.T) {
	st := state.Default()

	t.Run("should retry server errors and then succeed", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("ok"))
		}))
		defer srv.Close()
		h := newHarness(t, nil)

		res := h.run(t, "http_fetch", map[string]any{"url": srv.URL}, st)

		require.Nil(t, res.Error)
		assert.Equal(t, int32(3), hits.Load())
		out := res.Output.(map[string]any)
		assert.Equal(t, 200, out["status"])
		assert.Equal(t, "ok", out["body"])
	})

	t.Run("should give up after three server errors", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		h := newHarness(t, nil)

		res := h.run(t, "http_fetch", map[string]any{"url": srv.URL}, st)

		require.NotNil(t, res.Error)
		assert.Equal(t, int32(3), hits.Load())
		assert.Contains(t, res.Error.Message, "502")
	})

	t.Run("should not retry client errors", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()
		h := newHarness(t, nil)

		res := h.run(t, "http_fetch", map[string]any{"url": srv.URL}, st)

		require.NotNil(t, res.Error)
		assert.Equal(t, int32(1), hits.Load())
		assert.Equal(t, srv.URL, res.Error.RequestArgs["url"])
	})

	t.Run("should send method, headers and body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "yes", r.Header.Get("X-Test"))
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()
		h := newHarness(t, nil)

		res := h.run(t, "http_fetch", map[string]any{
			"url": srv.URL, "method": "post", "headers": map[string]any{"X-Test": "yes"}, "body": "{}",
		}, st)

		require.Nil(t, res.Error)
		assert.Equal(t, 201, res.Output.(map[string]any)["status"])
	})

	t.Run("should reject non-http urls", func(t *testing.T) {
		h := newHarness(t, nil)
		res := h.run(t, "http_fetch", map[string]any{"url": "file:///etc/passwd"}, st)
		require.NotNil(t, res.Error)
	})
}

func TestWebSearch(t *testing.T) {
	t.Run("should extract results", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "golang", r.URL.Query().Get("q"))
			assert.Equal(t, "key", r.Header.Get("X-Subscription-Token"))
			json.NewEncoder(w).Encode(map[string]any{"web": map[string]any{"results": []any{
				map[string]any{"title": "Go", "url": "https://go.dev", "description": "The Go language"},
				map[string]any{"title": "Tour", "url": "https://go.dev/tour", "description": "A tour"},
			}}})
		}))
		defer srv.Close()
		h := newHarness(t, func(o *Options) {
			o.SearchURL = srv.URL
			o.SearchKey = "key"
		})

		res := h.run(t, "web_search", map[string]any{"query": "golang", "limit": 1}, state.Default())

		require.Nil(t, res.Error)
		results := res.Output.(map[string]any)["results"].([]map[string]any)
		require.Len(t, results, 1)
		assert.Equal(t, "https://go.dev", results[0]["url"])
	})
}
