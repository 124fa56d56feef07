package coretools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/kskip310/luminous/pkg/toolexecutor"
	"github.com/tidwall/gjson"
)

type response struct {
	status    int
	header    http.Header
	body      []byte
	truncated bool
}

// fetch performs one logical request under the retry policy. build is
// called once per attempt so bodies can be re-read.
func fetch(ctx context.Context, opts Options, operation string, build func(ctx context.Context) (*http.Request, error)) (response, error) {
	policy := opts.Retry
	policy.Operation = operation
	policy.Logger = opts.Logger

	var resp response
	err := toolexecutor.Retry(ctx, policy, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return err
		}
		r, err := opts.HTTPClient.Do(req)
		if err != nil {
			return classifyTransportError(err)
		}
		defer r.Body.Close()

		body, err := io.ReadAll(io.LimitReader(r.Body, opts.MaxBodyBytes+1))
		if err != nil {
			return toolexecutor.Transient(fmt.Errorf("failed to read response: %w", err))
		}
		truncated := int64(len(body)) > opts.MaxBodyBytes
		if truncated {
			body = body[:opts.MaxBodyBytes]
		}
		if r.StatusCode >= 400 {
			snippet := string(body)
			if len(snippet) > 200 {
				snippet = snippet[:200]
			}
			return &toolexecutor.StatusError{StatusCode: r.StatusCode, Body: snippet}
		}
		resp = response{status: r.StatusCode, header: r.Header, body: body, truncated: truncated}
		return nil
	})
	return resp, err
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return toolexecutor.Transient(err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return toolexecutor.Transient(err)
	}
	return err
}

func requestError(err error) error {
	var se *toolexecutor.StatusError
	if errors.As(err, &se) {
		te := toolexecutor.NewToolError(fmt.Sprintf("request failed with status %d", se.StatusCode), "")
		te.Details = se.Body
		if se.StatusCode < 500 {
			te.Suggestion = "Check the URL, method and parameters; the server rejected the request."
		} else {
			te.Suggestion = "The server kept failing; try again later or use another source."
		}
		return te
	}
	te := toolexecutor.NewToolError("request failed", "Check that the host is reachable.")
	te.Details = err.Error()
	return te
}

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodHead: true, http.MethodPatch: true,
}

func httpFetchTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "http_fetch",
		Description: "Make an HTTP request and return the status and body. Server errors are retried.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "url", Type: "string", Description: "Absolute http or https URL", Required: true},
			{Name: "method", Type: "string", Description: "HTTP method (default GET)"},
			{Name: "headers", Type: "object", Description: "Request headers"},
			{Name: "body", Type: "string", Description: "Request body"},
		},
		Args: func() toolexecutor.Args { return &httpFetchArgs{Method: http.MethodGet} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *httpFetchArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			u, err := url.Parse(args.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return toolexecutor.Output{}, toolexecutor.NewToolError("invalid url: "+args.URL, "Pass an absolute http or https URL.")
			}
			method := strings.ToUpper(args.Method)
			if !allowedMethods[method] {
				return toolexecutor.Output{}, toolexecutor.NewToolError("unsupported method: "+args.Method, "Use GET, POST, PUT, PATCH, DELETE or HEAD.")
			}

			resp, err := fetch(ctx, opts, "http_fetch", func(ctx context.Context) (*http.Request, error) {
				var body io.Reader
				if args.Body != "" {
					body = strings.NewReader(args.Body)
				}
				req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
				if err != nil {
					return nil, err
				}
				for k, v := range args.Headers {
					req.Header.Set(k, v)
				}
				return req, nil
			})
			if err != nil {
				return toolexecutor.Output{}, requestError(err)
			}

			return toolexecutor.Output{Result: map[string]any{
				"status":      resp.status,
				"contentType": resp.header.Get("Content-Type"),
				"body":        string(resp.body),
				"truncated":   resp.truncated,
			}}, nil
		}),
	}
}

// webSearchTool queries a Brave-style search API: GET {url}?q=..&count=..
// with an X-Subscription-Token header, answering web.results[] (or
// results[]) with title, url and description.
func webSearchTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web and return titles, URLs and snippets.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum results (default 5, at most 20)"},
		},
		Args: func() toolexecutor.Args { return &webSearchArgs{Limit: 5} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *webSearchArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			query := strings.TrimSpace(args.Query)
			if query == "" {
				return toolexecutor.Output{}, toolexecutor.NewToolError("query is empty", "Pass search terms.")
			}
			limit := args.Limit
			if limit <= 0 || limit > 20 {
				limit = 5
			}

			resp, err := fetch(ctx, opts, "web_search", func(ctx context.Context) (*http.Request, error) {
				u, err := url.Parse(opts.SearchURL)
				if err != nil {
					return nil, err
				}
				q := u.Query()
				q.Set("q", query)
				q.Set("count", fmt.Sprint(limit))
				u.RawQuery = q.Encode()
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
				if err != nil {
					return nil, err
				}
				req.Header.Set("Accept", "application/json")
				if opts.SearchKey != "" {
					req.Header.Set("X-Subscription-Token", opts.SearchKey)
				}
				return req, nil
			})
			if err != nil {
				return toolexecutor.Output{}, requestError(err)
			}
			if !gjson.ValidBytes(resp.body) {
				return toolexecutor.Output{}, toolexecutor.NewToolError("search returned malformed JSON", "Try again with a different query.")
			}

			hits := gjson.GetBytes(resp.body, "web.results")
			if !hits.Exists() {
				hits = gjson.GetBytes(resp.body, "results")
			}
			results := make([]map[string]any, 0, limit)
			hits.ForEach(func(_, hit gjson.Result) bool {
				results = append(results, map[string]any{
					"title":   hit.Get("title").String(),
					"url":     hit.Get("url").String(),
					"snippet": hit.Get("description").String(),
				})
				return len(results) < limit
			})
			return toolexecutor.Output{Result: map[string]any{"query": query, "results": results}}, nil
		}),
	}
}
