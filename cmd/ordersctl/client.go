package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// adminClient calls the service admin API.
type adminClient struct {
	base string
	http *http.Client
}

func newAdminClient(opts *RootOptions) (*adminClient, error) {
	u, err := url.Parse(opts.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --server %q", opts.Server))
	}
	return &adminClient{
		base: strings.TrimSuffix(opts.Server, "/"),
		http: &http.Client{Timeout: opts.Timeout},
	}, nil
}

type apiError struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// do sends a request and decodes a JSON answer into out when out is not nil.
func (c *adminClient) do(ctx context.Context, method, path string, body io.Reader, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, NewExitError(ExitCommandError, err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return resp.StatusCode, WrapExitError(ExitCommandError, "read response", err)
	}

	if resp.StatusCode >= 400 {
		var ae apiError
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &ae) == nil && ae.Error != "" {
			msg = ae.Error
		}
		return resp.StatusCode, NewExitError(ExitFailure, fmt.Sprintf("%s %s: %d %s", method, path, resp.StatusCode, msg))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, WrapExitError(ExitFailure, "decode response", err)
		}
	}
	return resp.StatusCode, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
