// Package client is a thin HTTP client for the access API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.pilab.hu/toolgate/api"
	apierrors "go.pilab.hu/toolgate/errors"
)

const defaultTimeout = 15 * time.Second

// Client calls the access API with a bearer session token.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// New returns a client for the API mounted at server + prefix.
func New(server, prefix, token string) (*Client, error) {
	u, err := url.Parse(server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server endpoint %q", server)
	}
	if token == "" {
		return nil, fmt.Errorf("session token not set; pass --token or set TOOLGATECTL_TOKEN")
	}

	return &Client{
		endpoint: strings.TrimRight(server, "/") + "/" + strings.Trim(prefix, "/"),
		token:    token,
		http:     &http.Client{Timeout: defaultTimeout},
	}, nil
}

// RequestAccess asks for a one-time launch link for toolID.
func (c *Client) RequestAccess(ctx context.Context, toolID string) (*api.AccessGrantResponse, error) {
	var resp api.AccessGrantResponse
	path := "/tools/" + url.PathEscape(toolID) + "/request-access"
	if err := c.do(ctx, http.MethodPost, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cleanup sweeps expired grants. Requires an elevated session.
func (c *Client) Cleanup(ctx context.Context) (*api.CleanupResponse, error) {
	var resp api.CleanupResponse
	if err := c.do(ctx, http.MethodDelete, "/tokens/cleanup", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if res.StatusCode >= http.StatusBadRequest {
		apiErr := &apierrors.APIError{Status: res.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(res.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
