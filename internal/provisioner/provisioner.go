// Package provisioner implements provider.Provisioner against the remote
// anti-detect browser-profile service's JSON API.
package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/postpilot/postpilot/internal/provider"
	"golang.org/x/oauth2"
)

// Client talks to the profile provisioning service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client authenticated with the given API token.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	hc := oauth2.NewClient(context.Background(), src)
	hc.Timeout = timeout
	return &Client{baseURL: baseURL, http: hc}
}

type profileResponse struct {
	ProfileID string `json:"profile_id"`
	Endpoint  string `json:"endpoint"`
	Active    bool   `json:"active"`
	Error     string `json:"error"`
}

// CreateProfile requests a new browser profile for the account. Not
// idempotent; callers must check for an existing profile id before
// retrying.
func (c *Client) CreateProfile(ctx context.Context, accountRef string) (string, error) {
	resp, err := c.post(ctx, "/v1/profiles", map[string]string{"account": accountRef})
	if err != nil {
		return "", fmt.Errorf("provisioner: create profile: %w", err)
	}
	if resp.ProfileID == "" {
		return "", fmt.Errorf("provisioner: create profile: empty profile id (%s)", resp.Error)
	}
	return resp.ProfileID, nil
}

// StartProfile launches the profile's browser and returns its automation
// endpoint.
func (c *Client) StartProfile(ctx context.Context, profileID string) (provider.SessionHandle, error) {
	resp, err := c.post(ctx, "/v1/profiles/"+profileID+"/start", nil)
	if err != nil {
		return provider.SessionHandle{}, fmt.Errorf("provisioner: start profile %s: %w", profileID, err)
	}
	return provider.SessionHandle{ProfileID: profileID, Endpoint: resp.Endpoint}, nil
}

// StopProfile stops the profile's browser.
func (c *Client) StopProfile(ctx context.Context, profileID string) error {
	if _, err := c.post(ctx, "/v1/profiles/"+profileID+"/stop", nil); err != nil {
		return fmt.Errorf("provisioner: stop profile %s: %w", profileID, err)
	}
	return nil
}

// CheckStatus reports whether the profile's browser session is active.
func (c *Client) CheckStatus(ctx context.Context, profileID string) (bool, error) {
	resp, err := c.get(ctx, "/v1/profiles/"+profileID+"/status")
	if err != nil {
		return false, fmt.Errorf("provisioner: check status %s: %w", profileID, err)
	}
	return resp.Active, nil
}

// DeleteProfile removes the remote profile.
func (c *Client) DeleteProfile(ctx context.Context, profileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/profiles/"+profileID, nil)
	if err != nil {
		return fmt.Errorf("provisioner: delete profile %s: %w", profileID, err)
	}
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("provisioner: delete profile %s: %w", profileID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*profileResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) (*profileResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*profileResponse, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var pr profileResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &pr); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return &pr, nil
}
