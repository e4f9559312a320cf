package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"

	"github.com/postpilot/postpilot/internal/provider"
)

// Automation implements provider.PublishAdapter against the profile
// service's automation API. The service drives the platform UI inside the
// running browser profile; this client only relays commands and media.
type Automation struct {
	baseURL string
	http    *http.Client
}

// NewAutomation creates an Automation client authenticated with the given
// API token. Publish uploads media, so the timeout should be generous.
func NewAutomation(baseURL, token string, timeout time.Duration) *Automation {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	hc := oauth2.NewClient(context.Background(), src)
	hc.Timeout = timeout
	return &Automation{baseURL: baseURL, http: hc}
}

type automationResponse struct {
	Success              bool   `json:"success"`
	RequiresVerification bool   `json:"requires_verification"`
	ChallengeType        string `json:"challenge_type"`
	ExternalURL          string `json:"external_url"`
	ErrorKind            string `json:"error_kind"`
	Error                string `json:"error"`
	LoggedIn             bool   `json:"logged_in"`
	Banned               bool   `json:"banned"`
	Restricted           bool   `json:"restricted"`
}

// Login performs a platform login in the running profile.
func (a *Automation) Login(ctx context.Context, h provider.SessionHandle, creds provider.Credentials) (provider.LoginResult, error) {
	resp, err := a.postJSON(ctx, "/v1/profiles/"+h.ProfileID+"/login", map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	})
	if err != nil {
		return provider.LoginResult{}, fmt.Errorf("automation: login %s: %w", h.ProfileID, err)
	}
	return provider.LoginResult{
		Success:              resp.Success,
		RequiresVerification: resp.RequiresVerification,
		ChallengeType:        resp.ChallengeType,
		Error:                resp.Error,
	}, nil
}

// Publish uploads the media file and posts it with the given caption.
func (a *Automation) Publish(ctx context.Context, h provider.SessionHandle, mediaPath, caption string, opts provider.PublishOpts) (provider.PublishResult, error) {
	file, err := os.Open(mediaPath)
	if err != nil {
		return provider.PublishResult{}, fmt.Errorf("automation: publish %s: open media: %w", h.ProfileID, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", filepath.Base(mediaPath))
	if err != nil {
		return provider.PublishResult{}, fmt.Errorf("automation: publish %s: %w", h.ProfileID, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return provider.PublishResult{}, fmt.Errorf("automation: publish %s: read media: %w", h.ProfileID, err)
	}
	mw.WriteField("caption", caption)
	if opts.Location != "" {
		mw.WriteField("location", opts.Location)
	}
	if err := mw.Close(); err != nil {
		return provider.PublishResult{}, fmt.Errorf("automation: publish %s: %w", h.ProfileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/profiles/"+h.ProfileID+"/publish", &buf)
	if err != nil {
		return provider.PublishResult{}, fmt.Errorf("automation: publish %s: %w", h.ProfileID, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.do(req)
	if err != nil {
		return provider.PublishResult{}, fmt.Errorf("automation: publish %s: %w", h.ProfileID, err)
	}
	return provider.PublishResult{
		Success:     resp.Success,
		ExternalURL: resp.ExternalURL,
		ErrorKind:   resp.ErrorKind,
		Error:       resp.Error,
	}, nil
}

// CheckAccountStatus reports platform-side account state.
func (a *Automation) CheckAccountStatus(ctx context.Context, h provider.SessionHandle) (provider.AccountStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.baseURL+"/v1/profiles/"+h.ProfileID+"/account", nil)
	if err != nil {
		return provider.AccountStatus{}, fmt.Errorf("automation: account status %s: %w", h.ProfileID, err)
	}
	resp, err := a.do(req)
	if err != nil {
		return provider.AccountStatus{}, fmt.Errorf("automation: account status %s: %w", h.ProfileID, err)
	}
	return provider.AccountStatus{
		LoggedIn:   resp.LoggedIn,
		Banned:     resp.Banned,
		Restricted: resp.Restricted,
	}, nil
}

// RestoreSession attempts to resume the platform session from stored
// cookies without a fresh login.
func (a *Automation) RestoreSession(ctx context.Context, h provider.SessionHandle) (bool, error) {
	resp, err := a.postJSON(ctx, "/v1/profiles/"+h.ProfileID+"/restore", nil)
	if err != nil {
		return false, fmt.Errorf("automation: restore session %s: %w", h.ProfileID, err)
	}
	return resp.Success, nil
}

func (a *Automation) postJSON(ctx context.Context, path string, body any) (*automationResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

func (a *Automation) do(req *http.Request) (*automationResponse, error) {
	resp, err := a.http.Do(req)
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

	var ar automationResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ar); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return &ar, nil
}
