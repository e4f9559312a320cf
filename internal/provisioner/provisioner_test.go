package provisioner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/postpilot/postpilot/internal/provider"
)

func newService(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_CreateProfile(t *testing.T) {
	srv := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/profiles" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "Bearer tok-1") {
			t.Errorf("authorization = %q, want bearer token", auth)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["account"] != "acct-1" {
			t.Errorf("account ref = %q, want acct-1", body["account"])
		}
		json.NewEncoder(w).Encode(map[string]any{"profile_id": "prof-9"})
	})

	c := New(srv.URL, "tok-1", time.Second)
	id, err := c.CreateProfile(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if id != "prof-9" {
		t.Errorf("profile id = %q, want prof-9", id)
	}
}

func TestClient_CreateProfile_EmptyID(t *testing.T) {
	srv := newService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error": "capacity"})
	})

	c := New(srv.URL, "tok", time.Second)
	if _, err := c.CreateProfile(context.Background(), "acct-1"); err == nil ||
		!strings.Contains(err.Error(), "empty profile id") {
		t.Errorf("err = %v, want empty profile id", err)
	}
}

func TestClient_StartAndStatus(t *testing.T) {
	srv := newService(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/start"):
			json.NewEncoder(w).Encode(map[string]any{"endpoint": "ws://10.0.0.5:9222"})
		case strings.HasSuffix(r.URL.Path, "/status"):
			json.NewEncoder(w).Encode(map[string]any{"active": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	c := New(srv.URL, "tok", time.Second)
	h, err := c.StartProfile(context.Background(), "prof-1")
	if err != nil {
		t.Fatalf("StartProfile: %v", err)
	}
	if h.ProfileID != "prof-1" || h.Endpoint != "ws://10.0.0.5:9222" {
		t.Errorf("handle = %+v", h)
	}

	active, err := c.CheckStatus(context.Background(), "prof-1")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if !active {
		t.Error("active = false, want true")
	}
}

func TestClient_ServerError(t *testing.T) {
	srv := newService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "profile is locked", http.StatusConflict)
	})

	c := New(srv.URL, "tok", time.Second)
	if err := c.StopProfile(context.Background(), "prof-1"); err == nil ||
		!strings.Contains(err.Error(), "status 409") {
		t.Errorf("err = %v, want status 409", err)
	}
}

func TestAutomation_Login(t *testing.T) {
	srv := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/profiles/prof-1/login" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "user" || body["password"] != "pw" {
			t.Errorf("credentials = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"requires_verification": true,
			"challenge_type":        "checkpoint",
		})
	})

	a := NewAutomation(srv.URL, "tok", time.Second)
	h := provider.SessionHandle{ProfileID: "prof-1"}
	res, err := a.Login(context.Background(), h, provider.Credentials{Username: "user", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Success || !res.RequiresVerification || res.ChallengeType != "checkpoint" {
		t.Errorf("result = %+v, want checkpoint challenge", res)
	}
}

func TestAutomation_PublishUploadsMedia(t *testing.T) {
	dir := t.TempDir()
	mediaPath := filepath.Join(dir, "reel.mp4")
	if err := os.WriteFile(mediaPath, []byte("fake video bytes"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}

	srv := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("caption"); got != "sunset" {
			t.Errorf("caption = %q, want sunset", got)
		}
		if got := r.FormValue("location"); got != "Lisbon" {
			t.Errorf("location = %q, want Lisbon", got)
		}
		file, header, err := r.FormFile("media")
		if err != nil {
			t.Fatalf("media part missing: %v", err)
		}
		file.Close()
		if header.Filename != "reel.mp4" {
			t.Errorf("filename = %q, want reel.mp4", header.Filename)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":      true,
			"external_url": "https://platform.example/p/42",
		})
	})

	a := NewAutomation(srv.URL, "tok", time.Second)
	h := provider.SessionHandle{ProfileID: "prof-1"}
	res, err := a.Publish(context.Background(), h, mediaPath, "sunset", provider.PublishOpts{Location: "Lisbon"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !res.Success || res.ExternalURL != "https://platform.example/p/42" {
		t.Errorf("result = %+v", res)
	}
}

func TestAutomation_PublishMissingMedia(t *testing.T) {
	a := NewAutomation("http://127.0.0.1:0", "tok", time.Second)
	h := provider.SessionHandle{ProfileID: "prof-1"}
	if _, err := a.Publish(context.Background(), h, "/nonexistent/clip.mp4", "", provider.PublishOpts{}); err == nil ||
		!strings.Contains(err.Error(), "open media") {
		t.Errorf("err = %v, want open media", err)
	}
}

func TestAutomation_AccountStatusAndRestore(t *testing.T) {
	srv := newService(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/account"):
			json.NewEncoder(w).Encode(map[string]any{"logged_in": true, "restricted": true})
		case strings.HasSuffix(r.URL.Path, "/restore"):
			json.NewEncoder(w).Encode(map[string]any{"success": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	a := NewAutomation(srv.URL, "tok", time.Second)
	h := provider.SessionHandle{ProfileID: "prof-1"}

	status, err := a.CheckAccountStatus(context.Background(), h)
	if err != nil {
		t.Fatalf("CheckAccountStatus: %v", err)
	}
	if !status.LoggedIn || !status.Restricted || status.Banned {
		t.Errorf("status = %+v", status)
	}

	ok, err := a.RestoreSession(context.Background(), h)
	if err != nil {
		t.Fatalf("RestoreSession: %v", err)
	}
	if !ok {
		t.Error("restore = false, want true")
	}
}
