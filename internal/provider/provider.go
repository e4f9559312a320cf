// Package provider defines the external service contracts the automation
// core consumes: profile provisioning, the publish adapter, and the media
// source. Concrete implementations live in their own packages; the core only
// sees these interfaces.
package provider

import (
	"context"
	"time"
)

// Dependency names used as circuit-breaker registry keys.
const (
	DepProvisioner = "provisioner"
	DepPublisher   = "publisher"
	DepMedia       = "media"
)

// SessionHandle identifies a running remote browser session.
type SessionHandle struct {
	ProfileID string
	Endpoint  string // automation endpoint for the running profile
}

// Credentials holds platform login credentials.
type Credentials struct {
	Username string
	Password string
}

// Provisioner manages remote browser profiles. All calls are idempotent-safe
// to retry except CreateProfile, which may create duplicates; callers must
// check for an existing profile id before retrying it.
type Provisioner interface {
	CreateProfile(ctx context.Context, accountRef string) (profileID string, err error)
	StartProfile(ctx context.Context, profileID string) (SessionHandle, error)
	StopProfile(ctx context.Context, profileID string) error
	CheckStatus(ctx context.Context, profileID string) (active bool, err error)
	DeleteProfile(ctx context.Context, profileID string) error
}

// LoginResult reports the outcome of a platform login attempt.
type LoginResult struct {
	Success              bool
	RequiresVerification bool
	ChallengeType        string
	Error                string
}

// PublishResult reports the outcome of a publish attempt.
type PublishResult struct {
	Success     bool
	ExternalURL string
	ErrorKind   string
	Error       string
}

// AccountStatus reports platform-side account state.
type AccountStatus struct {
	LoggedIn   bool
	Banned     bool
	Restricted bool
}

// PublishOpts holds optional publish parameters.
type PublishOpts struct {
	Location string
}

// PublishAdapter wraps the platform UI automation.
type PublishAdapter interface {
	Login(ctx context.Context, h SessionHandle, creds Credentials) (LoginResult, error)
	Publish(ctx context.Context, h SessionHandle, mediaPath, caption string, opts PublishOpts) (PublishResult, error)
	CheckAccountStatus(ctx context.Context, h SessionHandle) (AccountStatus, error)
	RestoreSession(ctx context.Context, h SessionHandle) (bool, error)
}

// MediaItem describes one available media object.
type MediaItem struct {
	Name       string
	Size       int64
	ModifiedAt time.Time
}

// MediaSource lists and fetches media assets.
type MediaSource interface {
	ListAvailable(ctx context.Context, folderRef string) ([]MediaItem, error)
	// Fetch downloads the item and returns a local path.
	Fetch(ctx context.Context, itemRef string) (localPath string, err error)
}
