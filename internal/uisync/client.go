// Package uisync mirrors each direction's per-cycle outcome to
// Firestore for an operator-facing UI. Like internal/auditlog, it sits
// outside the relay's correctness boundary: the state file and
// on-chain idempotency checks are authoritative, this is a best-effort
// projection an operator dashboard can poll instead of tailing logs.
package uisync

import (
	"context"
	"fmt"
	"os"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Client wraps the Firestore client. A disabled or zero-value Client
// makes every sync method a no-op.
type Client struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	projectID string
	enabled   bool
}

// Config configures the Firestore client.
type Config struct {
	ProjectID       string
	CredentialsFile string
	Enabled         bool
}

// ConfigFromEnv reads FIRESTORE_ENABLED, FIREBASE_PROJECT_ID, and
// GOOGLE_APPLICATION_CREDENTIALS, mirroring the teacher's env-driven
// default config.
func ConfigFromEnv() Config {
	return Config{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         os.Getenv("FIRESTORE_ENABLED") == "true",
	}
}

// NewClient builds a Client. When cfg.Enabled is false, it returns a
// no-op Client without contacting Firestore at all.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return &Client{enabled: false}, nil
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("uisync: FIREBASE_PROJECT_ID is required when enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("uisync: init firebase app: %w", err)
	}
	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("uisync: create firestore client: %w", err)
	}

	return &Client{
		app:       app,
		firestore: fsClient,
		projectID: cfg.ProjectID,
		enabled:   true,
	}, nil
}

// IsEnabled reports whether this client actually talks to Firestore.
func (c *Client) IsEnabled() bool { return c != nil && c.enabled }

// Close releases the underlying Firestore connection, if any.
func (c *Client) Close() error {
	if c == nil || c.firestore == nil {
		return nil
	}
	return c.firestore.Close()
}

func (c *Client) collection(path string) *gcpfirestore.CollectionRef {
	if !c.IsEnabled() {
		return nil
	}
	return c.firestore.Collection(path)
}
