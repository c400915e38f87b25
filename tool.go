package toolgate

import (
	"context"
	"strings"
	"time"
)

// Tool is the catalog record of a third-party tool.
type Tool struct {
	ID          string
	Name        string
	URL         string
	Delivery    DeliveryMode
	Credentials *ToolCredentials
}

// ToolCredentials are the stored login details of a tool.
type ToolCredentials struct {
	LoginURL      string
	Username      string
	Password      string
	UsernameField string
	PasswordField string
}

// LoginTarget returns the URL a launch acts on: the credential login URL when
// set, the tool URL otherwise. An empty result means the tool is unusable.
func (t *Tool) LoginTarget() string {
	if t.Credentials != nil {
		if u := strings.TrimSpace(t.Credentials.LoginURL); u != "" && u != "#" {
			return u
		}
	}
	if u := strings.TrimSpace(t.URL); u != "" && u != "#" {
		return u
	}
	return ""
}

// HasCredentials reports whether both a username and a password are stored.
func (t *Tool) HasCredentials() bool {
	return t.Credentials != nil && t.Credentials.Username != "" && t.Credentials.Password != ""
}

// ToolCatalog resolves tools by id.
type ToolCatalog interface {
	// LookupTool returns ErrInvalidToolID for malformed ids and ErrNotFound
	// for unknown ones.
	LookupTool(ctx context.Context, toolID string) (*Tool, error)
}

// PermissionChecker lists the tools a user may launch.
type PermissionChecker interface {
	LookupUserPermissions(ctx context.Context, userID string) ([]string, error)
}

// ActivityEvent is one access-audit record.
type ActivityEvent struct {
	UserEmail    string    `json:"user_email" bson:"user_email"`
	UserName     string    `json:"user_name" bson:"user_name"`
	Action       string    `json:"action" bson:"action"`
	Target       string    `json:"target" bson:"target"`
	Details      string    `json:"details" bson:"details"`
	ActivityType string    `json:"activity_type" bson:"activity_type"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// ActivityRecorder stores activity events. Callers treat it as best effort.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, event ActivityEvent) error
}
