// Package toolgate brokers one-time access to third-party tools whose login
// credentials are never shown to the person using them.
//
// A caller with a session asks for access to a tool and receives a short
// lived, single-use token. Redeeming the token renders a page that logs the
// browser into the tool. Only the token's fingerprint is ever stored.
package toolgate

import (
	"strings"
	"time"
)

// DefaultGrantTTL is the validity window of a freshly issued grant.
const DefaultGrantTTL = 5 * time.Minute

// Default login form field names, used when a tool does not configure its own.
const (
	DefaultUsernameField = "username"
	DefaultPasswordField = "password"
)

// DeliveryMode selects how credentials reach a tool's login surface.
type DeliveryMode string

const (
	// DeliveryAuto lets the launcher pick: form auto-submit when credentials
	// exist, a plain redirect otherwise.
	DeliveryAuto     DeliveryMode = "auto"
	DeliveryRedirect DeliveryMode = "redirect"
	DeliveryForm     DeliveryMode = "form"
	DeliveryInject   DeliveryMode = "inject"
)

// ParseDeliveryMode maps a stored tool flag onto a DeliveryMode. Unknown and
// empty values fall back to DeliveryAuto.
func ParseDeliveryMode(s string) DeliveryMode {
	switch DeliveryMode(strings.ToLower(strings.TrimSpace(s))) {
	case DeliveryRedirect:
		return DeliveryRedirect
	case DeliveryForm:
		return DeliveryForm
	case DeliveryInject:
		return DeliveryInject
	default:
		return DeliveryAuto
	}
}

// Credentials are the decoded login values a grant delivers.
type Credentials struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	UsernameField string `json:"username_field,omitempty"`
	PasswordField string `json:"password_field,omitempty"`
}

// UsernameFieldOrDefault returns the configured username field name.
func (c *Credentials) UsernameFieldOrDefault() string {
	if c == nil || strings.TrimSpace(c.UsernameField) == "" {
		return DefaultUsernameField
	}
	return c.UsernameField
}

// PasswordFieldOrDefault returns the configured password field name.
func (c *Credentials) PasswordFieldOrDefault() string {
	if c == nil || strings.TrimSpace(c.PasswordField) == "" {
		return DefaultPasswordField
	}
	return c.PasswordField
}

// Requester identifies who asked for a grant.
type Requester struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Grant is a single-use, time-bounded permission to launch a tool.
// It is keyed by the token fingerprint; the raw token is never part of it.
type Grant struct {
	ID          string       `json:"id"`
	Fingerprint string       `json:"fingerprint"`
	ToolID      string       `json:"tool_id"`
	ToolName    string       `json:"tool_name"`
	ToolURL     string       `json:"tool_url"`
	Requester   Requester    `json:"requester"`
	LoginURL    string       `json:"login_url"`
	Credentials *Credentials `json:"credentials,omitempty"`
	Delivery    DeliveryMode `json:"delivery"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Consumed    bool         `json:"consumed"`
}

// HasCredentials reports whether the grant carries a usable login pair.
func (g *Grant) HasCredentials() bool {
	return g != nil && g.Credentials != nil &&
		g.Credentials.Username != "" && g.Credentials.Password != ""
}

// ExpiredAt reports whether the grant is outside its validity window at now.
// The window is half-open: a grant is dead at exactly ExpiresAt.
func (g *Grant) ExpiredAt(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// Clone returns a deep copy so callers can never mutate store state.
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	cp := *g
	if g.Credentials != nil {
		creds := *g.Credentials
		cp.Credentials = &creds
	}
	return &cp
}
