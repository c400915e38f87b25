// Package catalog provides a file-backed tool catalog for development and
// single-host deployments.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"go.pilab.hu/toolgate"
	"go.pilab.hu/toolgate/internal/crypto"
)

type fileCredentials struct {
	LoginURL      string `yaml:"login_url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	UsernameField string `yaml:"username_field"`
	PasswordField string `yaml:"password_field"`
}

type fileTool struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	URL         string           `yaml:"url"`
	Delivery    string           `yaml:"delivery"`
	Credentials *fileCredentials `yaml:"credentials"`
}

type fileUser struct {
	ID           string   `yaml:"id"`
	AllowedTools []string `yaml:"allowed_tools"`
}

type file struct {
	Tools []fileTool `yaml:"tools"`
	Users []fileUser `yaml:"users"`
}

// Static is an immutable catalog and permission table.
type Static struct {
	tools map[string]*toolgate.Tool
	users map[string][]string
}

// LoadStatic reads a catalog file. Sealed passwords are opened with sealer;
// a nil sealer rejects them.
func LoadStatic(path string, sealer *crypto.Sealer) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseStatic(data, sealer)
}

// ParseStatic builds a Static catalog from YAML.
func ParseStatic(data []byte, sealer *crypto.Sealer) (*Static, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	s := &Static{
		tools: make(map[string]*toolgate.Tool, len(f.Tools)),
		users: make(map[string][]string, len(f.Users)),
	}

	for _, ft := range f.Tools {
		id := strings.TrimSpace(ft.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog tool %q has no id", ft.Name)
		}
		if _, dup := s.tools[id]; dup {
			return nil, fmt.Errorf("duplicate catalog tool id %q", id)
		}

		tool := &toolgate.Tool{
			ID:       id,
			Name:     ft.Name,
			URL:      ft.URL,
			Delivery: toolgate.ParseDeliveryMode(ft.Delivery),
		}
		if c := ft.Credentials; c != nil {
			if crypto.IsSealed(c.Password) && sealer == nil {
				return nil, fmt.Errorf("tool %q has a sealed password but no credential key is configured", id)
			}
			password, err := sealer.OpenString(c.Password)
			if err != nil {
				return nil, fmt.Errorf("tool %q: %w", id, err)
			}
			tool.Credentials = &toolgate.ToolCredentials{
				LoginURL:      c.LoginURL,
				Username:      c.Username,
				Password:      password,
				UsernameField: c.UsernameField,
				PasswordField: c.PasswordField,
			}
		}
		s.tools[id] = tool
	}

	for _, u := range f.Users {
		s.users[u.ID] = append([]string(nil), u.AllowedTools...)
	}

	return s, nil
}

// LookupTool implements toolgate.ToolCatalog.
func (s *Static) LookupTool(_ context.Context, toolID string) (*toolgate.Tool, error) {
	if strings.TrimSpace(toolID) == "" {
		return nil, toolgate.ErrInvalidToolID
	}
	tool, ok := s.tools[toolID]
	if !ok {
		return nil, toolgate.ErrNotFound
	}

	cp := *tool
	if tool.Credentials != nil {
		creds := *tool.Credentials
		cp.Credentials = &creds
	}
	return &cp, nil
}

// LookupUserPermissions implements toolgate.PermissionChecker. Unknown users
// have no tools.
func (s *Static) LookupUserPermissions(_ context.Context, userID string) ([]string, error) {
	return append([]string(nil), s.users[userID]...), nil
}

// Len returns the number of tools.
func (s *Static) Len() int {
	return len(s.tools)
}

var (
	_ toolgate.ToolCatalog       = (*Static)(nil)
	_ toolgate.PermissionChecker = (*Static)(nil)
)
