package launch

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"go.pilab.hu/toolgate"
)

// payload is what the launch page script decodes. The double base64 wrapping
// only keeps the values out of casual view of the page source; anyone with
// the page can recover them.
type payload struct {
	Username      string `json:"u"`
	Password      string `json:"p"`
	UsernameField string `json:"uf"`
	PasswordField string `json:"pf"`
}

// EncodePayload wraps creds for the launch page.
func EncodePayload(creds *toolgate.Credentials) (string, error) {
	if creds == nil {
		return "", fmt.Errorf("launch: no credentials to encode")
	}

	data, err := json.Marshal(payload{
		Username:      creds.Username,
		Password:      creds.Password,
		UsernameField: creds.UsernameFieldOrDefault(),
		PasswordField: creds.PasswordFieldOrDefault(),
	})
	if err != nil {
		return "", fmt.Errorf("launch: marshal payload: %w", err)
	}

	once := base64.StdEncoding.EncodeToString(data)
	return base64.StdEncoding.EncodeToString([]byte(once)), nil
}

// DecodePayload reverses EncodePayload.
func DecodePayload(s string) (*toolgate.Credentials, error) {
	once, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("launch: decode payload: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(string(once))
	if err != nil {
		return nil, fmt.Errorf("launch: decode payload: %w", err)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("launch: unmarshal payload: %w", err)
	}

	return &toolgate.Credentials{
		Username:      p.Username,
		Password:      p.Password,
		UsernameField: p.UsernameField,
		PasswordField: p.PasswordField,
	}, nil
}

var (
	usernameAliases = []string{"username", "email", "Email", "LOGIN_ID", "login"}
	passwordAliases = []string{"password", "Password", "PASSWORD", "pass"}
)

// UsernameFields lists the form input names that receive the username: the
// configured field first, then the common aliases.
func UsernameFields(creds *toolgate.Credentials) []string {
	return fieldNames(creds.UsernameFieldOrDefault(), usernameAliases)
}

// PasswordFields is UsernameFields for the password.
func PasswordFields(creds *toolgate.Credentials) []string {
	return fieldNames(creds.PasswordFieldOrDefault(), passwordAliases)
}

func fieldNames(configured string, aliases []string) []string {
	names := make([]string, 0, len(aliases)+1)
	seen := make(map[string]struct{}, len(aliases)+1)

	for _, name := range append([]string{configured}, aliases...) {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	return names
}
