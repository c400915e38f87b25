package domain

// Identity is an authenticated caller as established by the session layer.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
}

// DisplayName falls back to the email when no name is known.
func (i *Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Email
}

// IsElevated reports whether the caller holds the elevated role.
func (i *Identity) IsElevated() bool {
	return i != nil && IsElevated(i.Role)
}
