package profiles

// ProfileRequest creates or updates a connection profile
type ProfileRequest struct {
	Name     string `json:"name"`
	Owner    string `json:"owner"`
	BaseURL  string `json:"base_url"`
	APIToken string `json:"api_token"` // Plain text, will be encrypted. Empty keeps the stored token on update.
}

// TestConnectionRequest represents a connection test request
type TestConnectionRequest struct {
	BaseURL  string `json:"base_url"`
	APIToken string `json:"api_token"`
}

// TestConnectionResponse represents the test result
type TestConnectionResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	UserName string `json:"user_name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// currentUser is the backend's view of the authenticated caller
type currentUser struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}
