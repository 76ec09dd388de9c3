package providerfake

// TokenResponse is the token endpoint response of a Doorkeeper provider.
type TokenResponse struct {
	// AccessToken is the opaque bearer credential.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	AccessToken string `json:"access_token"`

	// RefreshToken replaces the one that was sent; each refresh token works once.
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime of the access token in seconds.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// CreatedAt is the provider's clock when the token was issued, in Unix seconds.
	// Doorkeeper reports it; clients use it instead of their own clock.
	CreatedAt int64 `json:"created_at"`

	// Scope is the space-separated list of granted scopes.
	Scope string `json:"scope,omitempty"`
}

// ErrorResponse is the RFC 6749 error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
