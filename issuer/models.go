package issuer

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	UserID string `json:"user_id"`
}

// TokenResponse is returned by a successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

const (
	tokenTypeBearer = "bearer"
	maxLoginBody    = 4 << 10
	maxUserIDLength = 256
)
