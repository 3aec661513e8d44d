// Package issuer talks to the credential issuer over HTTP. Client exchanges
// an identity for a bearer token via POST /auth/login; Server is a
// development issuer implementing the same endpoint.
package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmcleod/ironsession/session"
)

var (
	// ErrRejected indicates the issuer refused the identity (401 or 403).
	ErrRejected = errors.New("issuer rejected identity")
	// ErrMalformedResponse indicates a 2xx response that did not carry a usable token.
	ErrMalformedResponse = errors.New("malformed issuer response")
)

// StatusError is a non-2xx answer from the issuer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("issuer returned %d", e.Code)
	}
	return fmt.Sprintf("issuer returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRejected && (e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden)
}

// Client is a session.Issuer backed by the /auth/login endpoint.
type Client struct {
	loginURL string
	http     *http.Client
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient returns a Client for the issuer at baseURL. httpClient carries
// the timeouts and TLS settings; nil means http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing issuer url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("issuer url %q must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		loginURL: u.JoinPath("auth", "login").String(),
		http:     httpClient,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue implements session.Issuer.
func (c *Client) Issue(ctx context.Context, identity string) (session.Credential, error) {
	body, err := json.Marshal(LoginRequest{UserID: identity})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling issuer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		json.NewDecoder(io.LimitReader(resp.Body, maxLoginBody)).Decode(&e)
		c.logger.Debug("issuer refused login", slog.Int("status", resp.StatusCode))
		return "", &StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	var tok TokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxLoginBody)).Decode(&tok); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token", ErrMalformedResponse)
	}
	if tok.TokenType != "" && !strings.EqualFold(tok.TokenType, tokenTypeBearer) {
		return "", fmt.Errorf("%w: unsupported token_type %q", ErrMalformedResponse, tok.TokenType)
	}
	return session.Credential(tok.AccessToken), nil
}
