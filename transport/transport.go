// Package transport attaches session credentials to outbound HTTP requests.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmcleod/ironsession/session"
)

// CredentialSource supplies credentials and accepts notice that a server
// rejected one. *session.Manager implements it.
type CredentialSource interface {
	EnsureCredential(ctx context.Context) (session.Credential, error)
	Invalidate(ctx context.Context, rejected session.Credential) error
}

// Transport is an http.RoundTripper that sets Authorization: Bearer on every
// request. A 401 answer invalidates the credential that was sent so the next
// request acquires a new one; the request itself is not retried.
type Transport struct {
	source CredentialSource
	base   http.RoundTripper
	logger *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// New returns a Transport wrapping base (http.DefaultTransport if nil).
func New(source CredentialSource, base http.RoundTripper, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{source: source, base: base, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewClient returns an *http.Client that authenticates every request
// through source.
func NewClient(source CredentialSource, base http.RoundTripper, opts ...Option) *http.Client {
	return &http.Client{Transport: New(source, base, opts...)}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	cred, err := t.source.EnsureCredential(ctx)
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, fmt.Errorf("acquiring credential: %w", err)
	}

	out := req.Clone(ctx)
	out.Header.Set("Authorization", "Bearer "+string(cred))

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.logger.Info("credential rejected by server",
			slog.String("host", req.URL.Host),
			slog.String("fingerprint", session.Fingerprint(cred)))
		if err := t.source.Invalidate(context.WithoutCancel(ctx), cred); err != nil {
			t.logger.Warn("failed to invalidate rejected credential", slog.String("error", err.Error()))
		}
	}
	return resp, nil
}
