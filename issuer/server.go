package issuer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	slogctx "github.com/veqryn/slog-context"

	"github.com/jmcleod/ironsession/internal/uuid"
)

// Server is a development credential issuer. It hands out
// demo_<user_id>_<unix> bearer tokens and, when configured with a user
// list, refuses everyone else.
type Server struct {
	logger  *slog.Logger
	now     func() time.Time
	users   map[string]struct{}
	limiter *loginRateLimiter
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger used for login audit events.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithServerClock sets the time source for token stamps and lockouts.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.now = now
	}
}

// WithUsers restricts logins to the given user IDs. With no IDs every
// well-formed user ID is accepted.
func WithUsers(ids ...string) ServerOption {
	return func(s *Server) {
		if len(ids) == 0 {
			return
		}
		if s.users == nil {
			s.users = make(map[string]struct{}, len(ids))
		}
		for _, id := range ids {
			s.users[id] = struct{}{}
		}
	}
}

// NewServer returns a Server.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "issuer"))
	s.limiter = newLoginRateLimiter(s.now)
	return s
}

// Router returns the issuer routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(securityHeaders)
	r.Use(s.requestLogger)
	r.Get("/health", s.Health)
	r.Post("/auth/login", s.Login)
	return r
}

// SweepLoop drops expired lockout records every interval until ctx is done.
func (s *Server) SweepLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.limiter.sweep()
		}
	}
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req LoginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateUserID(req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if blocked, retryAfter := s.limiter.check(req.UserID); blocked {
		slogctx.Warn(ctx, "login rate limited", slog.String("user_id", req.UserID))
		writeRateLimited(w, retryAfter)
		return
	}

	if s.users != nil {
		if _, ok := s.users[req.UserID]; !ok {
			s.limiter.recordFailure(req.UserID)
			slogctx.Info(ctx, "login failed", slog.String("user_id", req.UserID))
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
	}
	s.limiter.recordSuccess(req.UserID)

	token := fmt.Sprintf("demo_%s_%d", req.UserID, s.now().Unix())
	slogctx.Info(ctx, "login succeeded", slog.String("user_id", req.UserID))
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: tokenTypeBearer})
}

// requestLogger puts a request-scoped logger on the context carrying a
// request ID and the remote address.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := slogctx.NewCtx(r.Context(), s.logger)
		ctx = slogctx.With(ctx,
			slog.String("request_id", uuid.New()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(id) > maxUserIDLength {
		return fmt.Errorf("user_id exceeds maximum length of %d", maxUserIDLength)
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("user_id must not contain whitespace or control characters")
	}
	return nil
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
