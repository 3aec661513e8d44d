package issuer

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doLogin(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServerLogin(t *testing.T) {
	fixed := time.Unix(1_760_000_000, 0)
	srv := NewServer(WithServerClock(func() time.Time { return fixed }))
	h := srv.Router()

	rec := doLogin(t, h, `{"user_id":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var tok TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.Equal(t, "demo_alice_1760000000", tok.AccessToken)
	assert.Equal(t, "bearer", tok.TokenType)
}

func TestServerLoginBadRequests(t *testing.T) {
	h := NewServer().Router()
	tests := []struct {
		name string
		body string
	}{
		{"NotJSON", `user_id=alice`},
		{"MissingUser", `{}`},
		{"Whitespace", `{"user_id":"al ice"}`},
		{"TooLong", `{"user_id":"` + strings.Repeat("a", maxUserIDLength+1) + `"}`},
		{"TooLarge", `{"user_id":"` + strings.Repeat("a", maxLoginBody) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doLogin(t, h, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var e ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			require.NotEmpty(t, e.Error)
		})
	}
}

func TestServerUserAllowList(t *testing.T) {
	h := NewServer(WithUsers("alice")).Router()

	require.Equal(t, http.StatusOK, doLogin(t, h, `{"user_id":"alice"}`).Code)

	for range maxFailures {
		require.Equal(t, http.StatusUnauthorized, doLogin(t, h, `{"user_id":"mallory"}`).Code)
	}
	rec := doLogin(t, h, `{"user_id":"mallory"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	require.Equal(t, http.StatusOK, doLogin(t, h, `{"user_id":"alice"}`).Code, "other users unaffected")
}

func TestServerHealth(t *testing.T) {
	h := NewServer().Router()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServerMethodNotAllowed(t *testing.T) {
	h := NewServer().Router()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerWithEmptyUserList(t *testing.T) {
	h := NewServer(WithUsers()).Router()
	require.Equal(t, http.StatusOK, doLogin(t, h, `{"user_id":"anyone"}`).Code)
}

func TestServerLogsCarryRequestScope(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := NewServer(WithServerLogger(logger)).Router()

	require.Equal(t, http.StatusOK, doLogin(t, h, `{"user_id":"alice"}`).Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "login succeeded", entry["msg"])
	assert.Equal(t, "alice", entry["user_id"])
	assert.Equal(t, "issuer", entry["component"])
	assert.NotEmpty(t, entry["request_id"])
	assert.NotContains(t, buf.String(), "demo_alice", "tokens are never logged")
}
