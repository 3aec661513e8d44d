package issuer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironsession/crypto"
	"github.com/jmcleod/ironsession/keystore"
	"github.com/jmcleod/ironsession/session"
	"github.com/jmcleod/ironsession/storage/memory"
)

func TestClientIssue(t *testing.T) {
	ctx := context.Background()
	fixed := time.Unix(1_760_000_000, 0)
	ts := httptest.NewServer(NewServer(WithUsers("alice"), WithServerClock(func() time.Time { return fixed })).Router())
	defer ts.Close()

	c, err := NewClient(ts.URL, ts.Client())
	require.NoError(t, err)

	cred, err := c.Issue(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, session.Credential("demo_alice_1760000000"), cred)

	_, err = c.Issue(ctx, "bob")
	require.ErrorIs(t, err, ErrRejected)
	se, ok := errors.AsType[*StatusError](err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, se.Code)
	require.Equal(t, "invalid credentials", se.Message)
}

func TestClientMalformedResponses(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"EmptyToken", http.StatusOK, `{"access_token":"","token_type":"bearer"}`, ErrMalformedResponse},
		{"NotJSON", http.StatusOK, `<html>`, ErrMalformedResponse},
		{"WrongTokenType", http.StatusOK, `{"access_token":"x","token_type":"mac"}`, ErrMalformedResponse},
		{"ServerError", http.StatusInternalServerError, `{"error":"boom"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			c, err := NewClient(ts.URL, ts.Client())
			require.NoError(t, err)
			_, err = c.Issue(ctx, "alice")
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				se, ok := errors.AsType[*StatusError](err)
				require.True(t, ok)
				require.Equal(t, tt.status, se.Code)
				require.False(t, errors.Is(err, ErrRejected))
			}
		})
	}
}

func TestClientTokenTypeOptional(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok"}`))
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, ts.Client())
	require.NoError(t, err)
	cred, err := c.Issue(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, session.Credential("tok"), cred)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://issuer.example", nil)
	require.Error(t, err)
	_, err = NewClient("://", nil)
	require.Error(t, err)
}

func TestClientWithManager(t *testing.T) {
	ctx := context.Background()
	var logins atomic.Int32
	srv := NewServer(WithUsers("alice")).Router()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		srv.ServeHTTP(w, r)
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, ts.Client())
	require.NoError(t, err)

	repo := memory.NewRepository()
	newMgr := func(identity string) *session.Manager {
		m, err := session.NewManager(
			session.NewRepositoryStore(repo, session.PrimaryPolicy.Namespace()+"."+identity),
			keystore.NewSoftwareStore(), crypto.NewCipher(), c,
			session.WithIdentity(session.StaticIdentity(identity)),
		)
		require.NoError(t, err)
		return m
	}

	mgr := newMgr("alice")
	cred, err := mgr.EnsureCredential(ctx)
	require.NoError(t, err)
	require.Contains(t, string(cred), "demo_alice_")
	_, err = mgr.EnsureCredential(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, logins.Load())

	_, err = newMgr("bob").EnsureCredential(ctx)
	require.ErrorIs(t, err, session.ErrIssuance)
	require.ErrorIs(t, err, ErrRejected)
}
