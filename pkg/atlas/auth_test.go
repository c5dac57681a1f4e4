package atlas

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/forcedphot/pkg/photometry"
)

var testCreds = photometry.Credentials{Username: "alice", Password: "s3cret"}

func TestAuthenticate_Success(t *testing.T) {
	var gotUser, gotPass, gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		require.NoError(t, r.ParseForm())
		gotUser, gotPass = r.PostForm.Get("username"), r.PostForm.Get("password")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok123"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/"}, Options{})
	token, err := c.Authenticate(context.Background(), testCreds)
	require.NoError(t, err)

	assert.Equal(t, "tok123", token)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api-token-auth/", gotPath)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "s3cret", gotPass)
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantInMsg  string
		wantStatus int
	}{
		{
			name:       "non field error surfaced verbatim",
			status:     http.StatusBadRequest,
			body:       `{"non_field_errors":["Unable to log in with provided credentials."]}`,
			wantInMsg:  "Unable to log in with provided credentials.",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "plain body surfaced",
			status:     http.StatusInternalServerError,
			body:       "upstream exploded",
			wantInMsg:  "upstream exploded",
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "empty token",
			status:     http.StatusOK,
			body:       `{"token":""}`,
			wantInMsg:  "no token",
			wantStatus: http.StatusOK,
		},
		{
			name:       "undecodable token reply",
			status:     http.StatusOK,
			body:       `<html>`,
			wantInMsg:  "undecodable",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestClient("https://svc", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := env.client.Authenticate(context.Background(), testCreds)
			require.Error(t, err)
			assert.True(t, IsAuth(err))
			assert.Equal(t, CodeAuthFailed, ErrorCode(err))
			assert.Contains(t, err.Error(), tt.wantInMsg)

			var ae *Error
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.wantStatus, ae.StatusCode)
		})
	}
}

func TestAuthenticate_EmptyCredentialsSkipNetwork(t *testing.T) {
	called := false
	env := newTestClient("https://svc", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	_, err := env.client.Authenticate(context.Background(), photometry.Credentials{Username: "alice"})
	require.Error(t, err)
	assert.True(t, IsAuth(err))
	assert.False(t, called)
}

func TestAuthenticate_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL, AuthTimeout: 50 * time.Millisecond}, Options{})
	_, err := c.Authenticate(context.Background(), testCreds)
	require.Error(t, err)
	assert.True(t, IsAuth(err))
	assert.True(t, strings.Contains(err.Error(), "timed out"), err.Error())
}
