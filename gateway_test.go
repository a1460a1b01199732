package castellan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan/permission"
)

// fakeIdP is a minimal OAuth2 provider: one valid code, one identity.
type fakeIdP struct {
	server    *httptest.Server
	code      string
	delay     time.Duration
	claims    map[string]any
	tokenHits int
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	idp := &fakeIdP{
		code: "authz-code-1",
		claims: map[string]any{
			"sub":                "u-100",
			"email":              "casey@example.test",
			"name":               "Casey Reyes",
			"roles":              []string{"researcher"},
			"clearance":          "CONFIDENTIAL",
			"department":         "research",
			"mfa_enrolled":       true,
			"biometric_enrolled": false,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		idp.tokenHits++
		time.Sleep(idp.delay)

		user, pass, ok := r.BasicAuth()
		if !ok || user != "castellan" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.FormValue("code") != idp.code {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "idp-access",
			"refresh_token": "idp-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer idp-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(idp.claims)
	})

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func newGatewayEnv(t *testing.T, idp *fakeIdP) *testEnv {
	t.Helper()
	return newTestEnv(t, func(cfg *Config) {
		cfg.OAuth.TokenURL = idp.server.URL + "/token"
		cfg.OAuth.UserInfoURL = idp.server.URL + "/userinfo"
	})
}

// issueState runs the authorization leg and extracts the state value.
func issueState(t *testing.T, env *testEnv) string {
	t.Helper()
	target, state, err := env.engine.AuthorizationURL(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, state)

	parsed, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, state, parsed.Query().Get("state"))
	assert.Equal(t, "code", parsed.Query().Get("response_type"))
	return state
}

func TestLoginFlow(t *testing.T) {
	idp := newFakeIdP(t)
	env := newGatewayEnv(t, idp)
	ctx := context.Background()

	state := issueState(t, env)
	result, err := env.engine.HandleCallback(ctx, idp.code, state)
	require.NoError(t, err)

	assert.Equal(t, "u-100", result.User.ID)
	assert.True(t, result.MFARequired)
	assert.False(t, result.BiometricRequired)
	assert.True(t, result.User.HasPermission("read:research_data"),
		"permissions are derived from roles, not taken from the wire")
	assert.True(t, result.User.HasClearance(permission.Confidential))

	// The bearer token resolves back to the session.
	user, sessionID, err := env.engine.ResolveBearer(ctx, result.BearerToken)
	require.NoError(t, err)
	assert.Equal(t, result.SessionID, sessionID)
	assert.Equal(t, "u-100", user.ID)

	logins := env.entriesByAction(t, "oauth_login")
	require.Len(t, logins, 1)
	assert.Equal(t, "success", string(logins[0].Outcome))
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	idp := newFakeIdP(t)
	env := newGatewayEnv(t, idp)

	_, err := env.engine.HandleCallback(context.Background(), idp.code, "forged-state")
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "state", authErr.Stage)
	assert.Equal(t, "authentication failed", authErr.Error())
	assert.Zero(t, idp.tokenHits, "no provider call happens on a bad state")

	logins := env.entriesByAction(t, "oauth_login")
	require.Len(t, logins, 1)
	assert.Equal(t, "failure", string(logins[0].Outcome))
}

func TestCallbackStateSingleUse(t *testing.T) {
	idp := newFakeIdP(t)
	env := newGatewayEnv(t, idp)
	ctx := context.Background()

	state := issueState(t, env)
	_, err := env.engine.HandleCallback(ctx, idp.code, state)
	require.NoError(t, err)

	_, err = env.engine.HandleCallback(ctx, idp.code, state)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "state", authErr.Stage)
}

func TestCallbackProviderTimeout(t *testing.T) {
	idp := newFakeIdP(t)
	idp.delay = 300 * time.Millisecond
	env := newTestEnv(t, func(cfg *Config) {
		cfg.OAuth.TokenURL = idp.server.URL + "/token"
		cfg.OAuth.UserInfoURL = idp.server.URL + "/userinfo"
		cfg.OAuth.RequestTimeout = 50 * time.Millisecond
	})

	state := issueState(t, env)
	_, err := env.engine.HandleCallback(context.Background(), idp.code, state)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "token_exchange", authErr.Stage)

	logins := env.entriesByAction(t, "oauth_login")
	require.Len(t, logins, 1)
	assert.Equal(t, "token_exchange_timeout", logins[0].Detail["reason"])
}

func TestCallbackRejectsBadCode(t *testing.T) {
	idp := newFakeIdP(t)
	env := newGatewayEnv(t, idp)

	state := issueState(t, env)
	_, err := env.engine.HandleCallback(context.Background(), "wrong-code", state)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "token_exchange", authErr.Stage)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	idp := newFakeIdP(t)
	env := newGatewayEnv(t, idp)
	ctx := context.Background()

	state := issueState(t, env)
	result, err := env.engine.HandleCallback(ctx, idp.code, state)
	require.NoError(t, err)

	require.NoError(t, env.engine.Logout(ctx, result.BearerToken))

	_, _, err = env.engine.ResolveBearer(ctx, result.BearerToken)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)

	// Logout twice is harmless.
	require.NoError(t, env.engine.Logout(ctx, result.BearerToken))
}
