package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	castellan "github.com/castellan-io/castellan"
	"github.com/castellan-io/castellan/httpapi"
	"github.com/castellan-io/castellan/jwt"
	"github.com/castellan-io/castellan/metrics"
	"github.com/castellan-io/castellan/permission"
)

func newTestApp(t *testing.T) (*fiber.App, *castellan.Engine) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := castellan.DefaultConfig()
	cfg.Encryption.MasterKey = bytes.Repeat([]byte{0x41}, 32)
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("test-signing-key-32-bytes-long!!")
	cfg.JWT.Issuer = "castellan-test"
	cfg.OAuth.AuthorizeURL = "https://idp.test/authorize"
	cfg.OAuth.TokenURL = "https://idp.test/token"
	cfg.OAuth.UserInfoURL = "https://idp.test/userinfo"
	cfg.OAuth.ClientID = "castellan"
	cfg.OAuth.ClientSecret = "secret"
	cfg.OAuth.RedirectURI = "https://app.test/auth/callback"
	cfg.OAuth.RequestTimeout = time.Second

	engine, err := castellan.New().
		WithConfig(cfg).
		WithRedis(client).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	app := fiber.New()
	httpapi.RegisterRoutes(app, httpapi.NewHandler(engine), metrics.New())
	return app, engine
}

// loginAs opens a session directly and mints a bearer token with the
// same signing key the engine verifies against.
func loginAs(t *testing.T, engine *castellan.Engine, roles []string, clearance permission.Clearance) string {
	t.Helper()

	user := &castellan.AuthUser{
		ID:          "u-900",
		Email:       "ops@example.test",
		Name:        "Ops",
		Roles:       roles,
		Clearance:   clearance,
		Permissions: permission.Calculate(roles, clearance).Slice(),
	}
	sess, err := engine.CreateSession(context.Background(), user, "access", "")
	require.NoError(t, err)

	manager, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("test-signing-key-32-bytes-long!!"),
		Issuer:        "castellan-test",
	})
	require.NoError(t, err)

	now := time.Now()
	token, err := manager.Issue(user.ID, sess.ID, now, now.Add(time.Hour))
	require.NoError(t, err)
	return token
}

func TestRoutesMounted(t *testing.T) {
	app, _ := newTestApp(t)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/auth/login"},
		{http.MethodGet, "/auth/callback"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodGet, "/auth/session"},
		{http.MethodPost, "/auth/mfa/initiate"},
		{http.MethodPost, "/auth/mfa/verify"},
		{http.MethodPost, "/auth/biometric/verify"},
		{http.MethodGet, "/admin/audit/statistics"},
		{http.MethodGet, "/metrics"},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s %s", tc.method, tc.path), func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(tc.method, tc.path, nil))
			require.NoError(t, err)
			assert.NotEqual(t, http.StatusNotFound, resp.StatusCode)
		})
	}
}

func TestLoginRedirectsToProvider(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "https://idp.test/authorize?")
	assert.Contains(t, resp.Header.Get("Location"), "state=")
}

func TestCallbackRequiresParams(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/auth/callback", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionRequiresAuthentication(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/auth/session", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionIntrospection(t *testing.T) {
	app, engine := newTestApp(t)
	token := loginAs(t, engine, []string{"researcher"}, permission.Confidential)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.NotEmpty(t, body["session_id"])
}

func TestAuditStatisticsForbiddenWithoutAdmin(t *testing.T) {
	app, engine := newTestApp(t)
	token := loginAs(t, engine, []string{"researcher"}, permission.Confidential)

	req := httptest.NewRequest(http.MethodGet, "/admin/audit/statistics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuditStatisticsForAdmin(t *testing.T) {
	app, engine := newTestApp(t)
	token := loginAs(t, engine, []string{"admin"}, permission.TopSecret)

	req := httptest.NewRequest(http.MethodGet, "/admin/audit/statistics?hours=24", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMFAInitiateRejectsBadMethod(t *testing.T) {
	app, engine := newTestApp(t)
	token := loginAs(t, engine, []string{"researcher"}, permission.Confidential)

	body := bytes.NewBufferString(`{"method":"carrier-pigeon"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/mfa/initiate", body)
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
