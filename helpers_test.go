package castellan

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/castellan-io/castellan/audit"
	"github.com/castellan-io/castellan/internal/delivery"
	"github.com/castellan-io/castellan/permission"
)

// fakeClock is a mutable time source shared between a test and the
// engine under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// chanSender forwards every delivery job to a channel so tests can
// observe the generated code.
type chanSender struct {
	jobs chan delivery.Job
}

func newChanSender() *chanSender {
	return &chanSender{jobs: make(chan delivery.Job, 16)}
}

func (s *chanSender) Send(_ context.Context, userID, challengeID, method, code string) error {
	s.jobs <- delivery.Job{UserID: userID, ChallengeID: challengeID, Method: method, Code: code}
	return nil
}

func (s *chanSender) wait(t *testing.T) delivery.Job {
	t.Helper()
	select {
	case job := <-s.jobs:
		return job
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery job")
		return delivery.Job{}
	}
}

// staticSecrets serves one TOTP secret for every user.
type staticSecrets struct {
	secret string
}

func (s staticSecrets) TOTPSecret(_ context.Context, _ string) (string, error) {
	return s.secret, nil
}

// testEnv bundles the engine with the collaborators tests poke at.
type testEnv struct {
	engine *Engine
	store  *audit.MemoryStore
	clock  *fakeClock
	sender *chanSender
	mr     *miniredis.Miniredis
}

var testMasterKey = bytes.Repeat([]byte{0x41}, 32)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Encryption.MasterKey = testMasterKey
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
	return cfg
}

// newTestEnv builds an engine over miniredis with a memory audit store
// and an injectable clock. mutate adjusts the config before Build.
func newTestEnv(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := newFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	store := audit.NewMemoryStore()
	sender := newChanSender()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	b := New().
		WithConfig(cfg).
		WithRedis(client).
		WithAuditStore(store).
		WithDelivery(sender).
		WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: store, clock: clock, sender: sender, mr: mr}
}

// entriesByAction filters the recorded audit trail.
func (env *testEnv) entriesByAction(t *testing.T, action string) []audit.Entry {
	t.Helper()
	var out []audit.Entry
	for _, e := range env.store.All() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func testUser(enrolledMFA, enrolledBio bool) *AuthUser {
	clearance := permission.Confidential
	return &AuthUser{
		ID:                "u-100",
		Email:             "casey@example.test",
		Name:              "Casey Reyes",
		Roles:             []string{"researcher"},
		Clearance:         clearance,
		Department:        "research",
		Permissions:       permission.Calculate([]string{"researcher"}, clearance).Slice(),
		MFAEnrolled:       enrolledMFA,
		BiometricEnrolled: enrolledBio,
	}
}
