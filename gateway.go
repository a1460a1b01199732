package castellan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/castellan-io/castellan/audit"
	"github.com/castellan-io/castellan/internal"
	"github.com/castellan-io/castellan/permission"
)

// tokenResponse is the identity provider's code-exchange reply.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// userInfo carries the identity claims the engine consumes. Role and
// clearance claims come from the provider; permissions are always
// re-derived locally, never trusted from the wire.
type userInfo struct {
	Subject           string   `json:"sub"`
	Email             string   `json:"email"`
	Name              string   `json:"name"`
	Roles             []string `json:"roles"`
	Clearance         string   `json:"clearance"`
	Department        string   `json:"department"`
	MFAEnrolled       bool     `json:"mfa_enrolled"`
	BiometricEnrolled bool     `json:"biometric_enrolled"`
}

// AuthorizationURL issues a fresh anti-forgery state and returns the
// provider authorization URL to redirect the user to, plus the state
// value itself.
func (e *Engine) AuthorizationURL(ctx context.Context) (string, string, error) {
	if e == nil {
		return "", "", ErrEngineNotReady
	}

	state, err := internal.NewStateToken()
	if err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}
	if err := e.states.Save(ctx, state, e.config.OAuth.StateTTL); err != nil {
		return "", "", err
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", e.config.OAuth.ClientID)
	q.Set("redirect_uri", e.config.OAuth.RedirectURI)
	q.Set("scope", strings.Join(e.config.OAuth.Scopes, " "))
	q.Set("state", state)

	return e.config.OAuth.AuthorizeURL + "?" + q.Encode(), state, nil
}

// HandleCallback completes the login: it consumes the state, exchanges
// the code, fetches identity claims, derives the permission set locally
// and opens a session. One oauth_login audit entry is written per
// attempt, success or failure.
func (e *Engine) HandleCallback(ctx context.Context, code, state string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	ok, err := e.states.Consume(ctx, state)
	if err != nil {
		return nil, e.loginFailure(ctx, "", "state", err)
	}
	if !ok {
		return nil, e.loginFailure(ctx, "", "state", errors.New("unknown or reused state"))
	}

	tok, err := e.exchangeCode(ctx, code)
	if err != nil {
		return nil, e.loginFailure(ctx, "", "token_exchange", err)
	}

	info, err := e.fetchUserInfo(ctx, tok.AccessToken)
	if err != nil {
		return nil, e.loginFailure(ctx, "", "userinfo", err)
	}

	clearance, err := permission.ParseClearance(info.Clearance)
	if err != nil {
		return nil, e.loginFailure(ctx, info.Subject, "claims", err)
	}

	perms := permission.Calculate(info.Roles, clearance)
	user := &AuthUser{
		ID:                info.Subject,
		Email:             info.Email,
		Name:              info.Name,
		Roles:             info.Roles,
		Clearance:         clearance,
		Department:        info.Department,
		Permissions:       perms.Slice(),
		MFAEnrolled:       info.MFAEnrolled,
		BiometricEnrolled: info.BiometricEnrolled,
	}

	sess, err := e.CreateSession(ctx, user, tok.AccessToken, tok.RefreshToken)
	if err != nil {
		return nil, e.loginFailure(ctx, user.ID, "session", err)
	}

	now := e.now()
	bearer, err := e.jwt.Issue(user.ID, sess.ID, now, now.Add(e.config.Session.Lifetime))
	if err != nil {
		return nil, e.loginFailure(ctx, user.ID, "bearer", err)
	}

	e.record(ctx, audit.Event{
		UserID:   user.ID,
		Action:   "oauth_login",
		Resource: "oauth",
		Outcome:  audit.OutcomeSuccess,
		Detail: map[string]string{
			"session_id": sess.ID,
			"clearance":  user.Clearance.String(),
		},
	})
	e.metrics.ObserveLogin("success")

	return &LoginResult{
		User:              user,
		SessionID:         sess.ID,
		BearerToken:       bearer,
		MFARequired:       user.MFAEnrolled,
		BiometricRequired: user.BiometricEnrolled,
	}, nil
}

// loginFailure writes the failed-attempt audit entry and wraps the cause
// behind the generic authentication error. Provider timeouts are logged
// as their own failure class.
func (e *Engine) loginFailure(ctx context.Context, userID, stage string, cause error) error {
	reason := stage
	if isTimeout(cause) {
		reason = stage + "_timeout"
	}
	e.record(ctx, audit.Event{
		UserID:   userID,
		Action:   "oauth_login",
		Resource: "oauth",
		Outcome:  audit.OutcomeFailure,
		Detail:   map[string]string{"reason": reason},
	})
	e.metrics.ObserveLogin("failure")
	return &AuthenticationError{Stage: stage, Err: cause}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (e *Engine) exchangeCode(ctx context.Context, code string) (*tokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.OAuth.RequestTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", e.config.OAuth.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.OAuth.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(e.config.OAuth.ClientID, e.config.OAuth.ClientSecret)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token response missing access token")
	}
	return &tok, nil
}

func (e *Engine) fetchUserInfo(ctx context.Context, accessToken string) (*userInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.OAuth.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.OAuth.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned %d", resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo response: %w", err)
	}
	if info.Subject == "" {
		return nil, errors.New("userinfo response missing subject")
	}
	return &info, nil
}

// ResolveBearer maps a bearer token back to its live user snapshot.
// Invalid tokens and dead sessions both resolve to a generic
// authentication error.
func (e *Engine) ResolveBearer(ctx context.Context, token string) (*AuthUser, string, error) {
	if e == nil {
		return nil, "", ErrEngineNotReady
	}

	claims, err := e.jwt.Parse(token)
	if err != nil {
		return nil, "", &AuthenticationError{Stage: "bearer", Err: err}
	}

	user, err := e.ValidateSession(ctx, claims.SID)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", &AuthenticationError{Stage: "session", Err: errors.New("session not live")}
	}
	return user, claims.SID, nil
}

// Logout invalidates the session behind the bearer token. Already-dead
// sessions are not an error.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	claims, err := e.jwt.Parse(token)
	if err != nil {
		return &AuthenticationError{Stage: "bearer", Err: err}
	}
	return e.InvalidateSession(ctx, claims.SID)
}
