// Package httpapi exposes the engine over HTTP: login redirect, OAuth
// callback, session introspection, MFA and biometric verification, and
// admin-gated audit queries.
package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	castellan "github.com/castellan-io/castellan"
)

const sessionCookie = "castellan_token"

type Handler struct {
	engine *castellan.Engine
}

func NewHandler(engine *castellan.Engine) *Handler {
	return &Handler{engine: engine}
}

// Login redirects the browser to the identity provider's authorization
// endpoint with a fresh anti-forgery state.
func (h *Handler) Login(c *fiber.Ctx) error {
	target, _, err := h.engine.AuthorizationURL(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "login unavailable",
		})
	}
	return c.Redirect(target, fiber.StatusFound)
}

// Callback completes the OAuth exchange and sets the bearer token as a
// secure cookie.
func (h *Handler) Callback(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing code or state",
		})
	}

	result, err := h.engine.HandleCallback(c.Context(), code, state)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     sessionCookie,
		Value:    result.BearerToken,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
		Expires:  time.Now().Add(8 * time.Hour),
	})

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"session_id":         result.SessionID,
		"user":               result.User,
		"mfa_required":       result.MFARequired,
		"biometric_required": result.BiometricRequired,
	})
}

// Logout invalidates the caller's session and clears the cookie.
func (h *Handler) Logout(c *fiber.Ctx) error {
	token := h.bearer(c)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not authenticated"})
	}

	if err := h.engine.Logout(c.Context(), token); err != nil {
		var authErr *castellan.AuthenticationError
		if errors.As(err, &authErr) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": authErr.Error()})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "logout unavailable"})
	}

	c.ClearCookie(sessionCookie)
	return c.SendStatus(fiber.StatusNoContent)
}

// Session introspects the caller's session: user snapshot plus which
// verifications are still outstanding.
func (h *Handler) Session(c *fiber.Ctx) error {
	user, sessionID, ok := h.authenticate(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not authenticated"})
	}

	sess, err := h.engine.Session(c.Context(), sessionID)
	if err != nil || sess == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not authenticated"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"user":               user,
		"session_id":         sessionID,
		"mfa_verified":       sess.MFAVerified,
		"biometric_verified": sess.BiometricVerified,
		"expires_at":         sess.ExpiresAt,
	})
}

type mfaInitiateInput struct {
	Method string `json:"method"`
}

// MFAInitiate opens a second-factor challenge for the authenticated user.
func (h *Handler) MFAInitiate(c *fiber.Ctx) error {
	user, _, ok := h.authenticate(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not authenticated"})
	}

	var input mfaInitiateInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}

	challenge, err := h.engine.InitiateChallenge(c.Context(), user.ID, castellan.MFAMethod(input.Method))
	if err != nil {
		if errors.Is(err, castellan.ErrMFAMethodInvalid) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid mfa method"})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "mfa unavailable"})
	}

	return c.Status(fiber.StatusCreated).JSON(challenge)
}

type mfaVerifyInput struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

// MFAVerify checks the presented code. Failure detail is limited to the
// failure kind and remaining attempts.
func (h *Handler) MFAVerify(c *fiber.Ctx) error {
	if _, _, ok := h.authenticate(c); !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not authenticated"})
	}

	var input mfaVerifyInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}

	verified, err := h.engine.VerifyChallenge(c.Context(), input.ChallengeID, input.Code)
	if err != nil {
		var mfaErr *castellan.MFAError
		if errors.As(err, &mfaErr) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"verified":           false,
				"reason":             string(mfaErr.Kind),
				"remaining_attempts": mfaErr.Remaining,
			})
		}
		if errors.Is(err, castellan.ErrMFARateLimited) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many attempts"})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "mfa unavailable"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"verified": verified})
}

type biometricVerifyInput struct {
	Modality string `json:"modality"`
	DeviceID string `json:"device_id"`
	Sample   []byte `json:"sample"`
}

// BiometricVerify scores a presented sample against the caller's
// enrolled template.
func (h *Handler) BiometricVerify(c *fiber.Ctx) error {
	user, _, ok := h.authenticate(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not authenticated"})
	}

	var input biometricVerifyInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}

	verified, err := h.engine.VerifyBiometric(c.Context(), user.ID,
		castellan.Modality(input.Modality), input.DeviceID, input.Sample)
	if err != nil {
		var mismatch *castellan.BiometricMismatchError
		if errors.As(err, &mismatch) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"verified": false})
		}
		if errors.Is(err, castellan.ErrModalityInvalid) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid modality"})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "biometric unavailable"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"verified": verified})
}

// AuditStatistics aggregates the audit trail over a trailing window.
// Admin permission required.
func (h *Handler) AuditStatistics(c *fiber.Ctx) error {
	user, _, ok := h.authenticate(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not authenticated"})
	}
	if !user.HasPermission("manage:audit") {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
	}

	hours := c.QueryInt("hours", 24)
	if hours <= 0 || hours > 24*90 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid window"})
	}

	stats, err := h.engine.AuditStatistics(c.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "audit unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

// bearer extracts the caller token from the Authorization header or the
// session cookie.
func (h *Handler) bearer(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	if len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return c.Cookies(sessionCookie)
}

func (h *Handler) authenticate(c *fiber.Ctx) (*castellan.AuthUser, string, bool) {
	token := h.bearer(c)
	if token == "" {
		return nil, "", false
	}
	user, sessionID, err := h.engine.ResolveBearer(c.Context(), token)
	if err != nil || user == nil {
		return nil, "", false
	}
	return user, sessionID, true
}
