package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/castellan-io/castellan/metrics"
)

// RegisterRoutes wires the handler into the fiber app. Metrics is
// optional; pass nil to skip the scrape endpoint.
func RegisterRoutes(app *fiber.App, h *Handler, m *metrics.Metrics) {
	app.Get("/auth/login", h.Login)
	app.Get("/auth/callback", h.Callback)
	app.Post("/auth/logout", h.Logout)
	app.Get("/auth/session", h.Session)

	app.Post("/auth/mfa/initiate", h.MFAInitiate)
	app.Post("/auth/mfa/verify", h.MFAVerify)
	app.Post("/auth/biometric/verify", h.BiometricVerify)

	app.Get("/admin/audit/statistics", h.AuditStatistics)

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}
}
