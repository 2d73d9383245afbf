package middleware

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/extractors"
	"github.com/gofiber/fiber/v3/middleware/session"

	"github.com/calipso/calipso/internal/server"
)

// SessionCookie is the name of the session cookie.
const SessionCookie = "calipso.sid"

// SessionConfig configures the session stage.
type SessionConfig struct {
	// Storage persists session data. Nil keeps sessions in memory.
	Storage     fiber.Storage
	IdleTimeout time.Duration
	Secure      bool
}

// Session attaches a session to every request outside the /-/ surface.
// Handlers reach it with SessionFrom(c).
func Session(cfg SessionConfig) server.Stage {
	handler := session.New(session.Config{
		Storage:        cfg.Storage,
		IdleTimeout:    cfg.IdleTimeout,
		Extractor:      extractors.FromCookie(SessionCookie),
		CookieHTTPOnly: true,
		CookieSecure:   cfg.Secure,
		CookiePath:     "/",
		Next: func(c fiber.Ctx) bool {
			return server.IsDiagnosticsPath(c.Path())
		},
	})
	return server.Stage{Tag: server.TagSession, Handler: handler}
}

// SessionFrom returns the request session, or nil when the session stage did
// not run.
func SessionFrom(c fiber.Ctx) *session.Middleware {
	return session.FromContext(c)
}
