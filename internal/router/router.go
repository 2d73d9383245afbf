// Package router is the minimal core router attached as the last pipeline
// stage. Content routing proper lives outside this repository; this router
// answers the home page and turns every other miss into a JSON 404.
package router

import (
	"context"
	"html"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/calipso/calipso/internal/i18n"
	"github.com/calipso/calipso/internal/logging"
	"github.com/calipso/calipso/internal/server"
)

// Core builds the router stage handler.
type Core struct {
	Logger  *logrus.Logger
	Version string
	// Theme reports the theme currently served.
	Theme func() string
}

// Build finishes router initialisation and returns its handler. The router
// is ready when Build returns.
func (r *Core) Build(ctx context.Context) (fiber.Handler, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	theme := r.Theme
	if theme == nil {
		theme = func() string { return "" }
	}

	return func(c fiber.Ctx) error {
		if server.IsDiagnosticsPath(c.Path()) {
			return c.Next()
		}
		method := c.Method()
		if c.Path() == "/" && (method == fiber.MethodGet || method == fiber.MethodHead) {
			return renderHome(c, theme(), r.Version)
		}

		logger.WithFields(logging.RequestFields(server.RequestID(c), method, c.Path(), fiber.StatusNotFound)).Debug("no route")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not_found",
			"path":  c.Path(),
		})
	}, nil
}

func renderHome(c fiber.Ctx, theme, version string) error {
	var b strings.Builder
	b.WriteString("<!doctype html>\n<html><head><meta charset=\"utf-8\">")
	b.WriteString("<title>Calipso</title>")
	b.WriteString("<link rel=\"stylesheet\" href=\"/site.css\"></head>\n<body>")
	b.WriteString("<h1>" + html.EscapeString(i18n.T(c, "Welcome to Calipso")) + "</h1>")
	b.WriteString("<p class=\"theme\">" + html.EscapeString(theme) + "</p>")
	b.WriteString("<p class=\"version\">" + html.EscapeString(version) + "</p>")
	b.WriteString("</body></html>\n")

	c.Type("html", "utf-8")
	return c.SendString(b.String())
}
