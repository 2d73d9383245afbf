package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/calipso/calipso/internal/server"
)

const (
	// MethodOverrideField is the form field consulted on POST requests.
	MethodOverrideField = "_method"
	// HeaderMethodOverride is consulted before the form field.
	HeaderMethodOverride = "X-HTTP-Method-Override"
)

// MethodOverride lets a POST request stand in for PUT, PATCH or DELETE,
// which HTML forms cannot send directly.
func MethodOverride() server.Stage {
	return server.Stage{
		Tag: server.TagMethodOverride,
		Handler: func(c fiber.Ctx) error {
			if c.Method() != fiber.MethodPost {
				return c.Next()
			}
			override := c.Get(HeaderMethodOverride)
			if override == "" && isFormEncoded(c) {
				override = c.FormValue(MethodOverrideField)
			}
			if method := strings.ToUpper(strings.TrimSpace(override)); allowedOverride(method) {
				c.Method(method)
			}
			return c.Next()
		},
	}
}

func allowedOverride(method string) bool {
	switch method {
	case fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
		return true
	}
	return false
}

func isFormEncoded(c fiber.Ctx) bool {
	ct := strings.ToLower(c.Get(fiber.HeaderContentType))
	return strings.HasPrefix(ct, fiber.MIMEApplicationForm) || strings.HasPrefix(ct, fiber.MIMEMultipartForm)
}
