package server

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/calipso/calipso/internal/logging"
)

const contextKeyRequestID = "_calipso_request_id"

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		if !isDiagnosticsPath(c.Path()) {
			status := c.Response().StatusCode()
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
			entry := logger.WithFields(logging.RequestFields(reqID, c.Method(), c.Path(), status))
			if err != nil {
				entry.WithError(err).Warn("request failed")
			} else {
				entry.Debug("request served")
			}
		}
		return err
	}
}

// recoverMiddleware is the last-resort backstop for panics escaping a stage:
// the stack is logged, the request answers 500 and the process keeps serving.
func recoverMiddleware(logger *logrus.Logger) fiber.Handler {
	return recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			logger.WithFields(logrus.Fields{
				"action":     "panic",
				"request_id": RequestID(c),
				"path":       c.Path(),
				"panic":      fmt.Sprint(e),
				"stack":      string(debug.Stack()),
			}).Error("uncaught panic in request pipeline")
		},
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// IsDiagnosticsPath reports whether path belongs to the /-/ operator surface.
func IsDiagnosticsPath(path string) bool {
	return isDiagnosticsPath(path)
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
