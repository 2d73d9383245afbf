package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/responsetime"

	"github.com/calipso/calipso/internal/metrics"
	"github.com/calipso/calipso/internal/server"
)

// ResponseTime sets X-Response-Time on every response and, when a collector
// is given, records request count and latency.
func ResponseTime(collector *metrics.Collector) server.Stage {
	timing := responsetime.New()
	if collector == nil {
		return server.Stage{Tag: server.TagResponseTime, Handler: timing}
	}

	return server.Stage{
		Tag: server.TagResponseTime,
		Handler: func(c fiber.Ctx) error {
			start := time.Now()
			err := timing(c)
			if !server.IsDiagnosticsPath(c.Path()) {
				status := c.Response().StatusCode()
				var fe *fiber.Error
				if errors.As(err, &fe) {
					status = fe.Code
				} else if err != nil {
					status = fiber.StatusInternalServerError
				}
				collector.RecordHTTPRequest(c.Method(), status, time.Since(start))
			}
			return err
		},
	}
}
