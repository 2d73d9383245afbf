package routes

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/calipso/calipso/internal/logging"
	"github.com/calipso/calipso/internal/metrics"
	"github.com/calipso/calipso/internal/server"
)

// ThemeSaver persists the active theme so the next boot starts on it.
type ThemeSaver func(ctx context.Context, theme string) error

// Options wires optional collaborators into the diagnostics routes.
type Options struct {
	Metrics   *metrics.Collector
	SaveTheme ThemeSaver
	// AllowThemeSwitch 为 false 时不注册 POST /-/theme/:name。
	AllowThemeSwitch bool
}

// RegisterPipelineRoutes 暴露 /-/pipeline、/-/metrics 诊断接口，AllowThemeSwitch 时另有 /-/theme/:name。
// 必须在 pipeline 组装完成之后调用，保证 stage slot 先于方法路由注册。
func RegisterPipelineRoutes(app *server.App, opts Options) {
	if app == nil {
		return
	}
	router := app.Fiber()

	router.Get("/-/pipeline", func(c fiber.Ctx) error {
		return c.JSON(encodePipeline(app))
	})

	if opts.AllowThemeSwitch {
		router.Post("/-/theme/:name", themeSwitchHandler(app, opts))
	}

	if opts.Metrics != nil {
		router.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}
}

func themeSwitchHandler(app *server.App, opts Options) fiber.Handler {
	return func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "theme_required"})
		}

		previous := app.ActiveTheme()
		err := app.SwitchTheme(name)
		opts.Metrics.RecordThemeSwitch(previous, name, err)
		if errors.Is(err, server.ErrUnknownTheme) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "theme_not_found"})
		}
		if err != nil {
			app.Logger().WithFields(logging.ThemeFields("theme_switch", previous, name)).WithError(err).Error("theme switch failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "theme_switch_failed"})
		}

		persisted := false
		if opts.SaveTheme != nil {
			if err := opts.SaveTheme(c.Context(), name); err != nil {
				app.Logger().WithFields(logging.ThemeFields("theme_persist", previous, name)).WithError(err).Warn("theme not persisted")
			} else {
				persisted = true
			}
		}
		return c.JSON(fiber.Map{
			"theme":     name,
			"previous":  previous,
			"persisted": persisted,
		})
	}
}

type stagePayload struct {
	Index   int    `json:"index"`
	Tag     string `json:"tag"`
	Factory string `json:"factory,omitempty"`
}

type pipelinePayload struct {
	Version      string            `json:"version"`
	Theme        string            `json:"theme"`
	DefaultTheme string            `json:"default_theme"`
	Stages       []stagePayload    `json:"stages"`
	Factories    map[string]string `json:"factories"`
}

func encodePipeline(app *server.App) pipelinePayload {
	factories := app.Factories()
	tags := app.Tags()
	stages := make([]stagePayload, 0, len(tags))
	for i, tag := range tags {
		item := stagePayload{Index: i, Tag: tag}
		if _, ok := factories.Fetch(tag); ok {
			item.Factory = "registered"
		}
		stages = append(stages, item)
	}
	return pipelinePayload{
		Version:      app.Version(),
		Theme:        app.ActiveTheme(),
		DefaultTheme: app.DefaultTheme(),
		Stages:       stages,
		Factories:    factories.Snapshot(server.ThemeTags),
	}
}
