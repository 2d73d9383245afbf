package theme

import (
	"path/filepath"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/static"

	"github.com/calipso/calipso/internal/server"
)

// OneDay is the cache lifetime of theme and media assets, in seconds.
const OneDay = 86400

// StaticConfig is the resolved configuration of one static stage.
type StaticConfig struct {
	Theme  string
	Root   string
	MaxAge int
}

// NewStaticConfig resolves the public directory of theme.
func NewStaticConfig(basePath, theme string) StaticConfig {
	return StaticConfig{
		Theme:  theme,
		Root:   filepath.Join(server.ThemeDir(basePath, theme), "public"),
		MaxAge: OneDay,
	}
}

// StaticStage builds the theme.static stage.
func StaticStage(basePath, theme string) server.Stage {
	return Options{}.StaticFactory()(basePath, theme)
}

// StaticFactory returns the theme.static stage factory.
func (o Options) StaticFactory() server.StageFactory {
	return func(basePath, theme string) server.Stage {
		cfg := NewStaticConfig(basePath, theme)
		return server.Stage{
			Tag:     server.TagThemeStatic,
			Handler: staticHandler(cfg.Root, cfg.MaxAge),
		}
	}
}

// MediaStage serves <basePath>/media with the same cache lifetime.
func MediaStage(basePath string) server.Stage {
	return server.Stage{
		Tag:     server.TagMediaStatic,
		Handler: staticHandler(filepath.Join(basePath, "media"), OneDay),
	}
}

// staticHandler serves root and passes misses on. The file handle cache is
// skipped so freshly compiled stylesheets are served immediately.
func staticHandler(root string, maxAge int) fiber.Handler {
	return static.New(root, static.Config{
		MaxAge:        maxAge,
		CacheDuration: -1,
		Next: func(c fiber.Ctx) bool {
			return server.IsDiagnosticsPath(c.Path())
		},
	})
}
