// Package theme builds the theme-dependent pipeline stages: on-demand
// stylesheet compilation from <base>/themes/<theme>/stylus into
// <base>/themes/<theme>/public, and static serving of that public directory.
package theme

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/calipso/calipso/internal/logging"
	"github.com/calipso/calipso/internal/metrics"
	"github.com/calipso/calipso/internal/server"
	"github.com/calipso/calipso/internal/store"
	"github.com/calipso/calipso/internal/stylus"
)

// CompileFunc turns a stylesheet source and its path into a configured
// renderer.
type CompileFunc func(src, filePath string) *stylus.Renderer

// DefaultCompile associates the output with its source file, enables
// warnings and minifies.
func DefaultCompile(src, filePath string) *stylus.Renderer {
	return stylus.New(src).
		Set("filename", filePath).
		Set("warn", true).
		Set("compress", true)
}

// StyleConfig is the resolved configuration of one style stage.
type StyleConfig struct {
	Theme   string
	Src     string
	Dest    string
	Debug   bool
	Compile CompileFunc
}

// NewStyleConfig resolves the stylus source and public destination of theme.
func NewStyleConfig(basePath, theme string) StyleConfig {
	dir := server.ThemeDir(basePath, theme)
	return StyleConfig{
		Theme:   theme,
		Src:     filepath.Join(dir, "stylus"),
		Dest:    filepath.Join(dir, "public"),
		Debug:   false,
		Compile: DefaultCompile,
	}
}

// Options carries the collaborators shared by every stage a factory builds.
// The stages themselves share no mutable state.
type Options struct {
	Logger  *logrus.Logger
	Metrics *metrics.Collector
}

// StyleStage builds the theme.stylus stage with default options.
func StyleStage(basePath, theme string) server.Stage {
	return Options{}.StyleFactory()(basePath, theme)
}

// StyleFactory returns the theme.stylus stage factory.
func (o Options) StyleFactory() server.StageFactory {
	return func(basePath, theme string) server.Stage {
		cfg := NewStyleConfig(basePath, theme)
		return server.Stage{
			Tag:     server.TagThemeStylus,
			Handler: newStyleHandler(basePath, cfg, o),
		}
	}
}

type styleHandler struct {
	cfg      StyleConfig
	basePath string
	logger   *logrus.Logger
	metrics  *metrics.Collector

	srcScope  string
	destScope string

	once     sync.Once
	store    store.Store
	storeErr error
}

func newStyleHandler(basePath string, cfg StyleConfig, opts Options) fiber.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	h := &styleHandler{
		cfg:       cfg,
		basePath:  basePath,
		logger:    logger,
		metrics:   opts.Metrics,
		srcScope:  path.Join("themes", cfg.Theme, "stylus"),
		destScope: path.Join("themes", cfg.Theme, "public"),
	}
	return h.handle
}

func (h *styleHandler) handle(c fiber.Ctx) error {
	method := c.Method()
	if method != fiber.MethodGet && method != fiber.MethodHead {
		return c.Next()
	}
	reqPath := path.Clean("/" + c.Path())
	if path.Ext(reqPath) != ".css" {
		return c.Next()
	}

	st, err := h.siteStore()
	if err != nil {
		return err
	}
	if err := h.compileIfStale(c.Context(), st, reqPath); err != nil {
		return err
	}
	return c.Next()
}

// siteStore opens the store lazily so building a stage never touches disk.
func (h *styleHandler) siteStore() (store.Store, error) {
	h.once.Do(func() {
		h.store, h.storeErr = store.NewStore(h.basePath)
	})
	return h.store, h.storeErr
}

// compileIfStale compiles <src>/<name>.styl to <dest>/<name>.css when the
// css file is missing or older than its source. A missing source is not an
// error: the request simply falls through.
func (h *styleHandler) compileIfStale(ctx context.Context, st store.Store, cssPath string) error {
	stylPath := strings.TrimSuffix(cssPath, ".css") + ".styl"
	srcLocator := store.Locator{Scope: h.srcScope, Path: stylPath}
	destLocator := store.Locator{Scope: h.destScope, Path: cssPath}

	srcEntry, err := st.Stat(ctx, srcLocator)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	destEntry, err := st.Stat(ctx, destLocator)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if !srcEntry.Newer(destEntry) {
		return nil
	}

	raw, srcEntry, err := st.Read(ctx, srcLocator)
	if err != nil {
		return err
	}

	renderer := h.cfg.Compile(string(raw), srcEntry.FilePath)
	css, err := renderer.Render()
	if err != nil {
		h.metrics.RecordStylesheetCompile(h.cfg.Theme, "error")
		h.logger.WithFields(logrus.Fields{
			"action": "stylus_compile",
			"theme":  h.cfg.Theme,
			"file":   srcEntry.FilePath,
		}).WithError(err).Error("stylesheet compile failed")
		return fmt.Errorf("compile %s: %w", srcEntry.FilePath, err)
	}
	for _, w := range renderer.Warnings() {
		h.logger.WithFields(logrus.Fields{
			"action": "stylus_compile",
			"theme":  h.cfg.Theme,
			"file":   w.Filename,
			"line":   w.Line,
		}).Warn(w.Message)
	}

	if _, err := st.Write(ctx, destLocator, []byte(css), store.WriteOptions{}); err != nil {
		return err
	}
	h.metrics.RecordStylesheetCompile(h.cfg.Theme, "ok")
	if h.cfg.Debug {
		h.logger.WithFields(logrus.Fields{
			"action": "stylus_compile",
			"theme":  h.cfg.Theme,
			"file":   srcEntry.FilePath,
		}).Info("stylesheet compiled")
	}
	return nil
}
