package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/calipso/calipso/internal/config"
	"github.com/calipso/calipso/internal/i18n"
	"github.com/calipso/calipso/internal/metrics"
	"github.com/calipso/calipso/internal/middleware"
	"github.com/calipso/calipso/internal/router"
	"github.com/calipso/calipso/internal/server"
	"github.com/calipso/calipso/internal/session/mongostore"
	"github.com/calipso/calipso/internal/theme"
)

// Router is the core router attached as the last stage. Build returns once
// the router has finished its own initialisation.
type Router interface {
	Build(ctx context.Context) (fiber.Handler, error)
}

// DefaultLanguage is used when the configuration names no language.
const DefaultLanguage = "en"

// SessionStoreFactory builds the session storage for a database URI.
type SessionStoreFactory func(dbURI string) (fiber.Storage, error)

// Deps are the collaborators Assemble wires into the pipeline.
type Deps struct {
	Loader config.Loader
	// Router defaults to router.Core.
	Router Router
	// SessionStore defaults to MongoSessionStore.
	SessionStore SessionStoreFactory
	Metrics      *metrics.Collector
	// TranslationDir defaults to <base>/i18n.
	TranslationDir string
}

// MongoSessionStore keeps sessions in the sessions collection of the site
// database.
func MongoSessionStore(dbURI string) (fiber.Storage, error) {
	return mongostore.New(mongostore.Config{URL: dbURI})
}

// Assemble attaches the request pipeline to app in its fixed order:
//
//	methodOverride, cookieParser, responseTime, session,
//	theme.stylus, theme.static, media.static, form, translate, router
//
// app must already carry the loaded configuration context. The theme stage
// factories are registered on app before they are invoked so a later theme
// switch rebuilds the same stages.
func Assemble(ctx context.Context, app *server.App, deps Deps) (err error) {
	if app == nil {
		return errors.New("app is nil")
	}
	defer func() {
		if r := recover(); r != nil {
			app.Logger().WithFields(logrus.Fields{
				"action": "assemble",
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			}).Error("pipeline assembly panicked")
			err = fmt.Errorf("pipeline assembly panicked: %v", r)
		}
	}()

	cfgCtx := app.ConfigContext()
	if cfgCtx == nil {
		return errors.New("configuration context not loaded")
	}
	if deps.Loader == nil {
		return errors.New("loader is required")
	}
	settings := app.Settings()
	basePath := app.BasePath()
	logger := app.Logger()

	// 1-4: request plumbing.
	sessionFactory := deps.SessionStore
	if sessionFactory == nil {
		sessionFactory = MongoSessionStore
	}
	storage, err := sessionFactory(settings.DBURI)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	if storage != nil {
		app.OnShutdown(storage.Close)
	}

	stages := []server.Stage{
		middleware.MethodOverride(),
		middleware.CookieParser(settings.SessionSecret),
		middleware.ResponseTime(deps.Metrics),
		middleware.Session(middleware.SessionConfig{
			Storage:     storage,
			IdleTimeout: settings.SessionTTL.DurationValue(),
		}),
	}
	if err := attach(app, stages...); err != nil {
		return err
	}

	// 5-6: theme stages through the registered factories.
	app.SetDefaultTheme(deps.Loader.DefaultTheme())
	activeTheme := cfgCtx.ThemeOrDefault()
	themeOpts := theme.Options{Logger: logger, Metrics: deps.Metrics}
	factories := app.Factories()
	if err := factories.Register(server.TagThemeStylus, themeOpts.StyleFactory()); err != nil {
		return err
	}
	if err := factories.Register(server.TagThemeStatic, themeOpts.StaticFactory()); err != nil {
		return err
	}
	for _, tag := range server.ThemeTags {
		factory, ok := factories.Fetch(tag)
		if !ok {
			return fmt.Errorf("factory %s missing", tag)
		}
		if err := attach(app, factory(basePath, activeTheme)); err != nil {
			return err
		}
	}

	// 7-9: media, uploads, translation.
	uploadDir := settings.UploadDir
	if uploadDir == "" {
		uploadDir = filepath.Join(basePath, "tmp")
	}
	translationDir := deps.TranslationDir
	if translationDir == "" {
		translationDir = filepath.Join(basePath, "i18n")
	}
	lang := cfgCtx.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	translator, err := i18n.New(i18n.Options{
		Dir:        translationDir,
		Language:   lang,
		AddMissing: cfgCtx.LanguageAdd,
		Logger:     logger,
		Metrics:    deps.Metrics,
	})
	if err != nil {
		return fmt.Errorf("translation: %w", err)
	}
	stages = []server.Stage{
		theme.MediaStage(basePath),
		middleware.Form(middleware.FormConfig{
			UploadDir:      uploadDir,
			KeepExtensions: true,
			Logger:         logger,
			Metrics:        deps.Metrics,
		}),
		translator.Stage(),
	}
	if err := attach(app, stages...); err != nil {
		return err
	}

	// 10: router, attached once it has finished initialising.
	core := deps.Router
	if core == nil {
		core = &router.Core{Logger: logger, Version: app.Version(), Theme: app.ActiveTheme}
	}
	handler, err := core.Build(ctx)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := attach(app, server.Stage{Tag: server.TagRouter, Handler: handler}); err != nil {
		return err
	}

	deps.Metrics.SetPipelineStages(len(app.Stages()))
	deps.Metrics.SetActiveTheme("", activeTheme)
	logger.WithFields(logrus.Fields{
		"action": "assemble",
		"stages": len(app.Stages()),
		"theme":  activeTheme,
	}).Info("pipeline assembled")
	return nil
}

func attach(app *server.App, stages ...server.Stage) error {
	for _, stage := range stages {
		if err := app.Use(stage); err != nil {
			return fmt.Errorf("attach %s: %w", stage.Tag, err)
		}
	}
	return nil
}
