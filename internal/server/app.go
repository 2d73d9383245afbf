package server

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/calipso/calipso/internal/config"
	"github.com/calipso/calipso/internal/logging"
	"github.com/calipso/calipso/internal/version"
)

// AppOptions controls how the server instance is created.
type AppOptions struct {
	Logger   *logrus.Logger
	Settings *config.Settings
	BasePath string
	Version  string
}

// App is the long-lived server instance: site root, version, settings, the
// loaded configuration context, the stage factory registry and the ordered
// list of attached stages.
//
// Stages are not registered on fiber directly. Each attached position is
// mounted once as a slot handler and the slot looks up the stage currently
// published for that position, which lets a tagged stage be swapped while
// the server is running.
type App struct {
	fiber     *fiber.App
	logger    *logrus.Logger
	settings  *config.Settings
	basePath  string
	version   string
	factories *FactoryRegistry

	stages atomic.Pointer[[]Stage]

	mu           sync.RWMutex
	slots        int
	cfgCtx       *config.Context
	defaultTheme string
	activeTheme  string
	closers      []func() error
}

const contextKeyStages = "_calipso_stages"

// NewApp builds a server instance with the request ID and panic backstop
// middleware installed and no stages attached.
func NewApp(opts AppOptions) (*App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	settings := opts.Settings
	if settings == nil {
		settings = &config.Settings{}
	}
	basePath := opts.BasePath
	if basePath == "" {
		basePath = settings.BasePath
	}

	app := &App{
		fiber: fiber.New(fiber.Config{
			CaseSensitive: true,
			AppName:       version.Product,
		}),
		logger:    opts.Logger,
		settings:  settings,
		basePath:  basePath,
		version:   opts.Version,
		factories: NewFactoryRegistry(),
	}
	empty := []Stage{}
	app.stages.Store(&empty)

	app.fiber.Use(recoverMiddleware(opts.Logger))
	app.fiber.Use(requestContextMiddleware(opts.Logger))
	return app, nil
}

// Fiber exposes the underlying fiber application for listening and tests.
func (a *App) Fiber() *fiber.App { return a.fiber }

// Logger returns the structured logger shared by all stages.
func (a *App) Logger() *logrus.Logger { return a.logger }

// BasePath is the site root that theme and media directories live under.
func (a *App) BasePath() string { return a.basePath }

// Version is the server version string.
func (a *App) Version() string { return a.version }

// Settings returns the bootstrap settings the instance was created with.
func (a *App) Settings() *config.Settings { return a.settings }

// Factories returns the registry of theme stage factories.
func (a *App) Factories() *FactoryRegistry { return a.factories }

// SetContext stores the loaded configuration context and marks its theme as
// the active one.
func (a *App) SetContext(ctx *config.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfgCtx = ctx
	if ctx != nil {
		a.activeTheme = ctx.ThemeOrDefault()
	}
}

// ConfigContext returns the loaded configuration context, or nil before load.
func (a *App) ConfigContext() *config.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfgCtx
}

// SetDefaultTheme records the fallback theme name.
func (a *App) SetDefaultTheme(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.defaultTheme = name
}

// DefaultTheme returns the fallback theme name.
func (a *App) DefaultTheme() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.defaultTheme
}

// OnShutdown registers fn to run from Shutdown, after the listener stops.
func (a *App) OnShutdown(fn func() error) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

// Shutdown runs the registered hooks in reverse order and joins their errors.
func (a *App) Shutdown() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ActiveTheme returns the theme the theme-tagged stages currently serve.
func (a *App) ActiveTheme() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.activeTheme
}

// Use appends a stage to the end of the pipeline.
func (a *App) Use(stage Stage) error {
	if !stage.valid() {
		return ErrInvalidStage
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current := *a.stages.Load()
	for _, existing := range current {
		if existing.Tag == stage.Tag {
			return fmt.Errorf("%w: %s", ErrDuplicateStage, stage.Tag)
		}
	}

	next := make([]Stage, len(current), len(current)+1)
	copy(next, current)
	next = append(next, stage)

	for a.slots < len(next) {
		a.fiber.Use(a.slot(a.slots))
		a.slots++
	}
	a.stages.Store(&next)

	a.logger.WithFields(logging.StageFields("stage_attach", stage.Tag, len(next)-1)).Debug("stage attached")
	return nil
}

// Stages returns a copy of the attached stages in pipeline order.
func (a *App) Stages() []Stage {
	current := *a.stages.Load()
	out := make([]Stage, len(current))
	copy(out, current)
	return out
}

// Tags returns the attached stage tags in pipeline order.
func (a *App) Tags() []string {
	current := *a.stages.Load()
	tags := make([]string, len(current))
	for i, stage := range current {
		tags[i] = stage.Tag
	}
	return tags
}

// Stage returns the attached stage with the given tag.
func (a *App) Stage(tag string) (Stage, bool) {
	for _, stage := range *a.stages.Load() {
		if stage.Tag == tag {
			return stage, true
		}
	}
	return Stage{}, false
}

// ReplaceStage substitutes the attached stage that has the same tag.
func (a *App) ReplaceStage(stage Stage) error {
	return a.ReplaceStages(stage)
}

// ReplaceStages substitutes several tagged stages at once. Either every
// replacement is published together or none is.
func (a *App) ReplaceStages(stages ...Stage) error {
	for _, stage := range stages {
		if !stage.valid() {
			return ErrInvalidStage
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current := *a.stages.Load()
	next := make([]Stage, len(current))
	copy(next, current)

	for _, stage := range stages {
		index := indexOf(next, stage.Tag)
		if index < 0 {
			return fmt.Errorf("%w: %s", ErrStageNotFound, stage.Tag)
		}
		next[index] = stage
	}
	a.stages.Store(&next)

	for _, stage := range stages {
		a.logger.WithFields(logging.StageFields("stage_replace", stage.Tag, indexOf(next, stage.Tag))).Debug("stage replaced")
	}
	return nil
}

func indexOf(stages []Stage, tag string) int {
	for i, stage := range stages {
		if stage.Tag == tag {
			return i
		}
	}
	return -1
}

// slot dispatches to whatever stage sits at index in the request's snapshot.
func (a *App) slot(index int) fiber.Handler {
	return func(c fiber.Ctx) error {
		stages := a.requestStages(c, index)
		if index >= len(stages) {
			return c.Next()
		}
		return stages[index].Handler(c)
	}
}

// requestStages pins the stage list for the lifetime of a request. The first
// slot takes the snapshot and later slots reuse it.
func (a *App) requestStages(c fiber.Ctx, index int) []Stage {
	if index > 0 {
		if pinned, ok := c.Locals(contextKeyStages).([]Stage); ok {
			return pinned
		}
	}
	current := *a.stages.Load()
	c.Locals(contextKeyStages, current)
	return current
}
