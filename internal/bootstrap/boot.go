// Package bootstrap turns bootstrap settings into a running server instance:
// it loads the site configuration, reports fatal load failures to the
// operator and assembles the request pipeline in its fixed order.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/calipso/calipso/internal/config"
	"github.com/calipso/calipso/internal/logging"
	"github.com/calipso/calipso/internal/metrics"
	"github.com/calipso/calipso/internal/server"
	"github.com/calipso/calipso/internal/server/routes"
)

// FatalHeadline opens every boot failure report.
const FatalHeadline = "There was a fatal error loading Calipso, will terminate, reason:"

// Options 描述一次启动所需的全部依赖。
type Options struct {
	Settings *config.Settings
	Loader   config.Loader
	Logger   *logrus.Logger
	// Output 接收面向运维的彩色启动诊断，默认 os.Stdout。
	Output  io.Writer
	Version string
	// ConfigPath 仅用于日志字段。
	ConfigPath string

	Router         Router
	SessionStore   SessionStoreFactory
	Metrics        *metrics.Collector
	TranslationDir string
	// SaveTheme 在运行时切换主题后持久化新主题，nil 时不持久化。
	SaveTheme routes.ThemeSaver
}

// Boot creates the server instance, loads the configuration context and
// assembles the pipeline. Exactly one of the results is non-nil; a failed
// boot returns a *config.BootError after writing the failure report to
// opts.Output.
func Boot(ctx context.Context, opts Options) (*server.App, error) {
	start := time.Now()
	settings := opts.Settings
	if settings == nil {
		settings = &config.Settings{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	fail := func(err error) (*server.App, error) {
		bootErr := config.Classify(err)
		Report(out, bootErr, settings.DBURI)
		opts.Metrics.RecordBoot(string(bootErr.Code), time.Since(start))
		fields := logging.BaseFields("boot", opts.ConfigPath)
		fields["code"] = bootErr.Code
		logger.WithFields(fields).WithError(bootErr.Err).Error("boot failed")
		return nil, bootErr
	}

	if opts.Loader == nil {
		return fail(errors.New("loader is required"))
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:   logger,
		Settings: settings,
		BasePath: settings.BasePath,
		Version:  opts.Version,
	})
	if err != nil {
		return fail(err)
	}

	cfgCtx, err := load(ctx, opts.Loader, settings)
	if err != nil {
		_ = app.Shutdown()
		return fail(err)
	}
	app.SetContext(cfgCtx)

	err = Assemble(ctx, app, Deps{
		Loader:         opts.Loader,
		Router:         opts.Router,
		SessionStore:   opts.SessionStore,
		Metrics:        opts.Metrics,
		TranslationDir: opts.TranslationDir,
	})
	if err != nil {
		_ = app.Shutdown()
		return fail(err)
	}

	routes.RegisterPipelineRoutes(app, routes.Options{
		Metrics:          opts.Metrics,
		SaveTheme:        opts.SaveTheme,
		AllowThemeSwitch: settings.AdminRoutesEnabled,
	})

	opts.Metrics.RecordBoot("", time.Since(start))
	fields := logging.BaseFields("boot", opts.ConfigPath)
	fields["theme"] = app.ActiveTheme()
	fields["stages"] = len(app.Stages())
	fields["elapsed"] = time.Since(start).String()
	logger.WithFields(fields).Info("boot complete")
	return app, nil
}

// load runs the loader under Settings.LoadTimeout and converts a panic into
// an error.
func load(ctx context.Context, loader config.Loader, settings *config.Settings) (cfgCtx *config.Context, err error) {
	if timeout := settings.LoadTimeout.DurationValue(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			cfgCtx = nil
			err = &config.BootError{
				Code:    config.CodeUnknown,
				Message: fmt.Sprint(r),
				Err:     fmt.Errorf("loader panicked: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	cfgCtx, err = loader.Load(ctx, settings)
	if err == nil && cfgCtx == nil {
		err = errors.New("loader returned no configuration")
	}
	return cfgCtx, err
}

// Report writes the operator-facing failure report for err.
func Report(w io.Writer, err *config.BootError, dbURI string) {
	if err == nil {
		return
	}
	headline := color.New(color.FgRed, color.Bold)
	label := color.New(color.FgYellow)

	headline.Fprintln(w, FatalHeadline)
	fmt.Fprintln(w)
	switch err.Code {
	case config.CodeConnRefused:
		label.Fprint(w, "Unable to connect to the specified database: ")
		fmt.Fprintln(w, dbURI)
	default:
		label.Fprint(w, "Unknown error: ")
		fmt.Fprintln(w, err.Message)
	}
}
