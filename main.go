package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/calipso/calipso/internal/bootstrap"
	"github.com/calipso/calipso/internal/config"
	"github.com/calipso/calipso/internal/logging"
	"github.com/calipso/calipso/internal/metrics"
	"github.com/calipso/calipso/internal/server"
	"github.com/calipso/calipso/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath string
	// configOptional 表示使用的是默认路径，文件缺失时仅使用默认值。
	configOptional bool
	checkOnly      bool
	showVersion    bool
	noDB           bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr

	// serve 阻塞监听直到 ctx 结束，测试中可替换。
	serve = listen
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行启动流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	settings, err := config.LoadSettings(opts.configPath, opts.configOptional)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(*settings)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["listen_port"] = settings.ListenPort
		fields["theme"] = settings.Theme
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	printBanner()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var collector *metrics.Collector
	if settings.MetricsEnabled {
		collector = metrics.NewCollector()
	}

	bootOpts := bootstrap.Options{
		Settings:   settings,
		Logger:     logger,
		Output:     stdOut,
		Version:    version.Version,
		ConfigPath: opts.configPath,
		Metrics:    collector,
	}
	// 启动顺序：引导配置 → 站点配置（数据库）→ pipeline 组装 → 监听。
	if opts.noDB {
		bootOpts.Loader = &config.StaticLoader{}
		bootOpts.SessionStore = func(string) (fiber.Storage, error) { return nil, nil }
	} else {
		loader := config.NewMongoLoader()
		defer func() { _ = loader.Close(context.Background()) }()
		bootOpts.Loader = loader
		bootOpts.SaveTheme = func(ctx context.Context, theme string) error {
			return loader.SaveTheme(ctx, settings, theme)
		}
	}

	app, err := bootstrap.Boot(ctx, bootOpts)
	if err != nil {
		fmt.Fprintln(stdOut, "")
		return settings.ExitCodeOnBootFailure
	}
	defer func() {
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Warn("shutdown hooks failed")
		}
	}()

	if err := serve(ctx, app, settings.ListenPort); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("calipso", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		noDB       bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CALIPSO_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&noDB, "no-db", false, "不连接数据库，仅使用配置文件中的站点设置")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CALIPSO_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	optional := false
	if path == "" {
		path = "config.toml"
		optional = true
	}

	return cliOptions{
		configPath:     path,
		configOptional: optional,
		checkOnly:      checkOnly,
		showVersion:    showVer,
		noDB:           noDB,
	}, nil
}

// listen 在 port 上提供服务，ctx 结束时优雅关闭。
func listen(ctx context.Context, app *server.App, port int) error {
	logger := app.Logger()
	return app.Fiber().Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{
		DisableStartupMessage: true,
		GracefulContext:       ctx,
		ListenerAddrFunc: func(addr net.Addr) {
			bound := port
			if tcp, ok := addr.(*net.TCPAddr); ok {
				bound = tcp.Port
			}
			printListening(bound)
			logger.WithFields(logrus.Fields{
				"action":  "listen",
				"port":    bound,
				"version": version.Full(),
			}).Info("Fiber 服务启动")
		},
	})
}
