package main

import (
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calipso/calipso/internal/bootstrap"
	"github.com/calipso/calipso/internal/server"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("CALIPSO_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" || opts.configOptional {
		t.Fatalf("应优先使用环境变量，得到 %+v", opts)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml", "--no-db"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" || !opts.noDB {
		t.Fatalf("flag 应高于环境变量，得到 %+v", opts)
	}
}

func TestParseCLIFlagsDefaultPathIsOptional(t *testing.T) {
	t.Setenv("CALIPSO_CONFIG", "")

	opts, err := parseCLIFlags(nil)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" || !opts.configOptional {
		t.Fatalf("默认路径应为可选的 config.toml，得到 %+v", opts)
	}
	if _, err := parseCLIFlags([]string{"--unknown"}); err == nil {
		t.Fatalf("未知参数应报错")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("显式指定的配置缺失应返回非零退出码")
	}
}

func TestRunVersionOutput(t *testing.T) {
	out := useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(out.String(), "calipso") {
		t.Fatalf("version 输出应包含 calipso 标识")
	}
}

func TestRunWithoutDatabaseServesPipeline(t *testing.T) {
	out := useBufferWriters(t)
	base := t.TempDir()
	configPath := writeConfigFile(t, fmt.Sprintf(`
ListenPort = 3999
BasePath = %q
UploadDir = %q
Theme = "default"
Language = "en"
LogLevel = "error"
`, base, filepath.Join(base, "uploads")))

	var tags []string
	var status int
	useServe(t, func(app *server.App) error {
		tags = app.Tags()
		resp, err := app.Fiber().Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		status = resp.StatusCode
		return nil
	})

	code := run(cliOptions{configPath: configPath, noDB: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
	if len(tags) != 10 || tags[0] != server.TagMethodOverride || tags[9] != server.TagRouter {
		t.Fatalf("pipeline 顺序异常: %v", tags)
	}
	if status != 200 {
		t.Fatalf("首页应返回 200，得到 %d", status)
	}
	if !strings.Contains(out.String(), "|_|") {
		t.Fatalf("启动时应输出 banner")
	}
}

func TestRunBootFailureUsesConfiguredExitCode(t *testing.T) {
	out := useBufferWriters(t)
	base := t.TempDir()
	configPath := writeConfigFile(t, fmt.Sprintf(`
BasePath = %q
DBURI = "mongodb://127.0.0.1:1/calipso"
LoadTimeout = "300ms"
ExitCodeOnBootFailure = 3
LogLevel = "error"
`, base))

	useServe(t, func(*server.App) error {
		t.Fatalf("启动失败后不应监听")
		return nil
	})

	code := run(cliOptions{configPath: configPath})
	if code != 3 {
		t.Fatalf("期望退出码 3，得到 %d", code)
	}
	if !strings.Contains(out.String(), bootstrap.FatalHeadline) {
		t.Fatalf("应输出启动失败提示: %s", out.String())
	}
}
