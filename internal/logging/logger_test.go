package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/calipso/calipso/internal/config"
)

func TestConfigureDefaultsToStderr(t *testing.T) {
	logger, err := InitLogger(config.Settings{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stderr {
		t.Fatalf("未指定文件时应输出到 stderr")
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("默认应使用 JSON 格式")
	}
}

func TestInitLoggerTextFormat(t *testing.T) {
	logger, err := InitLogger(config.Settings{LogLevel: "info", LogFormat: "text"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if _, ok := logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("text 格式应使用 TextFormatter")
	}
	if _, err := InitLogger(config.Settings{LogLevel: "info", LogFormat: "xml"}); err == nil {
		t.Fatalf("未知格式应返回错误")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 用户不受目录权限限制")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := config.Settings{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "calipso.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stderr {
		t.Fatalf("fallback 时应退回 stderr")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calipso.log")
	cfg := config.Settings{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.WithFields(StageFields("attach", "router", 9)).Info("test")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
	if !strings.Contains(string(raw), `"stage":"router"`) {
		t.Fatalf("日志应为 JSON 且包含字段: %s", raw)
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.Settings{LogLevel: "loud"}); err == nil {
		t.Fatalf("未知日志级别应返回错误")
	}
}

func TestStageFields(t *testing.T) {
	fields := StageFields("attach", "theme.static", 5)
	if fields["stage"] != "theme.static" || fields["index"] != 5 || fields["action"] != "attach" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestThemeAndRequestFields(t *testing.T) {
	theme := ThemeFields("theme_switch", "default", "dark")
	if theme["theme_from"] != "default" || theme["theme_to"] != "dark" {
		t.Fatalf("unexpected theme fields: %v", theme)
	}
	req := RequestFields("abc", "GET", "/", 200)
	if req["request_id"] != "abc" || req["status"] != 200 {
		t.Fatalf("unexpected request fields: %v", req)
	}
}
