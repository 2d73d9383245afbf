package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// Settings 是启动阶段从 config.toml 读取的引导配置，数据库连接建立前即可使用。
type Settings struct {
	ListenPort   int    `mapstructure:"ListenPort"`
	BasePath     string `mapstructure:"BasePath"`
	DBURI        string `mapstructure:"DBURI"`
	Theme        string `mapstructure:"Theme"`
	DefaultTheme string `mapstructure:"DefaultTheme"`
	Language     string `mapstructure:"Language"`
	LanguageAdd  bool   `mapstructure:"LanguageAdd"`

	SessionSecret string   `mapstructure:"SessionSecret"`
	SessionTTL    Duration `mapstructure:"SessionTTL"`
	UploadDir     string   `mapstructure:"UploadDir"`

	// LoadTimeout 限制配置加载（含数据库连接）的最长耗时，0 表示不限制。
	LoadTimeout Duration `mapstructure:"LoadTimeout"`
	// ExitCodeOnBootFailure 是启动失败时进程的退出码。默认 0 与历史行为保持一致，
	// 由 supervisor 管理的部署应显式设置为非零值。
	ExitCodeOnBootFailure int `mapstructure:"ExitCodeOnBootFailure"`

	MetricsEnabled bool `mapstructure:"MetricsEnabled"`
	// AdminRoutesEnabled 开启会修改运行状态的诊断接口（如 POST /-/theme/:name），默认关闭。
	AdminRoutesEnabled bool `mapstructure:"AdminRoutesEnabled"`

	LogLevel      string `mapstructure:"LogLevel"`
	// LogFormat 取值 json（默认）或 text。
	LogFormat     string `mapstructure:"LogFormat"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// Context 是配置加载完成后的只读设置集合，驱动 pipeline 组装。
type Context struct {
	Theme        string
	DefaultTheme string
	Language     string
	LanguageAdd  bool
}

// ThemeOrDefault 返回当前主题，未设置时回退到默认主题。
func (c Context) ThemeOrDefault() string {
	if strings.TrimSpace(c.Theme) != "" {
		return c.Theme
	}
	if strings.TrimSpace(c.DefaultTheme) != "" {
		return c.DefaultTheme
	}
	return DefaultThemeName
}

// DefaultThemeName 是未配置任何主题时使用的主题目录名。
const DefaultThemeName = "default"
