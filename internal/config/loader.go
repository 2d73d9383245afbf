package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultListenPort 是独立运行时的默认监听端口。
const DefaultListenPort = 3000

// envBindings 允许部署环境覆盖最常改动的几个字段。
var envBindings = map[string]string{
	"DBURI":      "CALIPSO_DB_URI",
	"ListenPort": "CALIPSO_PORT",
	"Theme":      "CALIPSO_THEME",
	"LogLevel":   "CALIPSO_LOG_LEVEL",
}

// LoadSettings 读取并解析 TOML 引导配置，同时注入默认值、环境变量覆盖与校验逻辑。
// optional 为 true 时缺失的配置文件不视为错误，仅使用默认值。
func LoadSettings(path string, optional bool) (*Settings, error) {
	if path == "" {
		path = "config.toml"
	}

	// .env 仅补充尚未设置的环境变量，不存在时静默忽略。
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if !optional || !isMissingFile(err) {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&settings)

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	absBase, err := filepath.Abs(settings.BasePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析站点根目录: %w", err)
	}
	settings.BasePath = absBase

	return &settings, nil
}

func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", DefaultListenPort)
	v.SetDefault("BasePath", ".")
	v.SetDefault("DBURI", "mongodb://localhost:27017/calipso")
	v.SetDefault("Theme", DefaultThemeName)
	v.SetDefault("DefaultTheme", DefaultThemeName)
	v.SetDefault("Language", "en")
	v.SetDefault("LanguageAdd", false)
	v.SetDefault("SessionSecret", "calipso")
	v.SetDefault("SessionTTL", "24h")
	v.SetDefault("LoadTimeout", "30s")
	v.SetDefault("ExitCodeOnBootFailure", 0)
	v.SetDefault("MetricsEnabled", true)
	v.SetDefault("AdminRoutesEnabled", false)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
}

func applyDefaults(s *Settings) {
	if s.ListenPort == 0 {
		s.ListenPort = DefaultListenPort
	}
	if s.BasePath == "" {
		s.BasePath = "."
	}
	if s.DefaultTheme == "" {
		s.DefaultTheme = DefaultThemeName
	}
	if s.Theme == "" {
		s.Theme = s.DefaultTheme
	}
	if s.Language == "" {
		s.Language = "en"
	}
	if s.SessionTTL.DurationValue() == 0 {
		s.SessionTTL = Duration(24 * time.Hour)
	}
	if s.UploadDir == "" {
		s.UploadDir = filepath.Join(os.TempDir(), "calipso-uploads")
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.LogFormat == "" {
		s.LogFormat = "json"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
