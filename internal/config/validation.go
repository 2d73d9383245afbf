package config

import (
	"errors"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (s *Settings) Validate() error {
	if s == nil {
		return errors.New("配置为空")
	}

	if s.ListenPort <= 0 || s.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if err := validateDBURI(s.DBURI); err != nil {
		return newFieldError("DBURI", err.Error())
	}
	if err := validateThemeName(s.Theme); err != nil {
		return newFieldError("Theme", err.Error())
	}
	if err := validateThemeName(s.DefaultTheme); err != nil {
		return newFieldError("DefaultTheme", err.Error())
	}
	if strings.TrimSpace(s.Language) == "" {
		return newFieldError("Language", "不能为空")
	}
	if s.SessionTTL.DurationValue() < 0 {
		return newFieldError("SessionTTL", "不能为负数")
	}
	if s.LoadTimeout.DurationValue() < 0 {
		return newFieldError("LoadTimeout", "不能为负数")
	}
	if s.LogFormat != "" && s.LogFormat != "json" && s.LogFormat != "text" {
		return newFieldError("LogFormat", "仅支持 json/text")
	}
	if s.ExitCodeOnBootFailure < 0 || s.ExitCodeOnBootFailure > 125 {
		return newFieldError("ExitCodeOnBootFailure", "必须在 0-125")
	}
	return nil
}

func validateDBURI(raw string) error {
	if raw == "" {
		return errors.New("缺少数据库地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "mongodb" && parsed.Scheme != "mongodb+srv" {
		return errors.New("仅支持 mongodb/mongodb+srv")
	}
	if parsed.Host == "" {
		return errors.New("数据库地址缺少 Host")
	}
	return nil
}

// ValidateThemeName 校验主题目录名，拒绝路径穿越等非法写法。
func ValidateThemeName(name string) error {
	return validateThemeName(name)
}

func validateThemeName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errors.New("不允许包含路径")
	}
	if strings.Contains(name, " ") {
		return errors.New("不允许包含空格")
	}
	return nil
}
