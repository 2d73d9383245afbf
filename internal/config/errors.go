package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// BootCode 对配置加载/数据库连接失败进行分类。
type BootCode string

const (
	CodeConnRefused BootCode = "ECONNREFUSED"
	CodeTimeout     BootCode = "ETIMEDOUT"
	CodeUnknown     BootCode = "UNKNOWN"
)

// BootError 是一次启动尝试的失败结果，仅被 Boot 消费一次用于生成提示信息。
type BootError struct {
	Code    BootCode
	Message string
	Err     error
}

func (e *BootError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *BootError) Unwrap() error {
	return e.Err
}

// Classify 将任意加载错误归类为 BootError；已经分类过的错误原样返回。
func Classify(err error) *BootError {
	if err == nil {
		return nil
	}

	var bootErr *BootError
	if errors.As(err, &bootErr) {
		return bootErr
	}

	code := CodeUnknown
	switch {
	case errors.Is(err, syscall.ECONNREFUSED), strings.Contains(strings.ToLower(err.Error()), "connection refused"):
		code = CodeConnRefused
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	}

	return &BootError{Code: code, Message: err.Error(), Err: err}
}
