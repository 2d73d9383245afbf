package version

import "fmt"

// Product 是 CLI 输出与 fiber AppName 使用的产品名。
const Product = "calipso"

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.2.1"
	Commit  = "dev"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("%s %s (%s)", Product, Version, Commit)
}

// Environment 返回 CALIPSO_ENV 的取值，未设置时为 development。
func Environment(lookup func(string) string) string {
	if env := lookup("CALIPSO_ENV"); env != "" {
		return env
	}
	return "development"
}
