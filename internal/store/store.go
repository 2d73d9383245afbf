package store

import (
	"context"
	"errors"
	"time"
)

// Store 负责站点目录下运行期生成文件的读写（编译后的 CSS、语言文件）。磁盘布局：
//
//	<root>/<Scope>/<Path>
//
// Write 通过临时文件 + rename 完成，静态 stage 永远看不到写了一半的文件。
type Store interface {
	// Read 返回条目内容与信息。不存在时返回 ErrNotFound。
	Read(ctx context.Context, locator Locator) ([]byte, *Entry, error)

	// Stat 仅返回条目信息。不存在或是目录时返回 ErrNotFound。
	Stat(ctx context.Context, locator Locator) (*Entry, error)

	// Write 原子替换条目内容。opts.ModTime 为空时使用当前时间。
	Write(ctx context.Context, locator Locator, data []byte, opts WriteOptions) (*Entry, error)

	// List 返回 scope 目录下（不递归）扩展名为 ext 的条目，按路径排序；目录不存在时返回空。
	List(ctx context.Context, scope, ext string) ([]Entry, error)

	// Root 返回存储根目录的绝对路径。
	Root() string
}

// WriteOptions 控制写入时的可选属性。
type WriteOptions struct {
	ModTime time.Time
}

// Locator 定位一个条目（作用域目录 + 相对路径），均为 URL 路径风格。
type Locator struct {
	Scope string
	Path  string
}

// Entry 描述磁盘上的一个条目。
type Entry struct {
	Locator   Locator
	FilePath  string
	SizeBytes int64
	ModTime   time.Time
}

// Newer 报告 e 是否比 other 更新；other 为 nil 时视为更新。
func (e *Entry) Newer(other *Entry) bool {
	if other == nil {
		return true
	}
	return e.ModTime.After(other.ModTime)
}

// ErrNotFound 表示条目不存在。
var ErrNotFound = errors.New("store entry not found")
