package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// NewStore 以 root 为根目录构建磁盘存储，root 不存在时创建。
func NewStore(root string) (Store, error) {
	if root == "" {
		return nil, errors.New("store root required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}

	return &fileStore{
		root:  abs,
		locks: make(map[string]*entryLock),
	}, nil
}

// fileStore 以每条目的 entryLock 串行化同一文件的写入，例如两个请求同时触发同一
// 样式表的编译。
type fileStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Root() string {
	return s.root
}

func (s *fileStore) Read(ctx context.Context, locator Locator) ([]byte, *Entry, error) {
	entry, err := s.Stat(ctx, locator)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	entry.SizeBytes = int64(len(data))
	return data, entry, nil
}

func (s *fileStore) Stat(ctx context.Context, locator Locator) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	return entryFromInfo(locator, filePath, info), nil
}

func (s *fileStore) Write(ctx context.Context, locator Locator, data []byte, opts WriteOptions) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	unlock := s.lockEntry(filePath)
	defer unlock()

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, ".calipso-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	// CreateTemp 以 0600 创建文件，静态 stage 需要可读权限。
	if err == nil {
		err = os.Chmod(tmpName, 0o644)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = os.Rename(tmpName, filePath)
	}
	if err != nil {
		os.Remove(tmpName)
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := os.Chtimes(filePath, modTime, modTime); err != nil {
		return nil, err
	}
	return &Entry{
		Locator:   locator,
		FilePath:  filePath,
		SizeBytes: int64(len(data)),
		ModTime:   modTime,
	}, nil
}

func (s *fileStore) List(ctx context.Context, scope, ext string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := s.scopeDir(scope)
	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if item.IsDir() || strings.HasPrefix(item.Name(), ".") {
			continue
		}
		if ext != "" && filepath.Ext(item.Name()) != ext {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		locator := Locator{Scope: scope, Path: item.Name()}
		entries = append(entries, *entryFromInfo(locator, filepath.Join(dir, item.Name()), info))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Locator.Path < entries[j].Locator.Path
	})
	return entries, nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) scopeDir(scope string) string {
	scope = strings.Trim(scope, "/")
	if scope == "" {
		return s.root
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+scope), "/")
	return filepath.Join(s.root, filepath.FromSlash(cleaned))
}

// entryPath 解析 Locator 对应的绝对路径，路径被限制在 root/Scope 之内。
func (s *fileStore) entryPath(locator Locator) (string, error) {
	scopeDir := s.scopeDir(locator.Scope)
	rel := strings.TrimPrefix(path.Clean("/"+locator.Path), "/")
	if rel == "" {
		return "", errors.New("entry path required")
	}
	filePath := filepath.Join(scopeDir, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, scopeDir+string(filepath.Separator)) {
		return "", errors.New("invalid store path")
	}
	return filePath, nil
}

func entryFromInfo(locator Locator, filePath string, info fs.FileInfo) *Entry {
	return &Entry{
		Locator:   locator,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}
}
