// Package i18n 提供翻译 stage：按配置语言（可被 Accept-Language 覆盖）查找
// <dir>/<lang>.yaml 中的词条，开启 AddMissing 时将缺失词条写回语言文件。
package i18n

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"

	"github.com/calipso/calipso/internal/logging"
	"github.com/calipso/calipso/internal/metrics"
	"github.com/calipso/calipso/internal/server"
	"github.com/calipso/calipso/internal/store"
)

const (
	contextKeyLanguage = "_calipso_language"
	fileExtension      = ".yaml"
)

// Options 描述翻译 stage 的依赖。
type Options struct {
	// Dir 存放语言文件的目录，通常为 <base>/i18n。
	Dir        string
	Language   string
	AddMissing bool
	Logger     *logrus.Logger
	Metrics    *metrics.Collector
}

// Translator 持有所有已加载语言的词条。
type Translator struct {
	fallback   language.Tag
	addMissing bool
	store      store.Store
	logger     *logrus.Logger
	metrics    *metrics.Collector

	// writeMu 串行化词表快照与落盘，保证文件按修改顺序写入。
	writeMu sync.Mutex

	mu       sync.RWMutex
	catalogs map[string]map[string]string
	matcher  language.Matcher
	tags     []language.Tag
}

// New 加载 Dir 下的全部语言文件。配置语言没有对应文件时以空词表开始。
func New(opts Options) (*Translator, error) {
	if opts.Dir == "" {
		return nil, errors.New("translation dir required")
	}
	fallback, err := language.Parse(opts.Language)
	if err != nil {
		return nil, fmt.Errorf("invalid language %q: %w", opts.Language, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	st, err := store.NewStore(opts.Dir)
	if err != nil {
		return nil, err
	}

	t := &Translator{
		fallback:   fallback,
		addMissing: opts.AddMissing,
		store:      st,
		logger:     logger,
		metrics:    opts.Metrics,
		catalogs:   make(map[string]map[string]string),
	}
	if err := t.loadAll(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Translator) loadAll() error {
	entries, err := t.store.List(context.Background(), "", fileExtension)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Locator.Path
		tag, err := language.Parse(strings.TrimSuffix(name, fileExtension))
		if err != nil {
			t.logger.WithField("file", name).Warn("skipping language file with invalid tag")
			continue
		}
		catalog, err := t.readCatalog(name)
		if err != nil {
			return err
		}
		t.catalogs[tag.String()] = catalog
	}
	if _, ok := t.catalogs[t.fallback.String()]; !ok {
		t.catalogs[t.fallback.String()] = make(map[string]string)
	}
	t.rebuildMatcher()
	return nil
}

func (t *Translator) readCatalog(name string) (map[string]string, error) {
	raw, _, err := t.store.Read(context.Background(), store.Locator{Path: name})
	if err != nil {
		return nil, err
	}
	catalog := make(map[string]string)
	if len(bytes.TrimSpace(raw)) == 0 {
		return catalog, nil
	}
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return catalog, nil
}

// rebuildMatcher 以配置语言为首选构建 matcher。调用方需持有写锁或处于初始化阶段。
func (t *Translator) rebuildMatcher() {
	tags := []language.Tag{t.fallback}
	names := make([]string, 0, len(t.catalogs))
	for name := range t.catalogs {
		if name != t.fallback.String() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		tags = append(tags, language.Make(name))
	}
	t.tags = tags
	t.matcher = language.NewMatcher(tags)
}

// Languages 返回已加载的语言，配置语言排在首位。
func (t *Translator) Languages() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.tags))
	for i, tag := range t.tags {
		out[i] = tag.String()
	}
	return out
}

// Match 根据 Accept-Language 选择语言，无法匹配时返回配置语言。
func (t *Translator) Match(acceptLanguage string) string {
	if acceptLanguage == "" {
		return t.fallback.String()
	}
	desired, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(desired) == 0 {
		return t.fallback.String()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, index, confidence := t.matcher.Match(desired...)
	if confidence == language.No {
		return t.fallback.String()
	}
	return t.tags[index].String()
}

// Translate 查找 key 在 lang 中的译文，缺失时返回 key 本身。
func (t *Translator) Translate(lang, key string) string {
	t.mu.RLock()
	catalog := t.catalogs[lang]
	value, ok := catalog[key]
	t.mu.RUnlock()
	if ok {
		return value
	}

	t.metrics.RecordMissingTranslation(lang)
	if t.addMissing {
		if err := t.add(lang, key); err != nil {
			t.logger.WithFields(logrus.Fields{
				"action":   "translation_add",
				"language": lang,
				"key":      key,
			}).WithError(err).Warn("missing translation not saved")
		}
	}
	return key
}

// add 将缺失词条以 key 作为初始译文写回语言文件。
func (t *Translator) add(lang, key string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	catalog, ok := t.catalogs[lang]
	if !ok {
		catalog = make(map[string]string)
		t.catalogs[lang] = catalog
		t.rebuildMatcher()
	}
	if _, exists := catalog[key]; exists {
		t.mu.Unlock()
		return nil
	}
	catalog[key] = key
	snapshot := make(map[string]string, len(catalog))
	for k, v := range catalog {
		snapshot[k] = v
	}
	t.mu.Unlock()

	raw, err := yaml.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = t.store.Write(context.Background(), store.Locator{Path: lang + fileExtension}, raw, store.WriteOptions{})
	return err
}

// Stage 返回 translate stage：为每个请求确定语言并写入 Locals。
func (t *Translator) Stage() server.Stage {
	return server.Stage{
		Tag: server.TagTranslate,
		Handler: func(c fiber.Ctx) error {
			lang := t.Match(c.Get(fiber.HeaderAcceptLanguage))
			c.Locals(contextKeyLanguage, &requestLanguage{translator: t, lang: lang})
			c.Set(fiber.HeaderContentLanguage, lang)
			return c.Next()
		},
	}
}

type requestLanguage struct {
	translator *Translator
	lang       string
}

// T 在当前请求语言下翻译 key。translate stage 未运行时原样返回 key。
func T(c fiber.Ctx, key string) string {
	if rl, ok := c.Locals(contextKeyLanguage).(*requestLanguage); ok {
		return rl.translator.Translate(rl.lang, key)
	}
	return key
}

// Language 返回当前请求使用的语言。
func Language(c fiber.Ctx) string {
	if rl, ok := c.Locals(contextKeyLanguage).(*requestLanguage); ok {
		return rl.lang
	}
	return ""
}
