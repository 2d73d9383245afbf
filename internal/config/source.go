package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Loader 在启动时解析运行配置。成功时返回 Context，失败时返回可被 Classify 归类的错误。
type Loader interface {
	Load(ctx context.Context, settings *Settings) (*Context, error)
	// DefaultTheme 返回主题回退使用的目录名，Load 成功后调用。
	DefaultTheme() string
}

// StaticLoader 直接使用引导配置，不访问数据库，适用于测试与嵌入场景。
type StaticLoader struct {
	mu           sync.RWMutex
	defaultTheme string
}

// Load 基于 Settings 构建 Context。
func (l *StaticLoader) Load(ctx context.Context, settings *Settings) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, errors.New("settings is nil")
	}

	l.mu.Lock()
	l.defaultTheme = settings.DefaultTheme
	l.mu.Unlock()

	return contextFromSettings(settings), nil
}

// DefaultTheme 返回最近一次 Load 记录的默认主题。
func (l *StaticLoader) DefaultTheme() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.defaultTheme == "" {
		return DefaultThemeName
	}
	return l.defaultTheme
}

func contextFromSettings(s *Settings) *Context {
	return &Context{
		Theme:        s.Theme,
		DefaultTheme: s.DefaultTheme,
		Language:     s.Language,
		LanguageAdd:  s.LanguageAdd,
	}
}

const (
	settingsCollection = "settings"
	settingsDocumentID = "config"
	defaultDatabase    = "calipso"
)

// settingsDocument 映射 settings 集合中的 config 文档，缺失字段回退到引导配置。
type settingsDocument struct {
	ID          string    `bson:"_id"`
	Theme       string    `bson:"theme,omitempty"`
	Language    string    `bson:"language,omitempty"`
	LanguageAdd *bool     `bson:"languageAdd,omitempty"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

// MongoLoader 连接 DBURI 指向的 MongoDB，读取（首次启动时写入）站点配置文档。
type MongoLoader struct {
	// ServerSelectionTimeout 控制驱动选择节点的超时，0 时使用 10s。
	ServerSelectionTimeout time.Duration

	mu           sync.RWMutex
	client       *mongo.Client
	defaultTheme string
}

// NewMongoLoader 返回使用默认超时的 MongoLoader。
func NewMongoLoader() *MongoLoader {
	return &MongoLoader{ServerSelectionTimeout: 10 * time.Second}
}

// Load 建立连接并解析 Context。连接失败时返回驱动原始错误，由 Classify 归类。
func (l *MongoLoader) Load(ctx context.Context, settings *Settings) (*Context, error) {
	if settings == nil {
		return nil, errors.New("settings is nil")
	}

	timeout := l.ServerSelectionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client, err := mongo.Connect(options.Client().
		ApplyURI(settings.DBURI).
		SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", settings.DBURI, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping %s: %w", settings.DBURI, err)
	}

	coll := client.Database(DatabaseName(settings.DBURI)).Collection(settingsCollection)
	doc, err := loadSettingsDocument(ctx, coll, settings)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	l.mu.Lock()
	l.client = client
	l.defaultTheme = settings.DefaultTheme
	l.mu.Unlock()

	return doc.apply(contextFromSettings(settings)), nil
}

// apply 用 config 文档中的字段覆盖 loaded。非法的主题名被忽略，保留引导配置中的主题。
func (doc settingsDocument) apply(loaded *Context) *Context {
	if doc.Theme != "" && validateThemeName(doc.Theme) == nil {
		loaded.Theme = doc.Theme
	}
	if doc.Language != "" {
		loaded.Language = doc.Language
	}
	if doc.LanguageAdd != nil {
		loaded.LanguageAdd = *doc.LanguageAdd
	}
	return loaded
}

func loadSettingsDocument(ctx context.Context, coll *mongo.Collection, settings *Settings) (settingsDocument, error) {
	filter := bson.D{{Key: "_id", Value: settingsDocumentID}}

	var doc settingsDocument
	err := coll.FindOne(ctx, filter).Decode(&doc)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return settingsDocument{}, fmt.Errorf("read site config: %w", err)
	}

	// 首次启动：以引导配置为种子写入 config 文档。
	add := settings.LanguageAdd
	doc = settingsDocument{
		ID:          settingsDocumentID,
		Theme:       settings.Theme,
		Language:    settings.Language,
		LanguageAdd: &add,
		UpdatedAt:   time.Now().UTC(),
	}
	update := bson.D{{Key: "$setOnInsert", Value: doc}}
	if _, err := coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return settingsDocument{}, fmt.Errorf("seed site config: %w", err)
	}
	return doc, nil
}

// SaveTheme 将当前主题写回 config 文档，主题切换后调用以便重启后保持一致。
func (l *MongoLoader) SaveTheme(ctx context.Context, settings *Settings, theme string) error {
	l.mu.RLock()
	client := l.client
	l.mu.RUnlock()
	if client == nil {
		return errors.New("mongo loader not connected")
	}

	coll := client.Database(DatabaseName(settings.DBURI)).Collection(settingsCollection)
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "theme", Value: theme},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}}}
	_, err := coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: settingsDocumentID}}, update, options.UpdateOne().SetUpsert(true))
	return err
}

// DefaultTheme 返回引导配置中的默认主题。
func (l *MongoLoader) DefaultTheme() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.defaultTheme == "" {
		return DefaultThemeName
	}
	return l.defaultTheme
}

// Close 断开 Load 建立的连接。
func (l *MongoLoader) Close(ctx context.Context) error {
	l.mu.Lock()
	client := l.client
	l.client = nil
	l.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

// DatabaseName 从连接串路径中解析数据库名，缺省为 calipso。
func DatabaseName(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return defaultDatabase
	}
	name := strings.Trim(parsed.Path, "/")
	if name == "" {
		return defaultDatabase
	}
	return name
}
