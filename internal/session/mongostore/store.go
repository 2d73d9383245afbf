// Package mongostore 提供基于 MongoDB 的 fiber.Storage 实现，供 session stage 持久化会话。
// 过期依赖 expiresAt 字段上的 TTL 索引，读取时也会校验过期时间。
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/calipso/calipso/internal/config"
)

// DefaultCollection 是会话集合名。
const DefaultCollection = "sessions"

// Config 描述会话存储的连接参数。
type Config struct {
	// URL 是 MongoDB 连接串，数据库名取自路径部分。
	URL        string
	Collection string
	// Timeout 限制单次操作耗时，0 时使用 5s。
	Timeout time.Duration
}

// Storage 实现 fiber.Storage。
type Storage struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration

	indexMu    sync.Mutex
	indexReady bool
	// createIndex 默认在 coll 上创建 TTL 索引，测试中可替换。
	createIndex func(ctx context.Context) error
}

var _ fiber.Storage = (*Storage)(nil)

type sessionDocument struct {
	ID        string     `bson:"_id"`
	Value     []byte     `bson:"value"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty"`
}

// New 创建存储。驱动按需建立连接，数据库不可达时首次读写才会报错。
func New(cfg Config) (*Storage, error) {
	if cfg.URL == "" {
		return nil, errors.New("session store url required")
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URL).
		SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect session store: %w", err)
	}

	s := &Storage{
		client:  client,
		coll:    client.Database(config.DatabaseName(cfg.URL)).Collection(collection),
		timeout: timeout,
	}
	s.createIndex = s.createTTLIndex
	return s, nil
}

func (s *Storage) createTTLIndex(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}

// ensureIndex 在写入前创建 TTL 索引，仅在成功后标记完成，失败的尝试会在下次写入时重试。
func (s *Storage) ensureIndex(ctx context.Context) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.indexReady {
		return nil
	}
	if err := s.createIndex(ctx); err != nil {
		return err
	}
	s.indexReady = true
	return nil
}

func (s *Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

// GetWithContext 返回 key 对应的值，不存在或已过期时返回 nil, nil。
func (s *Storage) GetWithContext(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc sessionDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.ExpiresAt != nil && !doc.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return doc.Value, nil
}

// Get 见 GetWithContext。
func (s *Storage) Get(key string) ([]byte, error) {
	return s.GetWithContext(context.Background(), key)
}

// SetWithContext 写入 key，exp 为 0 表示不过期。
func (s *Storage) SetWithContext(ctx context.Context, key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.ensureIndex(ctx); err != nil {
		return fmt.Errorf("create session ttl index: %w", err)
	}

	doc := sessionDocument{ID: key, Value: val}
	if exp > 0 {
		expiresAt := time.Now().Add(exp).UTC()
		doc.ExpiresAt = &expiresAt
	}
	_, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, doc, options.Replace().SetUpsert(true))
	return err
}

// Set 见 SetWithContext。
func (s *Storage) Set(key string, val []byte, exp time.Duration) error {
	return s.SetWithContext(context.Background(), key, val, exp)
}

// DeleteWithContext 删除 key，不存在时不报错。
func (s *Storage) DeleteWithContext(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}})
	return err
}

// Delete 见 DeleteWithContext。
func (s *Storage) Delete(key string) error {
	return s.DeleteWithContext(context.Background(), key)
}

// ResetWithContext 清空全部会话。
func (s *Storage) ResetWithContext(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteMany(ctx, bson.D{})
	return err
}

// Reset 见 ResetWithContext。
func (s *Storage) Reset() error {
	return s.ResetWithContext(context.Background())
}

// Close 断开连接。
func (s *Storage) Close() error {
	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	return s.client.Disconnect(ctx)
}
