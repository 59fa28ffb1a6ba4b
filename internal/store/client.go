package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Herald/internal/config"
)

// Status — состояние подключения к хранилищу.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusReady      Status = "ready"
	StatusError      Status = "error"

	// StatusClosed — клиент закрыт через Shutdown.
	StatusClosed Status = "closed"
)

const (
	readinessPollInterval = 100 * time.Millisecond
	scanBatch             = 100
)

// Client — клиент распределённого хранилища.
//
// Поверх redis.UniversalClient: *redis.Client для single,
// *redis.ClusterClient для cluster. Все ключи получают KeyPrefix.
type Client struct {
	rdb      redis.UniversalClient
	provider *ProviderConfig
	prefix   string
	status   atomic.Value // Status
	logger   *slog.Logger
}

// Open выбирает провайдера по конфигурации и создаёт клиент.
// Подключение ленивое: вызывающий ждёт готовности через AwaitReadiness.
func Open(cfg *config.Store, logger *slog.Logger) (*Client, error) {
	pc, err := NewSelector(cfg, logger).Select()
	if err != nil {
		return nil, err
	}
	return NewClient(pc, logger), nil
}

// NewClient создаёт клиент для конфигурации провайдера.
func NewClient(pc *ProviderConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	var tlsConfig *tls.Config
	if pc.TLS {
		tlsConfig = &tls.Config{
			ServerName: pc.Host,
			MinVersion: tls.VersionTLS12,
		}
	}

	var rdb redis.UniversalClient
	switch pc.Topology {
	case TopologyCluster:
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       pc.Addrs(),
			Username:    pc.Username,
			Password:    pc.Password,
			TLSConfig:   tlsConfig,
			DialTimeout: pc.ConnectTimeout,
		})
	default:
		addr := fmt.Sprintf("%s:%d", defaultHost, defaultPort)
		if addrs := pc.Addrs(); len(addrs) > 0 {
			addr = addrs[0]
		}
		rdb = redis.NewClient(&redis.Options{
			Addr:        addr,
			Username:    pc.Username,
			Password:    pc.Password,
			DB:          pc.DB,
			TLSConfig:   tlsConfig,
			DialTimeout: pc.ConnectTimeout,
		})
	}

	c := &Client{
		rdb:      rdb,
		provider: pc,
		prefix:   pc.KeyPrefix,
		logger:   logger.With("component", "store", "provider", pc.Provider),
	}
	c.status.Store(StatusConnecting)
	return c
}

// Redis возвращает низкоуровневый клиент (используется очередью jobs).
func (c *Client) Redis() redis.UniversalClient {
	return c.rdb
}

// Topology возвращает топологию подключения.
func (c *Client) Topology() Topology {
	return c.provider.Topology
}

// Provider возвращает выбранного провайдера.
func (c *Client) Provider() ProviderID {
	return c.provider.Provider
}

// Status возвращает последнее известное состояние подключения.
func (c *Client) Status() Status {
	return c.status.Load().(Status)
}

func (c *Client) key(k string) string {
	return c.prefix + k
}

// Get возвращает значение ключа. Отсутствующий ключ — ("", false, nil).
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

// Set безусловно записывает значение с TTL.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent атомарно записывает значение, если ключа нет (SET NX EX).
// Возвращает true, если запись создана этим вызовом.
func (c *Client) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set if absent %s: %w", key, err)
	}
	return ok, nil
}

// Scan лениво перечисляет ключи по шаблону. Каждый вызов начинает обход заново.
// В cluster топологии обходятся все master узлы. Ключи возвращаются без префикса.
func (c *Client) Scan(ctx context.Context, pattern string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		nodes, err := c.scanNodes(ctx)
		if err != nil {
			yield("", err)
			return
		}

		for _, node := range nodes {
			var cursor uint64
			for {
				keys, next, err := node.Scan(ctx, cursor, c.key(pattern), scanBatch).Result()
				if err != nil {
					yield("", fmt.Errorf("scan %s: %w", pattern, err))
					return
				}
				for _, k := range keys {
					if !yield(strings.TrimPrefix(k, c.prefix), nil) {
						return
					}
				}
				if next == 0 {
					break
				}
				cursor = next
			}
		}
	}
}

// scanNodes возвращает узлы для обхода: сам клиент для single,
// все master узлы для cluster.
func (c *Client) scanNodes(ctx context.Context) ([]redis.Cmdable, error) {
	cluster, ok := c.rdb.(*redis.ClusterClient)
	if !ok {
		return []redis.Cmdable{c.rdb}, nil
	}

	var (
		mu    sync.Mutex
		nodes []redis.Cmdable
	)
	err := cluster.ForEachMaster(ctx, func(_ context.Context, node *redis.Client) error {
		mu.Lock()
		nodes = append(nodes, node)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list masters: %w", err)
	}
	return nodes, nil
}

// IsReady проверяет подключение через PING и обновляет статус.
// Закрытый клиент не готов и статус не меняет.
func (c *Client) IsReady(ctx context.Context) bool {
	if c.Status() == StatusClosed {
		return false
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.status.Store(StatusError)
		return false
	}
	c.status.Store(StatusReady)
	return true
}

// AwaitReadiness ждёт готовности хранилища.
// По истечении timeout возвращает ErrBackendUnavailable — процесс не должен стартовать.
func (c *Client) AwaitReadiness(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	for {
		if c.IsReady(ctx) {
			c.logger.Info("store is ready", "topology", c.provider.Topology)
			return nil
		}

		select {
		case <-ctx.Done():
			c.logger.Error("store is not ready", "timeout", timeout)
			return fmt.Errorf("%w: not ready after %s", ErrBackendUnavailable, timeout)
		case <-ticker.C:
		}
	}
}

// Shutdown закрывает подключение.
func (c *Client) Shutdown() error {
	c.status.Store(StatusClosed)
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
