package store

import (
	"log/slog"

	"github.com/shaiso/Herald/internal/config"
)

// Selector выбирает провайдера хранилища.
//
// Порядок:
//  1. Явный провайдер (CACHE_PROVIDER_ID) с кластерной топологией.
//     Некорректная конфигурация — фатальная ошибка, кроме community mode.
//  2. Cluster mode: elasticache, затем redis-cluster (legacy переменные).
//  3. Одиночный Redis. Всегда успешен.
type Selector struct {
	cfg    *config.Store
	logger *slog.Logger
}

// NewSelector создаёт Selector.
func NewSelector(cfg *config.Store, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		cfg:    cfg,
		logger: logger.With("component", "store-selector"),
	}
}

// Select возвращает конфигурацию выбранного провайдера.
func (s *Selector) Select() (*ProviderConfig, error) {
	pc, err := s.selectProvider()
	if err != nil {
		return nil, err
	}

	s.logger.Info("cache provider selected",
		"provider", pc.Provider,
		"topology", pc.Topology,
		"nodes", len(pc.Ports),
		"auto_pipelining", pc.AutoPipelining,
	)
	return pc, nil
}

func (s *Selector) selectProvider() (*ProviderConfig, error) {
	// 1. Явный провайдер
	if id := ProviderID(s.cfg.ProviderID); id.IsCluster() {
		pc := s.explicit(id)
		err := pc.Validate()
		if err == nil {
			return pc, nil
		}
		if !s.cfg.CommunityMode {
			return nil, err
		}
		s.logger.Warn("explicit cache provider is invalid, using single instance", "error", err)
		return s.single(), nil
	} else if s.cfg.ProviderID != "" {
		s.logger.Warn("unsupported cache provider id, ignoring", "provider", s.cfg.ProviderID)
	}

	// 2. Legacy cluster mode
	s.logger.Info("cluster mode", "enabled", s.cfg.ClusterModeEnabled)
	if s.cfg.ClusterModeEnabled {
		for _, pc := range []*ProviderConfig{s.elastiCache(), s.redisCluster()} {
			if err := pc.Validate(); err != nil {
				s.logger.Debug("cluster provider skipped", "provider", pc.Provider, "error", err)
				continue
			}
			return pc, nil
		}
	}

	// 3. Single instance
	return s.single(), nil
}

func (s *Selector) explicit(id ProviderID) *ProviderConfig {
	return &ProviderConfig{
		Provider:       id,
		Topology:       TopologyCluster,
		Host:           s.cfg.Host,
		Ports:          parsePorts(s.cfg.Ports),
		Username:       s.cfg.Username,
		Password:       s.cfg.Password,
		TLS:            s.cfg.TLS,
		AutoPipelining: s.cfg.AutoPipelining,
		KeyPrefix:      s.cfg.KeyPrefix,
		ConnectTimeout: s.cfg.ConnectTimeout,
	}
}

func (s *Selector) elastiCache() *ProviderConfig {
	return &ProviderConfig{
		Provider:       ProviderElastiCache,
		Topology:       TopologyCluster,
		Host:           s.cfg.ElastiCacheHost,
		Ports:          parsePorts(s.cfg.ElastiCachePort),
		Password:       s.cfg.ClusterPassword,
		TLS:            s.cfg.ElastiCacheTLS,
		AutoPipelining: s.cfg.AutoPipelining,
		KeyPrefix:      s.cfg.KeyPrefix,
		ConnectTimeout: s.cfg.ConnectTimeout,
	}
}

func (s *Selector) redisCluster() *ProviderConfig {
	return &ProviderConfig{
		Provider:       ProviderRedisCluster,
		Topology:       TopologyCluster,
		Host:           s.cfg.RedisClusterHost,
		Ports:          parsePorts(s.cfg.RedisClusterPorts),
		Password:       s.cfg.ClusterPassword,
		AutoPipelining: s.cfg.AutoPipelining,
		KeyPrefix:      s.cfg.KeyPrefix,
		ConnectTimeout: s.cfg.ConnectTimeout,
	}
}

func (s *Selector) single() *ProviderConfig {
	host := s.cfg.RedisHost
	if host == "" {
		host = defaultHost
	}
	ports := parsePorts(s.cfg.RedisPort)
	if len(ports) == 0 {
		ports = []int{defaultPort}
	}

	return &ProviderConfig{
		Provider:       ProviderRedis,
		Topology:       TopologySingle,
		Host:           host,
		Ports:          ports[:1],
		Password:       s.cfg.RedisPassword,
		DB:             s.cfg.RedisDB,
		TLS:            s.cfg.RedisTLS,
		AutoPipelining: s.cfg.AutoPipelining,
		KeyPrefix:      s.cfg.KeyPrefix,
		ConnectTimeout: s.cfg.ConnectTimeout,
	}
}
