package store

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ProviderID — идентификатор провайдера хранилища.
type ProviderID string

const (
	ProviderRedis        ProviderID = "redis"
	ProviderRedisCluster ProviderID = "redis-cluster"
	ProviderElastiCache  ProviderID = "elasticache"
	ProviderMemoryDB     ProviderID = "memorydb"
	ProviderAzureCache   ProviderID = "azure-cache-for-redis"
)

// IsCluster возвращает true для провайдеров с кластерной топологией.
// Только их можно выбрать явно через CACHE_PROVIDER_ID.
func (p ProviderID) IsCluster() bool {
	switch p {
	case ProviderRedisCluster, ProviderElastiCache, ProviderMemoryDB, ProviderAzureCache:
		return true
	default:
		return false
	}
}

// Topology — форма развёртывания хранилища.
type Topology string

const (
	TopologySingle  Topology = "single"
	TopologyCluster Topology = "cluster"
)

const (
	defaultHost = "localhost"
	defaultPort = 6379
)

// ProviderConfig — конфигурация подключения к выбранному провайдеру.
type ProviderConfig struct {
	Provider ProviderID
	Topology Topology

	Host     string
	Ports    []int
	Username string
	Password string

	// DB — номер базы (только single).
	DB int

	TLS bool

	// AutoPipelining — флаг конфигурации. go-redis не имеет
	// автоматического пайплайнинга, флаг только логируется.
	AutoPipelining bool

	KeyPrefix      string
	ConnectTimeout time.Duration
}

// Addrs возвращает адреса узлов в формате host:port.
func (c *ProviderConfig) Addrs() []string {
	addrs := make([]string, 0, len(c.Ports))
	for _, port := range c.Ports {
		addrs = append(addrs, net.JoinHostPort(c.Host, strconv.Itoa(port)))
	}
	return addrs
}

// Validate проверяет, что заданы хост и хотя бы один порт.
func (c *ProviderConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: %s: host is required", ErrInvalidProviderConfig, c.Provider)
	}
	if len(c.Ports) == 0 {
		return fmt.Errorf("%w: %s: at least one port is required", ErrInvalidProviderConfig, c.Provider)
	}
	return nil
}

// parsePorts разбирает список портов через запятую.
// Некорректные значения пропускаются, Validate отклонит пустой результат.
func parsePorts(raw string) []int {
	var ports []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			continue
		}
		ports = append(ports, port)
	}
	return ports
}
