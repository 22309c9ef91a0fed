package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMode selects the remote store topology.
type RedisMode string

const (
	RedisSingle   RedisMode = "single"
	RedisSentinel RedisMode = "sentinel"
	RedisCluster  RedisMode = "cluster"
)

// RedisConfig configures the L2 connection.
type RedisConfig struct {
	Mode       RedisMode
	Addr       string   // single-node address
	Addrs      []string // sentinel or cluster node list
	MasterName string   // sentinel master
	Password   string
	DB         int
}

// RemoteClient is the minimal Redis surface the tiered cache needs.
// redis.Client, redis.ClusterClient and the sentinel failover client all
// satisfy redis.UniversalClient, which covers this.
type RemoteClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// NewRemoteClient connects to Redis in the configured mode and verifies the
// connection with a ping.
func NewRemoteClient(cfg RedisConfig) (RemoteClient, error) {
	var client redis.UniversalClient
	switch cfg.Mode {
	case RedisSentinel:
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			DialTimeout:   3 * time.Second,
			ReadTimeout:   2 * time.Second,
			WriteTimeout:  2 * time.Second,
		})
	case RedisCluster:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Password:     cfg.Password,
			DialTimeout:  3 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
	default:
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  3 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
			PoolSize:     20,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", cfg.Mode, err)
	}

	slog.Info("Redis connected", "mode", string(cfg.Mode), "addr", cfg.Addr)
	return client, nil
}
