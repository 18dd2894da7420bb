package infra

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/onlinebank/onlinebank/internal/config"
)

// RedisOptions carries the connection URL and client tuning.
type RedisOptions struct {
	URL        string
	ClientName string
	Pool       config.RedisPool
}

// NewRedisClient builds a tuned Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	opt, err := redisOptions(opts)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func redisOptions(opts RedisOptions) (*redis.Options, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	p := opts.Pool
	if p.PoolSize > 0 {
		opt.PoolSize = p.PoolSize
	}
	if p.MinIdleConns > 0 {
		opt.MinIdleConns = p.MinIdleConns
	}
	if p.DialTimeout > 0 {
		opt.DialTimeout = p.DialTimeout
	}
	if p.ReadTimeout > 0 {
		opt.ReadTimeout = p.ReadTimeout
	}
	if p.WriteTimeout > 0 {
		opt.WriteTimeout = p.WriteTimeout
	}
	if p.PoolTimeout > 0 {
		opt.PoolTimeout = p.PoolTimeout
	}
	if opts.ClientName != "" && opt.ClientName == "" {
		opt.ClientName = opts.ClientName
	}
	return opt, nil
}
