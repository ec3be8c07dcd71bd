package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/logger"
	"switchboard/internal/usecase/cluster"
)

// redisAdapter wraps a go-redis client to implement cluster.RedisClient.
type redisAdapter struct {
	client *goredis.Client
}

func (r *redisAdapter) Publish(ctx context.Context, channel string, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

func (r *redisAdapter) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	sub := r.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so connection errors surface here.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	ch := make(chan string, 64)
	go func() {
		defer close(ch)
		defer sub.Close()
		msgCh := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case ch <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (r *redisAdapter) Close() error {
	return r.client.Close()
}

// initCluster connects to Redis and starts relaying bus events. It returns
// nil when clustering is disabled.
func initCluster(ctx context.Context, cfg config.ClusterConfig, bus domain.EventBus, log *slog.Logger) (*cluster.Relay, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse cluster redis URL: %w", err)
	}
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cluster redis ping: %w", err)
	}

	nodeID := clusterNodeID(cfg.NodeID)
	relay := cluster.NewRelay(&redisAdapter{client: rdb}, bus,
		cluster.Config{NodeID: nodeID, Channel: cfg.Channel}, logger.Component(log, "cluster"))
	if err := relay.Start(ctx); err != nil {
		rdb.Close()
		return nil, err
	}
	return relay, nil
}

// clusterNodeID returns configured, or a hostname-plus-pid identifier.
func clusterNodeID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// pingRedis connects to url once and pings it.
func pingRedis(ctx context.Context, url string) error {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return err
	}
	rdb := goredis.NewClient(opts)
	defer rdb.Close()
	return rdb.Ping(ctx).Err()
}
