package redisstore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

// New connects to Redis, retrying the initial ping a few times.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MaxRetries:   3,
	})

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		err := rdb.Ping(ctx).Err()
		if err == nil {
			log.Printf("redis connected addr=%s db=%d", addr, db)
			return &Store{rdb: rdb}, nil
		}
		log.Printf("redis ping failed (attempt %d/%d): %v", i+1, maxRetries, err)
		if i == maxRetries-1 {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis after %d attempts: %w", maxRetries, err)
		}
		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return &Store{rdb: rdb}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

// PSubscribe subscribes to a channel pattern. Call the returned func to stop.
func (s *Store) PSubscribe(ctx context.Context, pattern string) (<-chan *redis.Message, func()) {
	ps := s.rdb.PSubscribe(ctx, pattern)
	return ps.Channel(), func() { _ = ps.Close() }
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
