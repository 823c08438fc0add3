package account

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/poemonsense/warp-proxy-go/internal/utils"
)

const redisAccountPrefix = "warp:accounts:"

// RedisStore persists the durable account subset in Redis, one hash-free
// JSON value per account under warp:accounts:<name>. Semantics mirror the
// file store; selection order stays lexicographic by name.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings the server
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// LoadAll scans warp:accounts:* and returns accounts sorted by name
func (s *RedisStore) LoadAll() ([]*Account, error) {
	ctx := context.Background()

	var keys []string
	iter := s.client.Scan(ctx, 0, redisAccountPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(keys)

	accounts := make([]*Account, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			utils.Warn("[Store] Skipping unreadable redis account %s: %v", key, err)
			continue
		}
		var af accountFile
		if err := json.Unmarshal(data, &af); err != nil || af.Name == "" {
			utils.Warn("[Store] Skipping malformed redis account %s: %v", key, err)
			continue
		}
		accounts = append(accounts, af.toAccount())
	}

	return accounts, nil
}

// Save writes one account's durable fields
func (s *RedisStore) Save(a *Account) error {
	af := fromAccount(a)
	data, err := json.Marshal(af)
	if err != nil {
		return err
	}
	return s.client.Set(context.Background(), redisAccountPrefix+SanitizeName(a.Name), data, 0).Err()
}

// Delete removes one account record
func (s *RedisStore) Delete(name string) error {
	return s.client.Del(context.Background(), redisAccountPrefix+SanitizeName(name)).Err()
}

// Close releases the underlying connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
