package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/songzhibin97/itsm-workflow/types"
)

const workflowPrefix = "workflow:"

// RedisStorage is a Redis-backed implementation of the Storage interface.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStorage{client: client}, nil
}

func workflowKey(id string) string {
	return workflowPrefix + id
}

// SaveWorkflow saves a workflow to Redis.
func (s *RedisStorage) SaveWorkflow(ctx context.Context, def types.WorkflowDefinition) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("failed to marshal workflow %s: %w", def.ID, err)
		}
		key := workflowKey(def.ID)
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %w", key, err)
		}
		return nil
	})
}

// GetWorkflow retrieves a workflow from Redis.
func (s *RedisStorage) GetWorkflow(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	return withContext(ctx, func() (types.WorkflowDefinition, error) {
		key := workflowKey(id)
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return types.WorkflowDefinition{}, fmt.Errorf("%w: key=%s", ErrWorkflowNotFound, key)
		} else if err != nil {
			return types.WorkflowDefinition{}, fmt.Errorf("failed to get %s from Redis: %w", key, err)
		}

		var def types.WorkflowDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return types.WorkflowDefinition{}, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return def, nil
	})
}

// ListWorkflows loads every workflow key and returns the definitions ordered by ID.
func (s *RedisStorage) ListWorkflows(ctx context.Context) ([]types.WorkflowDefinition, error) {
	return withContext(ctx, func() ([]types.WorkflowDefinition, error) {
		keys, err := s.client.Keys(ctx, workflowPrefix+"*").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow keys: %w", err)
		}
		defs := make([]types.WorkflowDefinition, 0, len(keys))
		if len(keys) == 0 {
			return defs, nil
		}

		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load workflows: %w", err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// deleted between KEYS and MGET
				continue
			}
			var def types.WorkflowDefinition
			if err := json.Unmarshal([]byte(raw), &def); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
			}
			defs = append(defs, def)
		}

		sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
		return defs, nil
	})
}

// DeleteWorkflow removes a workflow from Redis.
func (s *RedisStorage) DeleteWorkflow(ctx context.Context, id string) error {
	return withContextError(ctx, func() error {
		key := workflowKey(id)
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: key=%s", ErrWorkflowNotFound, key)
		}
		return nil
	})
}

// SaveWorkflows saves multiple workflows to Redis using pipelining.
func (s *RedisStorage) SaveWorkflows(ctx context.Context, defs []types.WorkflowDefinition) error {
	return withContextError(ctx, func() error {
		pipe := s.client.Pipeline()
		for _, def := range defs {
			data, err := json.Marshal(def)
			if err != nil {
				return fmt.Errorf("failed to marshal workflow %s: %w", def.ID, err)
			}
			pipe.Set(ctx, workflowKey(def.ID), data, 0)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to execute pipeline for workflows: %w", err)
		}
		return nil
	})
}

// PurgeArchived removes archived workflows from Redis and returns their ids.
func (s *RedisStorage) PurgeArchived(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		defs, err := s.ListWorkflows(ctx)
		if err != nil {
			return nil, err
		}

		pipe := s.client.Pipeline()
		purged := []string{}
		for _, def := range defs {
			if def.Status == types.StatusArchived {
				pipe.Del(ctx, workflowKey(def.ID))
				purged = append(purged, def.ID)
			}
		}
		if len(purged) == 0 {
			return purged, nil
		}

		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to execute pipeline for deletion: %w", err)
		}
		return purged, nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

var (
	_ Storage       = (*RedisStorage)(nil)
	_ BatchSaver    = (*RedisStorage)(nil)
	_ ArchivePurger = (*RedisStorage)(nil)
)
