package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lease.lua
var releaseLeaseScript string

//go:embed scripts/extend_lease.lua
var extendLeaseScript string

const credentialsKey = "affiliate:credentials"

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	extendScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLeaseScript),
		extendScript:  redis.NewScript(extendLeaseScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func leaseKey(name string) string {
	return fmt.Sprintf("lease:%s", name)
}

// AcquireLease takes the named lease with SET NX; the ttl expiry recovers leases
// left behind by crashed runs
func (c *Client) AcquireLease(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()

	ok, err := c.rdb.SetNX(ctx, leaseKey(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease failed: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLease deletes the lease only if token still owns it
func (c *Client) ReleaseLease(ctx context.Context, name, token string) error {
	if err := c.releaseScript.Run(ctx, c.rdb, []string{leaseKey(name)}, token).Err(); err != nil {
		return fmt.Errorf("release lease script failed: %w", err)
	}
	return nil
}

// ExtendLease pushes the lease expiry forward for long runs.
// It returns false when the lease is no longer owned by token.
func (c *Client) ExtendLease(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	result, err := c.extendScript.Run(ctx, c.rdb, []string{leaseKey(name)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lease script failed: %w", err)
	}
	return result == 1, nil
}

// GetCredentials returns the cached credential rows, if present
func (c *Client) GetCredentials(ctx context.Context) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, credentialsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// SetCredentials caches the credential rows
func (c *Client) SetCredentials(ctx context.Context, data []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, credentialsKey, data, ttl).Err()
}

// InvalidateCredentials drops the cached credential rows
func (c *Client) InvalidateCredentials(ctx context.Context) error {
	return c.rdb.Del(ctx, credentialsKey).Err()
}
