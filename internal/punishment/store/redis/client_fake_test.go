package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// memoryClient serves the commands Store issues from a map. Scripts are
// matched by hash and run in Go under one lock, as Redis runs them
// atomically.
type memoryClient struct {
	redis.UniversalClient

	mu     sync.Mutex
	values map[string]string
}

func newMemoryClient() *memoryClient {
	return &memoryClient{values: make(map[string]string)}
}

func (c *memoryClient) Get(ctx context.Context, key string) *redis.StringCmd {
	if err := ctx.Err(); err != nil {
		return redis.NewStringResult("", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (c *memoryClient) EvalSha(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	if err := ctx.Err(); err != nil {
		return redis.NewCmdResult(nil, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch sha {
	case writeBack.Hash():
		current, ok := c.values[keys[1]]
		if !ok {
			current = "0"
		}
		if current != fmt.Sprint(args[0]) {
			return redis.NewCmdResult(int64(0), nil)
		}
		payload, _ := args[1].([]byte)
		c.values[keys[0]] = string(payload)
		return redis.NewCmdResult(int64(1), nil)
	case bumpVersion.Hash():
		n, _ := strconv.Atoi(c.values[keys[1]])
		c.values[keys[1]] = strconv.Itoa(n + 1)
		delete(c.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(nil, errors.New("ERR unknown script "+sha))
}

func (c *memoryClient) value(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *memoryClient) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}
