package utils

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry[T any] struct {
	Value     T
	ExpiredAt time.Time
}

// TTLCache 带过期时间的 LRU 缓存，并发安全。ttl <= 0 时不缓存
type TTLCache[T any] struct {
	storage *lru.Cache[string, cacheEntry[T]]
	ttl     time.Duration
	now     func() time.Time
	gen     atomic.Uint64 // 每次失效加一
}

// NewTTLCache size 是最大条数，ttl 是有效期
func NewTTLCache[T any](size int, ttl time.Duration) *TTLCache[T] {
	if size <= 0 {
		size = 128
	}
	c, _ := lru.New[string, cacheEntry[T]](size)
	return &TTLCache[T]{storage: c, ttl: ttl, now: time.Now}
}

// Set 写入或覆盖
func (c *TTLCache[T]) Set(key string, value T) {
	if c.ttl <= 0 {
		return
	}
	c.storage.Add(key, cacheEntry[T]{Value: value, ExpiredAt: c.now().Add(c.ttl)})
}

// GetOrLoad 命中则返回缓存值，否则调用 load 并写入；refresh 为 true 时跳过读缓存。
// load 期间发生过 Delete 或 Clear 时结果不写入，避免把失效前算出的值放回去
func (c *TTLCache[T]) GetOrLoad(key string, refresh bool, load func() (T, error)) (T, error) {
	if !refresh {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
	}
	gen := c.gen.Load()
	v, err := load()
	if err != nil {
		return v, err
	}
	if c.gen.Load() == gen {
		c.Set(key, v)
	}
	return v, nil
}

// Get 读取，过期的条目会被删除
func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	item, ok := c.storage.Get(key)
	if !ok {
		return zero, false
	}
	if c.now().After(item.ExpiredAt) {
		c.storage.Remove(key)
		return zero, false
	}
	return item.Value, true
}

func (c *TTLCache[T]) Delete(key string) {
	c.gen.Add(1)
	c.storage.Remove(key)
}

// Clear 清空
func (c *TTLCache[T]) Clear() {
	c.gen.Add(1)
	c.storage.Purge()
}

func (c *TTLCache[T]) Len() int {
	return c.storage.Len()
}
