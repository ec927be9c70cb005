package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

const sharedWorkTimeout = 3 * time.Minute

// coalesce 合并同 key 的并发调用。
// 共享的工作跑在脱离发起方取消的 ctx 上（保留其中的值，另加超时），每个调用方只等待自己的 ctx
func coalesce(ctx context.Context, g *singleflight.Group, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ch := g.DoChan(key, func() (interface{}, error) {
		work, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedWorkTimeout)
		defer cancel()
		return fn(work)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
