package repository

import (
	"context"
	"strconv"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

type txKey struct{}

// withTx 把加锁所在的事务放进 ctx，锁内的仓储调用复用同一个连接
func withTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// conn ctx 中带有事务时用事务，否则用连接池
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// AdvisoryLocker 基于 pg_try_advisory_xact_lock 的非阻塞互斥
// 锁挂在事务上，fn 返回（或进程崩溃、连接断开）后由数据库自动释放。
// fn 拿到的 ctx 携带该事务，仓储方法通过 conn 复用它，一次打标只占一个连接
type AdvisoryLocker struct {
	db *gorm.DB
}

func NewAdvisoryLocker(db *gorm.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// TryWithLock 拿到锁则执行 fn；拿不到直接返回 false，不排队
func (l *AdvisoryLocker) TryWithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) (bool, error) {
	acquired := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw("SELECT pg_try_advisory_xact_lock(?)", key).Scan(&acquired).Error; err != nil {
			return err
		}
		if !acquired {
			return nil
		}
		return fn(withTx(ctx, tx))
	})
	return acquired, err
}

// MemoryLocker 单实例部署用的进程内互斥。
// go-cache 的 Add 在 key 已存在时失败，正好用作 try-lock；条目永不过期，只有持有者在 fn 返回后删除
type MemoryLocker struct {
	held *cache.Cache
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: cache.New(cache.NoExpiration, 0)}
}

func (l *MemoryLocker) TryWithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) (bool, error) {
	k := strconv.FormatInt(key, 10)
	if err := l.held.Add(k, struct{}{}, cache.NoExpiration); err != nil {
		return false, nil
	}
	defer l.held.Delete(k)
	return true, fn(ctx)
}
