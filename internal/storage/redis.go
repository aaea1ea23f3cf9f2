// Package storage 實現核心接口的各種存儲後端
//
// 存儲架構：
//   - PostgreSQL：持久存儲（短網址記錄、已提交的訪問計數）
//   - Redis：快速計數存儲（待合併的訪問 delta）與對帳租約
//   - Memory：開發與單元測試用
package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/shortlink/internal/shortlink"
)

// delta key 的 TTL。
//
// 為什麼要 TTL？防止廢棄短碼的 key 永久占用記憶體。
// 為什麼這麼長？delta key 在兩輪對帳之間絕不能悄悄過期，
// 否則就是丟計數；TTL 遠大於對帳間隔（5 分鐘），且每次
// 增量都會刷新。7 天與快取鏡像的 TTL 對齊。
const deltaTTL = 7 * 24 * time.Hour

// RedisCounters 基於 Redis 的快速計數存儲
//
// 系統設計考量：
//
//  1. 為什麼用 Redis 存 delta？
//     - INCRBY 是原子操作（單線程模型），併發訪問同一短碼不丟更新
//     - delta 活在所有 API 進程之外，單進程崩潰不丟已記錄的訪問
//     - 內存操作，熱路徑上的增量 < 1ms
//
//  2. 為什麼 take-and-reset 用 Lua？
//     GET + DEL 是兩次往返，中間落地的增量會被 DEL 抹掉。
//     Lua 腳本在 Redis 內單步執行，取值與清零之間不可能
//     插進任何增量。
type RedisCounters struct {
	client    *redis.Client
	keyPrefix string
	take      *redis.Script
}

// Lua 腳本：原子取走並清零
//
// KEYS[1]: delta key
//
// 返回值：取走前的 delta（key 不存在時為 0）
var takeAndResetScript = `
local v = redis.call('GET', KEYS[1])
if not v then
    return 0
end
redis.call('DEL', KEYS[1])
return tonumber(v)
`

// NewRedisCounters 創建 Redis 計數存儲
func NewRedisCounters(client *redis.Client) *RedisCounters {
	return &RedisCounters{
		client:    client,
		keyPrefix: "visits:",
		take:      redis.NewScript(takeAndResetScript),
	}
}

// Increment 原子增量，返回新值。
//
// TTL 在同一個 pipeline 裡刷新：只要短碼還有流量，
// 它的 delta 就不會過期。
func (rc *RedisCounters) Increment(ctx context.Context, code string, by int64) (int64, error) {
	key := rc.keyPrefix + code

	pipe := rc.client.Pipeline()
	incr := pipe.IncrBy(ctx, key, by)
	pipe.Expire(ctx, key, deltaTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incrby: %w", err)
	}

	return incr.Val(), nil
}

// TakeAndReset 原子取走當前 delta 並清零。
func (rc *RedisCounters) TakeAndReset(ctx context.Context, code string) (int64, error) {
	v, err := rc.take.Run(ctx, rc.client, []string{rc.keyPrefix + code}).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis take-and-reset: %w", err)
	}
	return v, nil
}

// Pending 掃描所有有 delta 的短碼。
//
// 用 SCAN 而非 KEYS：KEYS 會阻塞整個 Redis，
// SCAN 分批遊標遍歷，對線上流量友好。
func (rc *RedisCounters) Pending(ctx context.Context) ([]string, error) {
	var codes []string
	var cursor uint64

	for {
		keys, next, err := rc.client.Scan(ctx, cursor, rc.keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}

		for _, key := range keys {
			codes = append(codes, key[len(rc.keyPrefix):])
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return codes, nil
}

// RedisLease 基於 Redis 的對帳租約
//
// 實作策略：
//   - Acquire：SET key owner NX EX ttl（占用且帶過期）
//   - Renew / Release：Lua 先驗 owner 再操作
//
// 為什麼 Renew 和 Release 要驗 owner？
// 租約過期後可能已被別的進程取得；不驗 owner 的 EXPIRE/DEL
// 會續期或釋放「別人的」租約，互斥就破了。
type RedisLease struct {
	client  *redis.Client
	key     string
	owner   string
	ttl     time.Duration
	renew   *redis.Script
	release *redis.Script
}

// Lua 腳本：持有者才能續期
var leaseRenewScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    redis.call('EXPIRE', KEYS[1], ARGV[2])
    return 1
end
return 0
`

// Lua 腳本：持有者才能釋放
var leaseReleaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// NewRedisLease 創建對帳租約
//
// owner token 由主機名＋進程 ID＋隨機數組成，
// 叢集內唯一標識這個持有者。
func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = "reconcile:lease"
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	hostname, _ := os.Hostname()
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)

	return &RedisLease{
		client:  client,
		key:     key,
		owner:   fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), hex.EncodeToString(buf)),
		ttl:     ttl,
		renew:   redis.NewScript(leaseRenewScript),
		release: redis.NewScript(leaseReleaseScript),
	}
}

// Acquire 嘗試取得租約。
// 已被占用返回 false（預期情況，非錯誤）。
func (rl *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := rl.client.SetNX(ctx, rl.key, rl.owner, rl.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lease acquire: %w", err)
	}
	return ok, nil
}

// Renew 延長自己持有的租約。
func (rl *RedisLease) Renew(ctx context.Context) error {
	ok, err := rl.renew.Run(ctx, rl.client, []string{rl.key}, rl.owner, int(rl.ttl.Seconds())).Int64()
	if err != nil {
		return fmt.Errorf("redis lease renew: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("lease expired or taken over")
	}
	return nil
}

// Release 釋放自己持有的租約。
func (rl *RedisLease) Release(ctx context.Context) error {
	if _, err := rl.release.Run(ctx, rl.client, []string{rl.key}, rl.owner).Result(); err != nil {
		return fmt.Errorf("redis lease release: %w", err)
	}
	return nil
}

// 編譯期檢查：確保實作滿足核心接口
var (
	_ shortlink.CounterStore = (*RedisCounters)(nil)
	_ shortlink.Lease        = (*RedisLease)(nil)
)
