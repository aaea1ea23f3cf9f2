package shortlink_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/shortlink/internal/shortlink"
	"github.com/koopa0/shortlink/internal/testutils"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestService(links *testutils.FakeLinkStore, counters *testutils.FakeCounterStore) *shortlink.Service {
	return shortlink.New(links, counters, nil, testLogger(), shortlink.Options{
		CacheCapacity:  16,
		CounterTimeout: 100 * time.Millisecond,
	})
}

// TestResolve_Basic 測試解析的基本路徑
func TestResolve_Basic(t *testing.T) {
	links := testutils.NewFakeLinkStore()
	counters := testutils.NewFakeCounterStore()
	svc := newTestService(links, counters)

	ctx := context.Background()
	_, err := svc.Create(ctx, "abc123", "https://example.com/x", "")
	require.NoError(t, err)

	t.Run("resolve returns target url", func(t *testing.T) {
		target, err := svc.Resolve(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/x", target)
	})

	t.Run("each resolution increments delta", func(t *testing.T) {
		before := counters.Delta("abc123")
		_, err := svc.Resolve(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, before+1, counters.Delta("abc123"))
	})

	t.Run("unknown code returns ErrNotFound without counter entry", func(t *testing.T) {
		_, err := svc.Resolve(ctx, "zzz999")
		assert.ErrorIs(t, err, shortlink.ErrNotFound)
		assert.Zero(t, counters.Delta("zzz999"))
	})
}

// TestResolve_CacheBehavior 測試讀穿透快取
func TestResolve_CacheBehavior(t *testing.T) {
	links := testutils.NewFakeLinkStore()
	counters := testutils.NewFakeCounterStore()
	svc := newTestService(links, counters)

	ctx := context.Background()
	_, err := svc.Create(ctx, "cache1", "https://example.com/cached", "")
	require.NoError(t, err)

	t.Run("second resolution served from cache", func(t *testing.T) {
		_, err := svc.Resolve(ctx, "cache1")
		require.NoError(t, err)
		callsAfterMiss := links.GetCalls.Load()

		target, err := svc.Resolve(ctx, "cache1")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/cached", target)
		assert.Equal(t, callsAfterMiss, links.GetCalls.Load(),
			"cache hit should not touch the durable store")
	})

	t.Run("cached entry survives store outage", func(t *testing.T) {
		// 快取命中時持久存儲掛了也照常解析
		links.FailError = errors.New("postgres down")
		links.FailGet.Store(100)
		defer links.FailGet.Store(0)

		target, err := svc.Resolve(ctx, "cache1")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/cached", target)
	})
}

// TestResolve_CounterBestEffort 測試計數增量的盡力而為語義
func TestResolve_CounterBestEffort(t *testing.T) {
	links := testutils.NewFakeLinkStore()
	counters := testutils.NewFakeCounterStore()
	svc := newTestService(links, counters)

	ctx := context.Background()
	_, err := svc.Create(ctx, "besteff", "https://example.com/y", "")
	require.NoError(t, err)

	// 計數存儲不可達：重定向必須照常成功
	counters.FailError = errors.New("redis down")
	counters.FailIncrement.Store(1)

	target, err := svc.Resolve(ctx, "besteff")
	require.NoError(t, err, "counter outage must never fail the redirect")
	assert.Equal(t, "https://example.com/y", target)
	assert.Zero(t, counters.Delta("besteff"), "the lost increment is gone, not retried")

	// 恢復後計數繼續累積
	_, err = svc.Resolve(ctx, "besteff")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters.Delta("besteff"))
}

// TestResolve_DurableStoreFailure 測試持久存儲故障在快取未命中時上拋
func TestResolve_DurableStoreFailure(t *testing.T) {
	links := testutils.NewFakeLinkStore()
	counters := testutils.NewFakeCounterStore()
	svc := newTestService(links, counters)

	ctx := context.Background()
	_, err := svc.Create(ctx, "down1", "https://example.com/z", "")
	require.NoError(t, err)

	links.FailError = errors.New("postgres down")
	links.FailGet.Store(1)

	_, err = svc.Resolve(ctx, "down1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, shortlink.ErrNotFound,
		"store outage must not masquerade as a missing code")
}

// TestResolve_ConcurrentVisits 測試併發解析不丟計數
func TestResolve_ConcurrentVisits(t *testing.T) {
	links := testutils.NewFakeLinkStore()
	counters := testutils.NewFakeCounterStore()
	svc := newTestService(links, counters)

	ctx := context.Background()
	_, err := svc.Create(ctx, "hot001", "https://example.com/hot", "")
	require.NoError(t, err)

	const goroutines = 20
	const visitsEach = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < visitsEach; j++ {
				_, err := svc.Resolve(ctx, "hot001")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines*visitsEach), counters.Delta("hot001"),
		"no visit may be lost under concurrency")
}

// TestResolve_CacheEviction 測試容量上限下被淘汰的條目重新回源
func TestResolve_CacheEviction(t *testing.T) {
	links := testutils.NewFakeLinkStore()
	counters := testutils.NewFakeCounterStore()
	svc := shortlink.New(links, counters, nil, testLogger(), shortlink.Options{
		CacheCapacity:  2,
		CounterTimeout: 100 * time.Millisecond,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		code := fmt.Sprintf("evict%d", i)
		_, err := svc.Create(ctx, code, fmt.Sprintf("https://example.com/%d", i), "")
		require.NoError(t, err)
		_, err = svc.Resolve(ctx, code)
		require.NoError(t, err)
	}

	// evict0 已被淘汰，再次解析會回源但結果不變
	target, err := svc.Resolve(ctx, "evict0")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/0", target)
}
