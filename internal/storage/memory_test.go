package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/shortlink/internal/shortlink"
	"github.com/koopa0/shortlink/internal/storage"
)

// TestMemoryLinks 測試內存持久存儲的語義與 Postgres 版一致
func TestMemoryLinks(t *testing.T) {
	links := storage.NewMemoryLinks()
	ctx := context.Background()

	require.NoError(t, links.Create(ctx, &shortlink.ShortLink{
		Code:      "mem001",
		TargetURL: "https://example.com/m",
		CreatedAt: time.Now(),
	}))
	assert.ErrorIs(t, links.Create(ctx, &shortlink.ShortLink{Code: "mem001"}), shortlink.ErrCodeExists)

	_, err := links.Get(ctx, "zzz999")
	assert.ErrorIs(t, err, shortlink.ErrNotFound)

	require.NoError(t, links.AddVisits(ctx, "mem001", 2))
	require.NoError(t, links.AddVisits(ctx, "mem001", 3))
	got, err := links.Get(ctx, "mem001")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.VisitCount)

	// 返回的是副本：改寫它不能繞過 AddVisits
	got.VisitCount = 999
	again, err := links.Get(ctx, "mem001")
	require.NoError(t, err)
	assert.Equal(t, int64(5), again.VisitCount)
}

// TestMemoryCounters 測試內存計數存儲的 take-and-reset 語義
func TestMemoryCounters(t *testing.T) {
	counters := storage.NewMemoryCounters()
	ctx := context.Background()

	_, err := counters.Increment(ctx, "mem001", 4)
	require.NoError(t, err)

	taken, err := counters.TakeAndReset(ctx, "mem001")
	require.NoError(t, err)
	assert.Equal(t, int64(4), taken)

	again, err := counters.TakeAndReset(ctx, "mem001")
	require.NoError(t, err)
	assert.Zero(t, again)

	pending, err := counters.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestMemoryVisits 測試內存明細存儲：新的在前、有條數上限
func TestMemoryVisits(t *testing.T) {
	visits := storage.NewMemoryVisits()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, visits.Record(ctx, &shortlink.Visit{
			Code:      "mem001",
			IPAddress: "203.0.113.9",
			UserAgent: "curl/8.0",
			VisitedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	recent, err := visits.Recent(ctx, "mem001", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.True(t, recent[0].VisitedAt.After(recent[2].VisitedAt))

	none, err := visits.Recent(ctx, "zzz999", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestMemoryLease 測試內存租約的互斥語義
func TestMemoryLease(t *testing.T) {
	lease := storage.NewMemoryLease()
	ctx := context.Background()

	held, err := lease.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	// 已被持有：再取失敗
	held, err = lease.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, lease.Renew(ctx))
	require.NoError(t, lease.Release(ctx))

	held, err = lease.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, held, "released lease can be re-acquired")
}
