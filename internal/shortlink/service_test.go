package shortlink_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/shortlink/internal/shortlink"
	"github.com/koopa0/shortlink/internal/testutils"
)

// TestCreate 測試短網址創建與校驗
func TestCreate(t *testing.T) {
	links := testutils.NewFakeLinkStore()
	counters := testutils.NewFakeCounterStore()
	svc := newTestService(links, counters)
	ctx := context.Background()

	t.Run("valid link", func(t *testing.T) {
		link, err := svc.Create(ctx, "go1234", "https://go.dev/doc", "koopa")
		require.NoError(t, err)
		assert.Equal(t, "go1234", link.Code)
		assert.Equal(t, "https://go.dev/doc", link.TargetURL)
		assert.Equal(t, "koopa", link.Owner)
		assert.Zero(t, link.VisitCount)
		assert.False(t, link.CreatedAt.IsZero())
	})

	t.Run("duplicate code", func(t *testing.T) {
		_, err := svc.Create(ctx, "go1234", "https://go.dev/blog", "")
		assert.ErrorIs(t, err, shortlink.ErrCodeExists)
	})

	t.Run("rejects invalid targets", func(t *testing.T) {
		for _, target := range []string{
			"",
			"not-a-url",
			"ftp://example.com/file",
			"https://",
			"http://localhost:8080/admin",
			"http://127.0.0.1/ping",
			"http://192.168.1.1/router",
		} {
			_, err := svc.Create(ctx, "bad001", target, "")
			assert.ErrorIs(t, err, shortlink.ErrInvalidURL, "target %q", target)
		}
	})
}

// TestStats 測試統計讀取：回報活的總數
func TestStats(t *testing.T) {
	links := testutils.NewFakeLinkStore()
	counters := testutils.NewFakeCounterStore()
	svc := newTestService(links, counters)
	ctx := context.Background()

	_, err := svc.Create(ctx, "stat01", "https://example.com/s", "")
	require.NoError(t, err)

	t.Run("live total includes pending delta", func(t *testing.T) {
		// 已提交 10，未對帳 3
		require.NoError(t, links.AddVisits(ctx, "stat01", 10))
		_, err := counters.Increment(ctx, "stat01", 3)
		require.NoError(t, err)

		link, err := svc.Stats(ctx, "stat01")
		require.NoError(t, err)
		assert.Equal(t, int64(13), link.VisitCount)
	})

	t.Run("reads do not consume the delta", func(t *testing.T) {
		link, err := svc.Stats(ctx, "stat01")
		require.NoError(t, err)
		assert.Equal(t, int64(13), link.VisitCount)
		assert.Equal(t, int64(3), counters.Delta("stat01"))
	})

	t.Run("counter outage falls back to committed count", func(t *testing.T) {
		counters.FailError = errors.New("redis down")
		counters.FailIncrement.Store(1)

		link, err := svc.Stats(ctx, "stat01")
		require.NoError(t, err, "stats degrade instead of failing")
		assert.Equal(t, int64(10), link.VisitCount)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := svc.Stats(ctx, "zzz999")
		assert.ErrorIs(t, err, shortlink.ErrNotFound)
	})
}

// TestListByOwner 測試按擁有者列出短網址
func TestListByOwner(t *testing.T) {
	links := testutils.NewFakeLinkStore()
	counters := testutils.NewFakeCounterStore()
	svc := newTestService(links, counters)
	ctx := context.Background()

	for _, code := range []string{"own001", "own002"} {
		_, err := svc.Create(ctx, code, "https://example.com/"+code, "alice")
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, "own003", "https://example.com/own003", "bob")
	require.NoError(t, err)

	got, err := svc.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	codes := make([]string, len(got))
	for i, l := range got {
		codes[i] = l.Code
	}
	assert.ElementsMatch(t, []string{"own001", "own002"}, codes)

	empty, err := svc.ListByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
