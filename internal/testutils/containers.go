// Package testutils 提供測試用的共用工具
//
// 本套件管理測試容器（testcontainers）：
//   - Redis 測試容器（快速計數存儲、租約）
//   - PostgreSQL 測試容器（持久存儲）＋ schema 建立
//
// 所有測試容器都會在測試結束時自動清理。
package testutils

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/koopa0/shortlink/internal/migrations"
)

// TestEnvironment 封裝測試環境
type TestEnvironment struct {
	RedisClient    *redis.Client
	PostgresPool   *pgxpool.Pool
	RedisContainer tc.Container
	PgContainer    tc.Container
	RedisAddr      string
	PostgresDSN    string
	Logger         *slog.Logger
	ctx            context.Context
}

// SetupTestEnvironment 設置完整的測試環境
//
// 啟動 Redis 與 PostgreSQL 容器、建立 schema、註冊清理。
func SetupTestEnvironment(t testing.TB) *TestEnvironment {
	t.Helper()

	ctx := context.Background()
	env := &TestEnvironment{
		ctx: ctx,
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn, // 測試時減少日誌噪音
		})),
	}

	env.setupRedis(t)
	env.setupPostgreSQL(t)

	t.Cleanup(func() {
		env.Cleanup()
	})

	return env
}

// SetupRedisOnly 只啟動 Redis（租約與計數存儲的測試不需要 Postgres）
func SetupRedisOnly(t testing.TB) *TestEnvironment {
	t.Helper()

	env := &TestEnvironment{
		ctx: context.Background(),
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}

	env.setupRedis(t)

	t.Cleanup(func() {
		env.Cleanup()
	})

	return env
}

// setupRedis 啟動 Redis 測試容器
func (env *TestEnvironment) setupRedis(t testing.TB) {
	t.Helper()

	ctx := env.ctx

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	env.RedisContainer = redisContainer

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	env.RedisAddr = endpoint

	env.RedisClient = redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := env.RedisClient.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
}

// setupPostgreSQL 啟動 PostgreSQL 測試容器並建立 schema
func (env *TestEnvironment) setupPostgreSQL(t testing.TB) {
	t.Helper()

	ctx := env.ctx

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	env.PgContainer = pgContainer

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	env.PostgresDSN = dsn

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse postgres config: %v", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2

	env.PostgresPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}

	if err := env.PostgresPool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}

	env.runMigrations(t)
}

// runMigrations 用正式的遷移建立測試 schema
//
// 跑與生產相同的嵌入式遷移，而非手寫一份 DDL：
// 兩份 schema 定義遲早會悄悄漂移。
func (env *TestEnvironment) runMigrations(t testing.TB) {
	t.Helper()

	migrator, err := migrations.New(env.PostgresDSN, env.Logger)
	if err != nil {
		t.Fatalf("failed to create migrator: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	if err := migrator.Close(); err != nil {
		t.Fatalf("failed to close migrator: %v", err)
	}
}

// Cleanup 清理測試環境
func (env *TestEnvironment) Cleanup() {
	ctx := context.Background()

	if env.RedisClient != nil {
		_ = env.RedisClient.Close()
	}
	if env.PostgresPool != nil {
		env.PostgresPool.Close()
	}
	if env.RedisContainer != nil {
		_ = env.RedisContainer.Terminate(ctx)
	}
	if env.PgContainer != nil {
		_ = env.PgContainer.Terminate(ctx)
	}
}

// FlushRedis 清空 Redis 資料（測試之間的清理）
func (env *TestEnvironment) FlushRedis(t testing.TB) {
	t.Helper()

	if err := env.RedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}

// TruncateLinks 清空短網址表與訪問明細表（測試之間的清理）
func (env *TestEnvironment) TruncateLinks(t testing.TB) {
	t.Helper()

	// CASCADE 連帶清空外鍵引用 short_links 的 visits 表
	if _, err := env.PostgresPool.Exec(context.Background(), "TRUNCATE TABLE short_links CASCADE"); err != nil {
		t.Fatalf("failed to truncate short_links: %v", err)
	}
}
