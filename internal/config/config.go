// Package config 提供應用配置的載入與預設值
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Resolver struct {
		// CacheCapacity 解析快取的容量上限
		CacheCapacity int `yaml:"cache_capacity"`
		// CounterTimeout 熱路徑上計數增量的超時（盡力而為的預算）
		CounterTimeout time.Duration `yaml:"counter_timeout"`
	} `yaml:"resolver"`

	Reconciler struct {
		// Interval 兩輪對帳之間的間隔
		Interval time.Duration `yaml:"interval"`
		// LeaseKey 對帳租約的 Redis key
		LeaseKey string `yaml:"lease_key"`
		// LeaseTTL 租約的有效期（持有者死掉後的最長接管延遲）
		LeaseTTL time.Duration `yaml:"lease_ttl"`
		// ApplyTimeout 單個短碼合併單元的超時
		ApplyTimeout time.Duration `yaml:"apply_timeout"`
	} `yaml:"reconciler"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load 從 YAML 檔案載入配置並套用預設值
func Load(path string) (*Config, error) {
	// #nosec G304 - path 來自啟動參數，非使用者輸入
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults 為未設定的欄位套用預設值
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 10
	}
	if c.Postgres.MinConns == 0 {
		c.Postgres.MinConns = 2
	}

	if c.Resolver.CacheCapacity == 0 {
		c.Resolver.CacheCapacity = 10000
	}
	if c.Resolver.CounterTimeout == 0 {
		c.Resolver.CounterTimeout = 200 * time.Millisecond
	}

	if c.Reconciler.Interval == 0 {
		c.Reconciler.Interval = 5 * time.Minute
	}
	if c.Reconciler.LeaseKey == "" {
		c.Reconciler.LeaseKey = "reconcile:lease"
	}
	if c.Reconciler.LeaseTTL == 0 {
		c.Reconciler.LeaseTTL = 60 * time.Second
	}
	if c.Reconciler.ApplyTimeout == 0 {
		c.Reconciler.ApplyTimeout = 5 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// PostgresDSN 生成 PostgreSQL 連線字串
//
// 支援環境變數覆蓋（生產環境常用）。
func (c *Config) PostgresDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.DBName,
	)
}

// PostgresURL 生成 URL 形式的連線字串（migrate 需要 URL 形式）
func (c *Config) PostgresURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		url.QueryEscape(c.Postgres.User),
		url.QueryEscape(c.Postgres.Password),
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
	)
}
