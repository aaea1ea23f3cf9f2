package shortlink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/koopa0/shortlink/pkg/lru"
)

// Service 短網址服務（熱路徑）
//
// 架構設計：
//
//	Client → Resolve → LRU 快取 → PostgreSQL（Cache Miss 時）
//	              ↓
//	         Redis INCR（delta，盡力而為）
//
// 系統設計考量：
//
//  1. 為什麼用進程內 LRU 而非每次查 Redis？
//     - 目標 URL 建立後不可變，快取條目永不過時
//     - 省下一次網絡往返（微秒級 vs 毫秒級）
//     - 容量有界，記憶體可控
//
//  2. 為什麼計數增量「盡力而為」？
//     - 重定向的可用性優先於計數的完整性
//     - Redis 不可達時：記日誌、照常重定向
//     - 已丟失的只是這一次增量，不是歷史計數
type Service struct {
	links    LinkStore
	counters CounterStore
	visits   VisitLog // 可為 nil：不記錄訪問明細
	cache    *lru.Cache
	logger   *slog.Logger

	// 快速計數存儲的操作超時。
	// 超時後增量被放棄（盡力而為），重定向不受影響。
	counterTimeout time.Duration
}

// Options 服務的可調參數
type Options struct {
	// CacheCapacity 解析快取的容量上限（預設 10000）
	CacheCapacity int

	// CounterTimeout 計數增量的超時（預設 200ms）
	CounterTimeout time.Duration
}

// New 創建短網址服務
//
// visits 可為 nil：明細記錄是可選能力，聚合計數照常工作。
func New(links LinkStore, counters CounterStore, visits VisitLog, logger *slog.Logger, opts Options) *Service {
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = 10000
	}
	if opts.CounterTimeout <= 0 {
		opts.CounterTimeout = 200 * time.Millisecond
	}

	return &Service{
		links:          links,
		counters:       counters,
		visits:         visits,
		cache:          lru.New(opts.CacheCapacity),
		logger:         logger,
		counterTimeout: opts.CounterTimeout,
	}
}

// Create 建立短網址
//
// 核心流程：
//  1. 驗證目標 URL
//  2. 保存到持久存儲（UNIQUE 約束防止短碼衝突）
//
// 設計決策：
//   - 短碼由調用方提供（命名空間分配策略在核心之外）
//   - 不預先寫快取：解析時按需填充（Cache-Aside），避免雙寫不一致
//   - 短碼衝突由存儲層的原子性保證，返回 ErrCodeExists 讓調用方換碼重試
func (s *Service) Create(ctx context.Context, code, targetURL, owner string) (*ShortLink, error) {
	if !ValidTargetURL(targetURL) {
		return nil, ErrInvalidURL
	}

	link := &ShortLink{
		Code:      code,
		TargetURL: targetURL,
		Owner:     owner,
		CreatedAt: time.Now(),
	}

	if err := s.links.Create(ctx, link); err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}

	return link, nil
}

// ListByOwner 列出某擁有者的全部短網址（統計用，低頻操作）。
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]*ShortLink, error) {
	links, err := s.links.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list by owner: %w", err)
	}
	return links, nil
}
