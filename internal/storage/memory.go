package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/koopa0/shortlink/internal/shortlink"
)

// MemoryLinks 內存版持久存儲
//
// 使用場景：開發環境快速測試、單元測試（隔離外部依賴）。
// 不持久化、無法跨進程，不適用於生產。
type MemoryLinks struct {
	mu    sync.RWMutex
	links map[string]*shortlink.ShortLink
}

// NewMemoryLinks 創建內存存儲實例
func NewMemoryLinks() *MemoryLinks {
	return &MemoryLinks{
		links: make(map[string]*shortlink.ShortLink),
	}
}

// Get 根據短碼加載記錄。
// 返回副本而非內部指針，防止調用者繞過 AddVisits 修改計數。
func (m *MemoryLinks) Get(ctx context.Context, code string) (*shortlink.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, ok := m.links[code]
	if !ok {
		return nil, shortlink.ErrNotFound
	}

	cp := *link
	return &cp, nil
}

// Create 保存新的短網址。
func (m *MemoryLinks) Create(ctx context.Context, link *shortlink.ShortLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[link.Code]; exists {
		return shortlink.ErrCodeExists
	}

	cp := *link
	m.links[link.Code] = &cp
	return nil
}

// AddVisits 加法更新已提交的訪問計數。
func (m *MemoryLinks) AddVisits(ctx context.Context, code string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[code]
	if !ok {
		return shortlink.ErrNotFound
	}

	link.VisitCount += delta
	return nil
}

// ListByOwner 列出某擁有者的全部短網址。
func (m *MemoryLinks) ListByOwner(ctx context.Context, owner string) ([]*shortlink.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var links []*shortlink.ShortLink
	for _, link := range m.links {
		if link.Owner == owner {
			cp := *link
			links = append(links, &cp)
		}
	}

	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})

	return links, nil
}

// MemoryCounters 內存版快速計數存儲
//
// 單把互斥鎖讓 Increment 與 TakeAndReset 互為原子：
// 這正是 Redis 版用單線程模型和 Lua 腳本達成的語義。
type MemoryCounters struct {
	mu     sync.Mutex
	deltas map[string]int64
}

// NewMemoryCounters 創建內存計數存儲
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{
		deltas: make(map[string]int64),
	}
}

// Increment 原子增量，返回新值。
func (m *MemoryCounters) Increment(ctx context.Context, code string, by int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deltas[code] += by
	return m.deltas[code], nil
}

// TakeAndReset 原子取走當前 delta 並清零。
func (m *MemoryCounters) TakeAndReset(ctx context.Context, code string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.deltas[code]
	delete(m.deltas, code)
	return v, nil
}

// Pending 返回目前有 delta 條目的短碼列表。
func (m *MemoryCounters) Pending(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	codes := make([]string, 0, len(m.deltas))
	for code := range m.deltas {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// MemoryVisits 內存版訪問明細存儲
type MemoryVisits struct {
	mu     sync.RWMutex
	visits map[string][]*shortlink.Visit
}

// NewMemoryVisits 創建內存明細存儲
func NewMemoryVisits() *MemoryVisits {
	return &MemoryVisits{
		visits: make(map[string][]*shortlink.Visit),
	}
}

// Record 追加一條訪問明細。
func (m *MemoryVisits) Record(ctx context.Context, visit *shortlink.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *visit
	m.visits[visit.Code] = append(m.visits[visit.Code], &cp)
	return nil
}

// Recent 返回某短碼最近的訪問明細（新的在前）。
func (m *MemoryVisits) Recent(ctx context.Context, code string, limit int) ([]*shortlink.Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.visits[code]
	if len(all) < limit {
		limit = len(all)
	}

	// 追加順序即時間順序，倒序取最後 limit 條
	visits := make([]*shortlink.Visit, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		cp := *all[i]
		visits = append(visits, &cp)
	}
	return visits, nil
}

// MemoryLease 內存版租約（單進程內的互斥，開發測試用）
type MemoryLease struct {
	mu   sync.Mutex
	held bool
}

// NewMemoryLease 創建內存租約
func NewMemoryLease() *MemoryLease {
	return &MemoryLease{}
}

// Acquire 嘗試取得租約。
func (m *MemoryLease) Acquire(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held {
		return false, nil
	}
	m.held = true
	return true, nil
}

// Renew 續期（內存租約不會過期，持有即成功）。
func (m *MemoryLease) Renew(ctx context.Context) error {
	return nil
}

// Release 釋放租約。
func (m *MemoryLease) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.held = false
	return nil
}

var (
	_ shortlink.LinkStore    = (*MemoryLinks)(nil)
	_ shortlink.CounterStore = (*MemoryCounters)(nil)
	_ shortlink.VisitLog     = (*MemoryVisits)(nil)
	_ shortlink.Lease        = (*MemoryLease)(nil)
)
