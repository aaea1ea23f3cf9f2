package testutils

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/koopa0/shortlink/internal/shortlink"
)

// FakeLinkStore 實作 shortlink.LinkStore 的 fake（帶錯誤注入）
type FakeLinkStore struct {
	mu    sync.RWMutex
	links map[string]*shortlink.ShortLink

	// 記錄呼叫次數
	GetCalls       atomic.Int32
	AddVisitsCalls atomic.Int32

	// 錯誤注入：AddVisits 依序消耗 FailAddVisits 次 FailError
	FailAddVisits atomic.Int32
	FailGet       atomic.Int32
	FailError     error

	// 故障注入：HangAddVisits 次 AddVisits 掛死到 ctx 超時才返回，
	// 模擬持久存儲無響應（而非快速報錯）的故障模式
	HangAddVisits atomic.Int32
}

// NewFakeLinkStore 創建新的 FakeLinkStore
func NewFakeLinkStore() *FakeLinkStore {
	return &FakeLinkStore{
		links: make(map[string]*shortlink.ShortLink),
	}
}

// Get 實作 LinkStore.Get
func (f *FakeLinkStore) Get(ctx context.Context, code string) (*shortlink.ShortLink, error) {
	f.GetCalls.Add(1)

	if f.FailGet.Load() > 0 {
		f.FailGet.Add(-1)
		return nil, f.FailError
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	link, ok := f.links[code]
	if !ok {
		return nil, shortlink.ErrNotFound
	}
	cp := *link
	return &cp, nil
}

// Create 實作 LinkStore.Create
func (f *FakeLinkStore) Create(ctx context.Context, link *shortlink.ShortLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.links[link.Code]; exists {
		return shortlink.ErrCodeExists
	}
	cp := *link
	f.links[link.Code] = &cp
	return nil
}

// AddVisits 實作 LinkStore.AddVisits
func (f *FakeLinkStore) AddVisits(ctx context.Context, code string, delta int64) error {
	f.AddVisitsCalls.Add(1)

	if f.HangAddVisits.Load() > 0 {
		f.HangAddVisits.Add(-1)
		<-ctx.Done()
		return ctx.Err()
	}

	if f.FailAddVisits.Load() > 0 {
		f.FailAddVisits.Add(-1)
		return f.FailError
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	link, ok := f.links[code]
	if !ok {
		return shortlink.ErrNotFound
	}
	link.VisitCount += delta
	return nil
}

// ListByOwner 實作 LinkStore.ListByOwner
func (f *FakeLinkStore) ListByOwner(ctx context.Context, owner string) ([]*shortlink.ShortLink, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var links []*shortlink.ShortLink
	for _, link := range f.links {
		if link.Owner == owner {
			cp := *link
			links = append(links, &cp)
		}
	}
	return links, nil
}

// VisitCount 讀取某短碼已提交的計數（測試斷言用）
func (f *FakeLinkStore) VisitCount(code string) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if link, ok := f.links[code]; ok {
		return link.VisitCount
	}
	return 0
}

// FakeCounterStore 實作 shortlink.CounterStore 的 fake（帶錯誤注入）
type FakeCounterStore struct {
	mu     sync.Mutex
	deltas map[string]int64

	IncrementCalls atomic.Int32
	TakeCalls      atomic.Int32

	FailIncrement atomic.Int32
	FailTake      atomic.Int32
	FailError     error
}

// NewFakeCounterStore 創建新的 FakeCounterStore
func NewFakeCounterStore() *FakeCounterStore {
	return &FakeCounterStore{
		deltas: make(map[string]int64),
	}
}

// Increment 實作 CounterStore.Increment。
// 先檢查 ctx：真實客戶端不會在已過期的 context 上發出請求。
func (f *FakeCounterStore) Increment(ctx context.Context, code string, by int64) (int64, error) {
	f.IncrementCalls.Add(1)

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if f.FailIncrement.Load() > 0 {
		f.FailIncrement.Add(-1)
		return 0, f.FailError
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.deltas[code] += by
	return f.deltas[code], nil
}

// TakeAndReset 實作 CounterStore.TakeAndReset
func (f *FakeCounterStore) TakeAndReset(ctx context.Context, code string) (int64, error) {
	f.TakeCalls.Add(1)

	if f.FailTake.Load() > 0 {
		f.FailTake.Add(-1)
		return 0, f.FailError
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	v := f.deltas[code]
	delete(f.deltas, code)
	return v, nil
}

// Pending 實作 CounterStore.Pending
func (f *FakeCounterStore) Pending(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	codes := make([]string, 0, len(f.deltas))
	for code := range f.deltas {
		codes = append(codes, code)
	}
	return codes, nil
}

// Delta 讀取某短碼目前的 delta（測試斷言用）
func (f *FakeCounterStore) Delta(code string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deltas[code]
}

// FakeVisitLog 實作 shortlink.VisitLog 的 fake（帶錯誤注入）
type FakeVisitLog struct {
	mu     sync.RWMutex
	visits map[string][]*shortlink.Visit

	RecordCalls atomic.Int32

	FailRecord atomic.Int32
	FailRecent atomic.Int32
	FailError  error
}

// NewFakeVisitLog 創建新的 FakeVisitLog
func NewFakeVisitLog() *FakeVisitLog {
	return &FakeVisitLog{
		visits: make(map[string][]*shortlink.Visit),
	}
}

// Record 實作 VisitLog.Record
func (f *FakeVisitLog) Record(ctx context.Context, visit *shortlink.Visit) error {
	f.RecordCalls.Add(1)

	if f.FailRecord.Load() > 0 {
		f.FailRecord.Add(-1)
		return f.FailError
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *visit
	f.visits[visit.Code] = append(f.visits[visit.Code], &cp)
	return nil
}

// Recent 實作 VisitLog.Recent（新的在前）
func (f *FakeVisitLog) Recent(ctx context.Context, code string, limit int) ([]*shortlink.Visit, error) {
	if f.FailRecent.Load() > 0 {
		f.FailRecent.Add(-1)
		return nil, f.FailError
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	all := f.visits[code]
	if len(all) < limit {
		limit = len(all)
	}

	visits := make([]*shortlink.Visit, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		cp := *all[i]
		visits = append(visits, &cp)
	}
	return visits, nil
}

// Recorded 讀取某短碼已記錄的明細條數（測試斷言用）
func (f *FakeVisitLog) Recorded(code string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.visits[code])
}

// FakeLease 實作 shortlink.Lease 的 fake
//
// 多個 FakeLease 共享同一個 LeaseState 時，
// 可以在單元測試裡模擬兩個進程搶同一把租約。
type FakeLease struct {
	state *LeaseState

	AcquireCalls atomic.Int32
	Denied       atomic.Int32
}

// LeaseState 被多個 FakeLease 共享的租約狀態
type LeaseState struct {
	mu     sync.Mutex
	holder *FakeLease
}

// NewLeaseState 創建共享租約狀態
func NewLeaseState() *LeaseState {
	return &LeaseState{}
}

// NewFakeLease 創建掛在共享狀態上的 fake 租約
func NewFakeLease(state *LeaseState) *FakeLease {
	if state == nil {
		state = NewLeaseState()
	}
	return &FakeLease{state: state}
}

// Acquire 實作 Lease.Acquire
func (f *FakeLease) Acquire(ctx context.Context) (bool, error) {
	f.AcquireCalls.Add(1)

	f.state.mu.Lock()
	defer f.state.mu.Unlock()

	if f.state.holder != nil && f.state.holder != f {
		f.Denied.Add(1)
		return false, nil
	}
	f.state.holder = f
	return true, nil
}

// Renew 實作 Lease.Renew
func (f *FakeLease) Renew(ctx context.Context) error {
	return nil
}

// Release 實作 Lease.Release
func (f *FakeLease) Release(ctx context.Context) error {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()

	if f.state.holder == f {
		f.state.holder = nil
	}
	return nil
}

var (
	_ shortlink.LinkStore    = (*FakeLinkStore)(nil)
	_ shortlink.CounterStore = (*FakeCounterStore)(nil)
	_ shortlink.VisitLog     = (*FakeVisitLog)(nil)
	_ shortlink.Lease        = (*FakeLease)(nil)
)
