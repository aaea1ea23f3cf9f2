package shortlink

import "context"

// LinkStore 定義持久存儲接口
//
// 系統設計考量：
//
//  1. 存儲選擇：PostgreSQL（持久化、UNIQUE 約束、原子加法更新）
//  2. 一致性：
//     - 短網址建立：強一致（建立後必須立即可解析）
//     - 訪問計數：最終一致（由對帳任務以對帳間隔為上限延遲合併）
//  3. 併發控制：
//     - code UNIQUE 約束防止重複建立
//     - UPDATE ... SET visit_count = visit_count + delta 為原子加法，
//       即使兩個對帳通道重疊執行也保持可加、可重試
type LinkStore interface {
	// Get 根據短碼加載記錄；短碼不存在時返回 ErrNotFound。
	Get(ctx context.Context, code string) (*ShortLink, error)

	// Create 保存新的短網址；短碼已存在時返回 ErrCodeExists。
	Create(ctx context.Context, link *ShortLink) error

	// AddVisits 將 delta 加進已提交的訪問計數（加法更新，非覆寫）。
	// 短碼不存在時返回 ErrNotFound。
	AddVisits(ctx context.Context, code string, delta int64) error

	// ListByOwner 列出某個擁有者建立的所有短網址。
	ListByOwner(ctx context.Context, owner string) ([]*ShortLink, error)
}

// CounterStore 定義快速計數存儲接口
//
// 存放自上次成功對帳以來累積的訪問增量（delta）。
// delta 活在所有 API 進程共享的存儲（Redis）而非進程記憶體中，
// 單個進程崩潰不會丟失已記錄的訪問。
//
// 原子性要求：
//   - Increment 必須是單一原子操作（不能是調用方的讀改寫）
//   - TakeAndReset 必須「取值並清零」一步完成：
//     若拆成先讀後清，清零前落地的訪問會被悄悄丟掉
type CounterStore interface {
	// Increment 原子地將短碼的 delta 加上 by，返回新值。
	// 也用於對帳失敗後的補償回加。
	Increment(ctx context.Context, code string, by int64) (int64, error)

	// TakeAndReset 原子地取走當前 delta 並清零，返回取走前的值。
	// 不存在的短碼返回 0。
	TakeAndReset(ctx context.Context, code string) (int64, error)

	// Pending 返回目前有非零 delta 的短碼列表。
	Pending(ctx context.Context) ([]string, error)
}

// VisitLog 定義訪問明細存儲接口
//
// 明細只增不改：每次重定向追加一條記錄，統計時按時間倒序讀取。
// 與聚合計數分開存放，明細表的寫入量不影響 short_links 的行鎖。
type VisitLog interface {
	// Record 追加一條訪問明細。
	Record(ctx context.Context, visit *Visit) error

	// Recent 返回某短碼最近的訪問明細（新的在前），最多 limit 條。
	Recent(ctx context.Context, code string, limit int) ([]*Visit, error)
}

// Lease 定義對帳租約接口
//
// 多個進程都掛著排程器時，只有持有租約的那個能執行對帳通道，
// 否則同一批 delta 會被兩邊各自取走後重複合併。
//
// 租約帶 TTL：持有者若中途死掉，TTL 到期後其他進程可接手。
type Lease interface {
	// Acquire 嘗試取得租約；已被其他持有者占用時返回 false（非錯誤）。
	Acquire(ctx context.Context) (bool, error)

	// Renew 延長自己持有的租約；租約已過期或易主時返回錯誤。
	Renew(ctx context.Context) error

	// Release 釋放自己持有的租約（只釋放屬於自己的）。
	Release(ctx context.Context) error
}
