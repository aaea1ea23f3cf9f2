package shortlink

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Reconciler 週期性對帳任務（冷路徑）
//
// 職責：把快速計數存儲裡累積的 delta 合併進持久存儲，
// 既不丟失也不重複計數。
//
// 架構設計：
//
//	Timer → 取得租約 → 列出待合併短碼
//	          ↓ 每個短碼獨立處理：
//	     原子取走並清零 delta → visit_count += delta
//	          ↓ 合併失敗
//	     補償回加 delta（下個週期重試）
//
// 系統設計考量：
//
//  1. 為什麼「取走並清零」必須是單一原子操作？
//     先讀後清是兩步：兩步之間落地的訪問會被清掉卻沒被讀到，
//     悄悄丟失。原子 take-and-reset 讓每個增量要麼落在本輪
//     取走的值裡，要麼留給下一輪，絕不兩邊都算或兩邊都不算。
//
//  2. 為什麼合併是加法而非覆寫？
//     visit_count = visit_count + delta 天然可加：
//     即使兩個對帳通道意外重疊，各自取走的 delta 互不覆蓋，
//     重試也安全。覆寫則會讓後寫的一方抹掉先寫的計數。
//
//  3. 為什麼需要補償回加？
//     delta 已清零、持久存儲卻寫失敗時，這批計數只剩記憶體裡
//     的一份拷貝。把它加回快速計數存儲，下個週期自然重試，
//     整條管線從客戶端視角變成 at-least-once 而非 at-most-once。
//
//  4. 為什麼需要租約？
//     多個 API 進程都掛著排程器。沒有互斥時，兩個通道各自
//     take-and-reset 拿到的值雖不重複，但我們不希望兩個進程
//     同時打 DB；租約（帶 TTL）保證叢集內同一時刻至多一個
//     活躍通道，持有者死掉後 TTL 到期自動讓位。
//
//  5. Postgres 長時間不可達怎麼辦？
//     delta 留在 Redis 繼續累積（整數很便宜），每輪結束時
//     對失敗數量記 Warn。熱路徑不做背壓。
type Reconciler struct {
	links    LinkStore
	counters CounterStore
	lease    Lease
	logger   *slog.Logger

	interval     time.Duration
	applyTimeout time.Duration
	renewEvery   time.Duration

	stop chan struct{}
	done chan struct{}
}

// ReconcilerOptions 對帳任務的可調參數
type ReconcilerOptions struct {
	// Interval 兩輪對帳之間的間隔（預設 5 分鐘）
	Interval time.Duration

	// ApplyTimeout 單個短碼的合併單元（清零＋落庫＋必要時補償）的超時（預設 5 秒）
	ApplyTimeout time.Duration

	// RenewEvery 長通道執行期間的租約續期間隔（預設 20 秒，即 TTL/3）
	RenewEvery time.Duration
}

// NewReconciler 創建對帳任務
func NewReconciler(links LinkStore, counters CounterStore, lease Lease, logger *slog.Logger, opts ReconcilerOptions) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = 5 * time.Second
	}
	if opts.RenewEvery <= 0 {
		opts.RenewEvery = 20 * time.Second
	}

	return &Reconciler{
		links:        links,
		counters:     counters,
		lease:        lease,
		logger:       logger,
		interval:     opts.Interval,
		applyTimeout: opts.ApplyTimeout,
		renewEvery:   opts.RenewEvery,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start 啟動週期性對帳
func (r *Reconciler) Start() {
	go r.run()
}

// Stop 停止對帳並等待退出
//
// 正在執行的通道會先完成當前短碼的「清零＋合併」單元再退出，
// 絕不留下已清零卻未合併的中間狀態。
func (r *Reconciler) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reconciler) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-r.stop
		cancel()
	}()

	r.logger.Info("reconciler started", "interval", r.interval)

	for {
		select {
		case <-r.stop:
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reconciliation pass failed", "error", err)
			}
		}
	}
}

// RunOnce 執行一輪對帳
//
// 流程：取租約 → 列出待合併短碼 → 逐碼合併 → 釋放租約。
// 租約被別人持有時整輪靜默跳過（預期情況，非錯誤）。
func (r *Reconciler) RunOnce(ctx context.Context) error {
	held, err := r.lease.Acquire(ctx)
	if err != nil {
		return err
	}
	if !held {
		r.logger.Debug("reconciliation lease held elsewhere, skipping cycle")
		return nil
	}
	defer func() {
		if err := r.lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("lease release failed", "error", err)
		}
	}()

	codes, err := r.counters.Pending(ctx)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return nil
	}

	var merged, failed int
	lastRenew := time.Now()

	for _, code := range codes {
		// 取消在合併單元之間生效，不在單元中間
		select {
		case <-ctx.Done():
			r.logger.Info("reconciliation pass cancelled",
				"merged", merged, "remaining", len(codes)-merged-failed)
			return ctx.Err()
		default:
		}

		// 通道可能超過租約 TTL，途中續期
		if time.Since(lastRenew) >= r.renewEvery {
			if err := r.lease.Renew(ctx); err != nil {
				// 租約丟了：別的進程可能已接手，立刻讓位
				r.logger.Warn("lease lost mid-pass, aborting", "error", err)
				return nil
			}
			lastRenew = time.Now()
		}

		if err := r.mergeOne(ctx, code); err != nil {
			failed++
			continue
		}
		merged++
	}

	if failed > 0 {
		r.logger.Warn("reconciliation pass completed with failures",
			"merged", merged, "failed", failed)
	} else {
		r.logger.Info("reconciliation pass completed", "merged", merged)
	}

	return nil
}

// mergeOne 處理單個短碼的「清零＋合併」單元
//
// 單元內部與通道取消解耦（WithoutCancel＋自己的超時）：
// delta 一旦被取走，落庫或補償必須走完，
// 否則取消會直接製造「已清零未合併」的丟失窗口。
func (r *Reconciler) mergeOne(ctx context.Context, code string) error {
	unit, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.applyTimeout)
	defer cancel()

	delta, err := r.counters.TakeAndReset(unit, code)
	if err != nil {
		// delta 還在原處，下個週期重試
		r.logger.Warn("take-and-reset failed", "code", code, "error", err)
		return err
	}
	if delta == 0 {
		return nil
	}

	if err := r.links.AddVisits(unit, code, delta); err != nil {
		if errors.Is(err, ErrNotFound) {
			// 持久記錄不存在，這批 delta 永遠無處可歸：
			// 回加只會讓它每輪打一次 DB，直接丟棄並留痕
			r.logger.Warn("dropping delta for unknown code", "code", code, "delta", delta)
			return nil
		}

		// 補償回加：把已取走的 delta 放回去，下個週期重試。
		// 這一步是守恆不變量在故障下依然成立的關鍵。
		//
		// 補償必須用全新的預算：AddVisits 若是掛死到超時才失敗，
		// unit 的 deadline 已經耗盡，在它上面回加必然失敗，
		// 等於每個週期都穩定丟一批 delta。
		comp, cancelComp := context.WithTimeout(context.WithoutCancel(unit), r.applyTimeout)
		defer cancelComp()

		if _, rerr := r.counters.Increment(comp, code, delta); rerr != nil {
			// 兩邊都失敗：這批 delta 真的丟了。
			// 這是整條管線唯一接受計數丟失的窗口，必須留下可審計的日誌
			r.logger.Error("delta lost: merge and compensation both failed",
				"code", code, "delta", delta,
				"merge_error", err, "compensate_error", rerr)
			return err
		}

		r.logger.Warn("merge failed, delta re-added for retry",
			"code", code, "delta", delta, "error", err)
		return err
	}

	return nil
}
