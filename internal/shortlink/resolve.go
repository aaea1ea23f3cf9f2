package shortlink

import (
	"context"
	"errors"
	"fmt"
)

// Resolve 將短碼解析為目標 URL，並記錄一次訪問增量
//
// 算法流程：
//  1. 查進程內 LRU 快取
//  2. Cache Miss：查持久存儲；不存在 → ErrNotFound；命中 → 填充快取
//  3. 無論命中與否：對快速計數存儲發出一次原子 +1（盡力而為）
//  4. 返回目標 URL
//
// 系統設計考量：
//
//   - 這是最高頻的操作（每次點擊短鏈都會調用）
//
//   - 快取條目不可變：目標 URL 建立後永不改變，
//     命中即正確，無需任何失效邏輯
//
//   - 計數增量必須是存儲側的單一原子操作（INCR），
//     而非調用方的讀改寫：多進程併發訪問同一短碼時不丟更新
//
//   - 計數增量不能阻塞或拖垮重定向：
//     獨立的短超時，失敗只記日誌；
//     訪問計數是次要數據，重定向的可用性優先
func (s *Service) Resolve(ctx context.Context, code string) (string, error) {
	target, ok := s.cache.Get(code)
	if !ok {
		link, err := s.links.Get(ctx, code)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// 不存在的短碼不產生計數條目
				return "", ErrNotFound
			}
			// 持久存儲不可達：無法在快取未命中的情況下解析，
			// 失敗直接上拋（fail fast，調用方是一個活著的重定向請求）
			return "", fmt.Errorf("load link: %w", err)
		}

		target = link.TargetURL
		s.cache.Set(code, target)
	}

	s.recordVisit(ctx, code)

	return target, nil
}

// recordVisit 對快速計數存儲發出一次原子增量（盡力而為）。
//
// 超時與父 context 解耦：即使請求即將結束，
// 增量仍有自己的短預算；超過預算就放棄。
func (s *Service) recordVisit(ctx context.Context, code string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.counterTimeout)
	defer cancel()

	if _, err := s.counters.Increment(ctx, code, 1); err != nil {
		// 吞掉錯誤：計數的丟失可接受，重定向的失敗不可接受
		s.logger.Warn("visit increment failed", "code", code, "error", err)
	}
}
