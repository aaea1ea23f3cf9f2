package shortlink

import (
	"context"
	"fmt"
)

// Stats 獲取短網址的統計信息
//
// 返回的 VisitCount 是「活」的總數：
//
//	真實總數 = 已提交的 visit_count + 尚未對帳的 delta
//
// 這正是整個系統的守恆不變量，在這裡對外可見。
//
// 系統設計考量：
//   - 低頻操作（相比解析），可接受兩次存儲往返
//   - delta 讀取失敗時退回只報已提交的部分：
//     統計寧可暫時偏低，也不要因為 Redis 抖動而整個失敗
func (s *Service) Stats(ctx context.Context, code string) (*ShortLink, error) {
	link, err := s.links.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load link: %w", err)
	}

	delta, err := s.counters.Increment(ctx, code, 0)
	if err != nil {
		s.logger.Warn("pending delta unavailable for stats", "code", code, "error", err)
		return link, nil
	}

	link.VisitCount += delta
	return link, nil
}
