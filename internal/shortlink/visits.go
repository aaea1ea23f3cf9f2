package shortlink

import (
	"context"
	"time"
)

// 統計接口默認返回的明細條數上限。
const defaultRecentVisits = 10

// LogVisit 記錄一次訪問的明細（盡力而為）
//
// 與計數增量同樣的原則：明細是次要數據，
// 寫入失敗只記日誌，絕不影響重定向本身。
// 超時與父 context 解耦，即使請求已結束寫入仍有自己的預算。
func (s *Service) LogVisit(ctx context.Context, visit *Visit) {
	if s.visits == nil {
		return
	}

	if visit.VisitedAt.IsZero() {
		visit.VisitedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.counterTimeout)
	defer cancel()

	if err := s.visits.Record(ctx, visit); err != nil {
		s.logger.Warn("visit detail record failed", "code", visit.Code, "error", err)
	}
}

// RecentVisits 返回某短碼最近的訪問明細（新的在前）
//
// 讀取失敗時退回空列表：明細與 Stats 裡的 delta 同為次要數據，
// 統計接口不因為明細存儲抖動而整個失敗。
func (s *Service) RecentVisits(ctx context.Context, code string, limit int) []*Visit {
	if s.visits == nil {
		return []*Visit{}
	}
	if limit <= 0 {
		limit = defaultRecentVisits
	}

	visits, err := s.visits.Recent(ctx, code, limit)
	if err != nil {
		s.logger.Warn("recent visits unavailable", "code", code, "error", err)
		return []*Visit{}
	}
	if visits == nil {
		visits = []*Visit{}
	}
	return visits
}
