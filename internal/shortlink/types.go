// Package shortlink 實現短網址服務的核心功能
//
// 系統設計問題：
//
//	如何在高併發下提供低延遲的短碼解析，同時不丟失任何訪問計數？
//
// 核心挑戰：
//  1. 熱路徑：每次點擊短鏈都會解析一次（讀多寫少，100:1 以上）
//  2. 計數放大：每次解析都要 +1，直接寫 DB 無法承受
//  3. 準確性：進程重啟、併發寫入都不能丟失計數
//  4. 可用性：計數存儲故障不能影響重定向本身
//
// 設計方案：
//
//	✅ 有界 LRU 讀穿透快取（目標 URL 建立後不可變，無需失效）
//	✅ Redis 原子增量累積訪問增量（delta）
//	✅ 週期性對帳任務：原子取走 delta，加法合併進 PostgreSQL
//	✅ Redis 租約保證叢集內同一時刻只有一個對帳者
package shortlink

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// ShortLink 表示一條短網址記錄
//
// 數據模型設計：
//
//   - Code：對外的短碼，唯一且建立後不可變
//     → 不可變是快取正確性的前提（條目永不過時）
//
//   - VisitCount：最後一次對帳已提交的總訪問數
//     → 只由對帳任務以加法更新，單調不減
//     → 任何時刻的真實總數 = VisitCount + 快取層中的待合併 delta
//
//   - Owner：不透明的身份引用，可為空
//     → 核心不解讀身份，只在建立時接受並原樣保存
type ShortLink struct {
	Code       string    `json:"code"`
	TargetURL  string    `json:"target_url"`
	Owner      string    `json:"owner,omitempty"`
	VisitCount int64     `json:"visit_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Visit 表示一次訪問的明細記錄
//
// 與聚合計數（VisitCount + delta）互補：
// 聚合計數回答「被點了幾次」，明細記錄回答「被誰、從哪裡點的」。
//
// 設計決策：
//   - 明細是次要數據：寫入盡力而為，丟一條明細不影響聚合計數
//   - 不做地理位置解析：IP → 國家/城市 依賴外部服務，
//     屬於外層的豐富化管線，核心只保存原始請求屬性
type Visit struct {
	Code      string    `json:"code"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Referrer  string    `json:"referrer,omitempty"`
	VisitedAt time.Time `json:"visited_at"`
}

// 錯誤定義
//
// HTTP 狀態碼映射（由外層的 handler 處理）：
//   - ErrNotFound    → 404 Not Found
//   - ErrCodeExists  → 409 Conflict
//   - ErrInvalidURL  → 400 Bad Request
var (
	// ErrNotFound 當短碼不存在時返回
	ErrNotFound = errors.New("short code not found")

	// ErrCodeExists 當短碼已被占用時返回
	ErrCodeExists = errors.New("short code already exists")

	// ErrInvalidURL 當目標 URL 格式無效時返回
	ErrInvalidURL = errors.New("invalid target url")
)

// ValidTargetURL 驗證目標 URL
//
// 驗證規則：
//   - 必須可解析（url.Parse）
//   - 必須有 scheme（http 或 https）
//   - 必須有 host
//   - 拒絕 localhost 與私有 IP（防止 SSRF）
func ValidTargetURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}

	if u.Host == "" {
		return false
	}

	return !isPrivateOrLocalhost(u.Hostname())
}

// isPrivateOrLocalhost 檢查主機名是否為私有 IP 或 localhost
//
// 防護範圍：
//   - localhost、127.0.0.0/8（本地回環）
//   - 10.0.0.0/8、172.16.0.0/12、192.168.0.0/16（私有網段）
//   - 169.254.0.0/16（鏈路本地地址，雲服務元數據端點）
func isPrivateOrLocalhost(host string) bool {
	if host == "localhost" || strings.HasPrefix(host, "127.") {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// 域名直接放行（解析域名再檢查屬於外層的安全策略）
		return false
	}

	privateRanges := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"127.0.0.0/8",
	}

	for _, cidr := range privateRanges {
		_, ipNet, _ := net.ParseCIDR(cidr)
		if ipNet.Contains(ip) {
			return true
		}
	}

	return false
}
