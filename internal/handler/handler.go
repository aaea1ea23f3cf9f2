// Package handler 提供 HTTP 路由與處理器
//
// 這一層是薄膠水：路由、參數解析、狀態碼映射。
// 所有真正的工程內容（解析、計數、對帳）都在 shortlink 包。
package handler

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/koopa0/shortlink/internal/shortlink"
)

// 短碼字符集：0-9, A-Z, a-z（Base62，URL 友好）
const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// 自動生成短碼的長度（62^6 ≈ 568 億，足夠）
const generatedCodeLen = 6

// 短碼衝突時的重試次數上限
const maxCreateAttempts = 5

// Handler HTTP 請求處理器
type Handler struct {
	service *shortlink.Service
	logger  *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(service *shortlink.Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈：恢復 -> 日誌 -> 業務處理
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// API 路由
	mux.HandleFunc("POST /api/v1/links", wrap(h.create))
	mux.HandleFunc("GET /api/v1/links/{code}/stats", wrap(h.stats))
	mux.HandleFunc("GET /api/v1/users/{owner}/links", wrap(h.listByOwner))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))

	// 重定向（最通用的模式放最後，ServeMux 會優先匹配更具體的）
	mux.HandleFunc("GET /{code}", wrap(h.redirect))

	return mux
}

// 請求和響應結構
type createRequest struct {
	URL         string `json:"url"`
	CustomAlias string `json:"custom_alias,omitempty"`
	Owner       string `json:"owner,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statsResponse struct {
	*shortlink.ShortLink
	RecentVisits []*shortlink.Visit `json:"recent_visits"`
}

// create 處理建立短網址請求
//
// 短碼分配策略屬於這一層而非核心：核心只接受一個唯一字串。
// 未提供自定義短碼時隨機生成，撞碼則換碼重試。
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		h.respondError(w, "url required", http.StatusBadRequest)
		return
	}

	if req.CustomAlias != "" {
		if !validCode(req.CustomAlias) {
			h.respondError(w, "invalid custom alias", http.StatusBadRequest)
			return
		}

		link, err := h.service.Create(r.Context(), req.CustomAlias, req.URL, req.Owner)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		h.respondJSON(w, http.StatusCreated, link)
		return
	}

	// 自動生成：撞碼重試
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		link, err := h.service.Create(r.Context(), generateCode(), req.URL, req.Owner)
		if err != nil {
			if errors.Is(err, shortlink.ErrCodeExists) {
				continue
			}
			h.respondServiceError(w, err)
			return
		}
		h.respondJSON(w, http.StatusCreated, link)
		return
	}

	h.logger.Error("code generation exhausted retries")
	h.respondError(w, "could not allocate short code", http.StatusInternalServerError)
}

// redirect 處理短碼解析與重定向（熱路徑）
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !validCode(code) {
		h.respondError(w, "invalid short code", http.StatusBadRequest)
		return
	}

	target, err := h.service.Resolve(r.Context(), code)
	if err != nil {
		if errors.Is(err, shortlink.ErrNotFound) {
			h.respondError(w, "short code not found", http.StatusNotFound)
			return
		}
		h.logger.Error("resolve failed", "code", code, "error", err)
		h.respondError(w, "resolution failed", http.StatusServiceUnavailable)
		return
	}

	// 訪問明細（盡力而為，不拖慢重定向）
	h.service.LogVisit(r.Context(), &shortlink.Visit{
		Code:      code,
		IPAddress: clientIP(r),
		UserAgent: clip(r.UserAgent(), 255),
		Referrer:  clip(r.Referer(), 2048),
	})

	http.Redirect(w, r, target, http.StatusFound)
}

// stats 查詢單個短網址的統計
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	link, err := h.service.Stats(r.Context(), code)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, statsResponse{
		ShortLink:    link,
		RecentVisits: h.service.RecentVisits(r.Context(), code, 0),
	})
}

// listByOwner 列出某擁有者的全部短網址
func (h *Handler) listByOwner(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")

	links, err := h.service.ListByOwner(r.Context(), owner)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	// 每條短網址附帶最近訪問明細（低頻接口，可接受逐條查詢）
	entries := make([]statsResponse, 0, len(links))
	for _, link := range links {
		entries = append(entries, statsResponse{
			ShortLink:    link,
			RecentVisits: h.service.RecentVisits(r.Context(), link.Code, 0),
		})
	}

	h.respondJSON(w, http.StatusOK, map[string]any{"links": entries})
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondServiceError 將核心錯誤映射為 HTTP 狀態碼
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shortlink.ErrNotFound):
		h.respondError(w, "not found", http.StatusNotFound)
	case errors.Is(err, shortlink.ErrCodeExists):
		h.respondError(w, "short code already exists", http.StatusConflict)
	case errors.Is(err, shortlink.ErrInvalidURL):
		h.respondError(w, "invalid target url", http.StatusBadRequest)
	default:
		h.logger.Error("request failed", "error", err)
		h.respondError(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response failed", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// loggerMiddleware 記錄每個請求
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		h.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	}
}

// recoverer 捕獲 panic，避免單個請求拖垮進程
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered", "panic", rec, "path", r.URL.Path)
				h.respondError(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// generateCode 隨機生成 Base62 短碼
func generateCode() string {
	buf := make([]byte, generatedCodeLen)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand 失敗意味著系統熵源壞了，無法繼續
			panic(err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf)
}

// clientIP 取得請求來源 IP
//
// 優先取 X-Forwarded-For 的第一個地址（反向代理後的真實客戶端），
// 否則退回連線層的 RemoteAddr。
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return clip(strings.TrimSpace(fwd), 45)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return clip(r.RemoteAddr, 45)
	}
	return clip(host, 45)
}

// clip 截斷超過存儲欄位長度的字串。
func clip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// validCode 驗證短碼格式：4-16 位 Base62 字符
func validCode(code string) bool {
	if len(code) < 4 || len(code) > 16 {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		ok := (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
		if !ok {
			return false
		}
	}
	return true
}
