package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/shortlink/internal/shortlink"
)

// uniqueViolation PostgreSQL 唯一約束衝突的錯誤碼
const uniqueViolation = "23505"

// PostgresLinks 基於 PostgreSQL 的持久存儲
//
// 表結構設計：
//   - code：主鍵（短碼唯一且不可變，天然的主鍵）
//   - target_url：目標 URL
//   - owner：不透明的擁有者引用，可為 NULL
//   - visit_count：已提交的訪問總數（只由對帳任務加法更新）
//   - created_at：建立時間
//
// 併發控制：
//   - code 主鍵約束：重複建立在資料庫層原子地失敗
//   - visit_count = visit_count + $2：行級原子加法，
//     重疊的對帳通道各自的 delta 互不覆蓋
type PostgresLinks struct {
	pool *pgxpool.Pool
}

// NewPostgresLinks 創建 PostgreSQL 存儲實例
//
// 連接池由調用方管理生命週期。
func NewPostgresLinks(pool *pgxpool.Pool) *PostgresLinks {
	return &PostgresLinks{pool: pool}
}

// Get 根據短碼加載記錄。
func (p *PostgresLinks) Get(ctx context.Context, code string) (*shortlink.ShortLink, error) {
	const query = `
		SELECT code, target_url, COALESCE(owner, ''), visit_count, created_at
		FROM short_links
		WHERE code = $1`

	link := &shortlink.ShortLink{}
	err := p.pool.QueryRow(ctx, query, code).Scan(
		&link.Code, &link.TargetURL, &link.Owner, &link.VisitCount, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shortlink.ErrNotFound
		}
		return nil, fmt.Errorf("query link: %w", err)
	}

	return link, nil
}

// Create 保存新的短網址。
//
// 冪等性：同一短碼重複保存返回 ErrCodeExists，
// 由主鍵約束在資料庫層保證（不存在先查後插的競態窗口）。
func (p *PostgresLinks) Create(ctx context.Context, link *shortlink.ShortLink) error {
	const query = `
		INSERT INTO short_links (code, target_url, owner, visit_count, created_at)
		VALUES ($1, $2, NULLIF($3, ''), 0, $4)`

	_, err := p.pool.Exec(ctx, query, link.Code, link.TargetURL, link.Owner, link.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return shortlink.ErrCodeExists
		}
		return fmt.Errorf("insert link: %w", err)
	}

	return nil
}

// AddVisits 加法更新已提交的訪問計數。
//
// 加法而非覆寫：UPDATE ... SET visit_count = visit_count + $2
// 在行鎖下原子執行，重疊或重試的合併保持可加。
func (p *PostgresLinks) AddVisits(ctx context.Context, code string, delta int64) error {
	const query = `
		UPDATE short_links
		SET visit_count = visit_count + $2
		WHERE code = $1`

	tag, err := p.pool.Exec(ctx, query, code, delta)
	if err != nil {
		return fmt.Errorf("add visits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shortlink.ErrNotFound
	}

	return nil
}

// ListByOwner 列出某擁有者的全部短網址（新建在前）。
func (p *PostgresLinks) ListByOwner(ctx context.Context, owner string) ([]*shortlink.ShortLink, error) {
	const query = `
		SELECT code, target_url, COALESCE(owner, ''), visit_count, created_at
		FROM short_links
		WHERE owner = $1
		ORDER BY created_at DESC`

	rows, err := p.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("query links by owner: %w", err)
	}
	defer rows.Close()

	var links []*shortlink.ShortLink
	for rows.Next() {
		link := &shortlink.ShortLink{}
		if err := rows.Scan(&link.Code, &link.TargetURL, &link.Owner, &link.VisitCount, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}

	return links, nil
}

// PostgresVisits 基於 PostgreSQL 的訪問明細存儲
//
// 表結構設計：
//   - 只增不改的追加表，BIGSERIAL 主鍵
//   - code 外鍵關聯 short_links（ON DELETE CASCADE）
//   - (code, visited_at DESC) 複合索引服務「最近訪問」查詢
//
// 寫入量遠大於 short_links，獨立成表讓明細寫入
// 不與對帳任務的 visit_count 行鎖競爭。
type PostgresVisits struct {
	pool *pgxpool.Pool
}

// NewPostgresVisits 創建訪問明細存儲實例
func NewPostgresVisits(pool *pgxpool.Pool) *PostgresVisits {
	return &PostgresVisits{pool: pool}
}

// Record 追加一條訪問明細。
func (p *PostgresVisits) Record(ctx context.Context, visit *shortlink.Visit) error {
	const query = `
		INSERT INTO visits (code, ip_address, user_agent, referrer, visited_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)`

	_, err := p.pool.Exec(ctx, query,
		visit.Code, visit.IPAddress, visit.UserAgent, visit.Referrer, visit.VisitedAt)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}

	return nil
}

// Recent 返回某短碼最近的訪問明細（新的在前）。
func (p *PostgresVisits) Recent(ctx context.Context, code string, limit int) ([]*shortlink.Visit, error) {
	const query = `
		SELECT code, ip_address, user_agent, COALESCE(referrer, ''), visited_at
		FROM visits
		WHERE code = $1
		ORDER BY visited_at DESC, id DESC
		LIMIT $2`

	rows, err := p.pool.Query(ctx, query, code, limit)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	var visits []*shortlink.Visit
	for rows.Next() {
		v := &shortlink.Visit{}
		if err := rows.Scan(&v.Code, &v.IPAddress, &v.UserAgent, &v.Referrer, &v.VisitedAt); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visits: %w", err)
	}

	return visits, nil
}

var (
	_ shortlink.LinkStore = (*PostgresLinks)(nil)
	_ shortlink.VisitLog  = (*PostgresVisits)(nil)
)
