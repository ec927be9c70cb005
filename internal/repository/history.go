package repository

import (
	"context"

	"github.com/user/reelshelf/internal/model"
	"gorm.io/gorm"
)

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// 每个条目最近一次带评分的记录
const latestRatingCTE = `
WITH latest AS (
	SELECT DISTINCT ON (item_id) item_id, rating, created_at
	FROM rating_events
	WHERE rating IS NOT NULL
	ORDER BY item_id, created_at DESC, id DESC
)`

// Append 追加一条评分/状态记录
func (r *HistoryRepository) Append(ctx context.Context, ev *model.RatingEvent) error {
	return conn(ctx, r.db).Create(ev).Error
}

// ListRatedTagRows 已评分条目 × 该模型版本下的标签，每个 (条目, 标签) 一行
func (r *HistoryRepository) ListRatedTagRows(ctx context.Context, modelVersion string) ([]model.RatedTagRow, error) {
	var rows []model.RatedTagRow
	err := conn(ctx, r.db).Raw(latestRatingCTE+`
		SELECT l.item_id, c.title, l.rating, l.created_at AS rated_at,
		       t.category, t.name AS tag_name, a.weight
		FROM latest l
		JOIN catalog_items c ON c.id = l.item_id
		JOIN item_tag_assignments a ON a.item_id = l.item_id AND a.model_version = ?
		JOIN tags t ON t.id = a.tag_id
		ORDER BY l.item_id, t.category, t.name
	`, modelVersion).Scan(&rows).Error
	return rows, err
}

// ListLatestRatings 每个已评分条目的最近一次评分
func (r *HistoryRepository) ListLatestRatings(ctx context.Context) ([]model.RatedTitle, error) {
	var rows []model.RatedTitle
	err := conn(ctx, r.db).Raw(latestRatingCTE+`
		SELECT l.item_id, c.title, c.media_kind, l.rating, l.created_at AS rated_at
		FROM latest l
		JOIN catalog_items c ON c.id = l.item_id
		ORDER BY l.created_at ASC, l.item_id ASC
	`).Scan(&rows).Error
	return rows, err
}
