package repository

import (
	"context"
	"errors"

	"github.com/user/reelshelf/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DimensionRepository struct {
	db *gorm.DB
}

func NewDimensionRepository(db *gorm.DB) *DimensionRepository {
	return &DimensionRepository{db: db}
}

// Find 不存在时返回 nil, nil
func (r *DimensionRepository) Find(ctx context.Context, itemID int64, modelVersion string) (*model.DimensionVector, error) {
	var v model.DimensionVector
	err := conn(ctx, r.db).
		Where("item_id = ? AND model_version = ?", itemID, modelVersion).
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// Save 只在不存在时写入，返回库中最终保存的那一条（先写入者获胜）
func (r *DimensionRepository) Save(ctx context.Context, v *model.DimensionVector) (*model.DimensionVector, error) {
	err := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_id"}, {Name: "model_version"}},
		DoNothing: true,
	}).Create(v).Error
	if err != nil {
		return nil, err
	}
	return r.Find(ctx, v.ItemID, v.ModelVersion)
}

// Nearest 同一模型版本下与 v 余弦距离最近的条目，不含自身
func (r *DimensionRepository) Nearest(ctx context.Context, v *model.DimensionVector, limit int) ([]model.SimilarItem, error) {
	var rows []model.SimilarItem
	err := conn(ctx, r.db).Raw(`
		SELECT c.id AS item_id, c.title, c.media_kind, d.vector <=> ? AS distance
		FROM dimension_vectors d
		JOIN catalog_items c ON c.id = d.item_id
		WHERE d.model_version = ? AND d.item_id <> ?
		ORDER BY distance ASC, c.id ASC
		LIMIT ?
	`, v.Vector, v.ModelVersion, v.ItemID, limit).Scan(&rows).Error
	return rows, err
}
