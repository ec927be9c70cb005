package repository

import (
	"context"
	"errors"

	"github.com/user/reelshelf/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindByID 根据 ID 查找条目，不存在时返回 nil, nil
func (r *CatalogRepository) FindByID(ctx context.Context, id int64) (*model.CatalogItem, error) {
	var item model.CatalogItem
	err := conn(ctx, r.db).First(&item, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// Create 新增条目
func (r *CatalogRepository) Create(ctx context.Context, item *model.CatalogItem) error {
	return conn(ctx, r.db).Create(item).Error
}

// FillMissing 用外部元数据补全条目的空字段，已有值不覆盖；条目不存在时返回 nil, nil
func (r *CatalogRepository) FillMissing(ctx context.Context, id int64, incoming *model.CatalogItem) (*model.CatalogItem, error) {
	var out *model.CatalogItem
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var item model.CatalogItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		item.MergeMissing(incoming)
		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		out = &item
		return nil
	})
	return out, err
}

// ListUntaggedIDs 在指定模型版本下还没有任何标签的条目，按创建时间从早到晚
func (r *CatalogRepository) ListUntaggedIDs(ctx context.Context, modelVersion string, limit int) ([]int64, error) {
	var ids []int64
	err := conn(ctx, r.db).Model(&model.CatalogItem{}).
		Where(`NOT EXISTS (
			SELECT 1 FROM item_tag_assignments a
			WHERE a.item_id = catalog_items.id AND a.model_version = ?
		)`, modelVersion).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ListUnscored 在指定模型版本下还没有维度向量的条目
func (r *CatalogRepository) ListUnscored(ctx context.Context, modelVersion string, limit int) ([]*model.CatalogItem, error) {
	var items []*model.CatalogItem
	err := conn(ctx, r.db).
		Where(`NOT EXISTS (
			SELECT 1 FROM dimension_vectors v
			WHERE v.item_id = catalog_items.id AND v.model_version = ?
		)`, modelVersion).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// KnownTitles 指定媒体类型下所有已收录的标题，加上用户排除列表中的标题
func (r *CatalogRepository) KnownTitles(ctx context.Context, kinds []model.MediaKind) ([]string, error) {
	var catalog []string
	if err := conn(ctx, r.db).Model(&model.CatalogItem{}).
		Where("media_kind IN ?", kinds).
		Order("id ASC").
		Pluck("title", &catalog).Error; err != nil {
		return nil, err
	}

	var excluded []string
	if err := conn(ctx, r.db).Model(&model.Exclusion{}).
		Where("media_kind IN ?", kinds).
		Order("id ASC").
		Pluck("title", &excluded).Error; err != nil {
		return nil, err
	}
	return append(catalog, excluded...), nil
}
