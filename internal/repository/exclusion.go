package repository

import (
	"context"

	"github.com/user/reelshelf/internal/model"
	"gorm.io/gorm"
)

// ExclusionRepository 永不推荐列表
type ExclusionRepository struct {
	db *gorm.DB
}

func NewExclusionRepository(db *gorm.DB) *ExclusionRepository {
	return &ExclusionRepository{db: db}
}

// Create 添加排除项
func (r *ExclusionRepository) Create(ctx context.Context, e *model.Exclusion) error {
	return conn(ctx, r.db).Create(e).Error
}

// Delete 删除排除项，返回是否删除了记录
func (r *ExclusionRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res := conn(ctx, r.db).Delete(&model.Exclusion{}, id)
	return res.RowsAffected > 0, res.Error
}

// ListAll 全部排除项，最新的在前
func (r *ExclusionRepository) ListAll(ctx context.Context) ([]*model.Exclusion, error) {
	var rows []*model.Exclusion
	err := conn(ctx, r.db).Order("created_at DESC, id DESC").Find(&rows).Error
	return rows, err
}
