package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/user/reelshelf/internal/model"
	"gorm.io/gorm"
)

type TagRepository struct {
	db *gorm.DB
}

func NewTagRepository(db *gorm.DB) *TagRepository {
	return &TagRepository{db: db}
}

func (r *TagRepository) find(ctx context.Context, category model.TagCategory, name string) (*model.Tag, error) {
	var tag model.Tag
	err := conn(ctx, r.db).
		Where("category = ? AND name = ?", category, name).
		First(&tag).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tag, nil
}

// FindOrCreate 查找标签，不存在则创建；并发创建撞上唯一约束时重新查询
func (r *TagRepository) FindOrCreate(ctx context.Context, category model.TagCategory, name string) (*model.Tag, error) {
	tag, err := r.find(ctx, category, name)
	if err != nil || tag != nil {
		return tag, err
	}

	// 在锁事务内执行时 Transaction 会建保存点，唯一冲突只回滚到保存点，之后还能重新查询
	tag = &model.Tag{Category: category, Name: name}
	err = conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		return tx.Create(tag).Error
	})
	if err != nil {
		if !isUniqueViolation(err) {
			return nil, err
		}
		existing, ferr := r.find(ctx, category, name)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	return tag, nil
}

// ReplaceAssignments 在同一事务内删除旧的整组标签并写入新的一组
func (r *TagRepository) ReplaceAssignments(ctx context.Context, itemID int64, modelVersion string, rows []model.ItemTagAssignment) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ? AND model_version = ?", itemID, modelVersion).
			Delete(&model.ItemTagAssignment{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(&rows, 100).Error
	})
}

// ListAssignments 读取条目在某模型版本下的全部标签
func (r *TagRepository) ListAssignments(ctx context.Context, itemID int64, modelVersion string) ([]model.ItemTagAssignment, error) {
	var rows []model.ItemTagAssignment
	err := conn(ctx, r.db).Preload("Tag").
		Where("item_id = ? AND model_version = ?", itemID, modelVersion).
		Order("weight DESC, id ASC").
		Find(&rows).Error
	return rows, err
}

// isUniqueViolation 识别唯一约束冲突（SQLSTATE 23505）
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// 包装后丢失类型信息时按文本兜底
	return strings.Contains(strings.ToLower(err.Error()), "sqlstate 23505")
}
