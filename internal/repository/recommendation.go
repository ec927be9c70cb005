package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/user/reelshelf/internal/model"
	"gorm.io/gorm"
)

// ErrSlotAlreadyReplaced 槽位在刷新过程中已被其他请求替换
var ErrSlotAlreadyReplaced = errors.New("slot already replaced")

type RecommendationRepository struct {
	db *gorm.DB
}

func NewRecommendationRepository(db *gorm.DB) *RecommendationRepository {
	return &RecommendationRepository{db: db}
}

// LatestBatchIDs 回溯窗口内最近的批次，按创建时间倒序
func (r *RecommendationRepository) LatestBatchIDs(ctx context.Context, modelVersion string, selection model.Selection, since time.Time, limit int) ([]uuid.UUID, error) {
	var rows []struct {
		BatchID uuid.UUID
		Created time.Time
	}
	err := conn(ctx, r.db).Model(&model.RecommendationSlot{}).
		Select("batch_id, MAX(created_at) AS created").
		Where("model_version = ? AND selection = ? AND created_at >= ?", modelVersion, selection, since).
		Group("batch_id").
		Order("created DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.BatchID)
	}
	return ids, nil
}

// ListActiveSlots 批次中未被替换的槽位，按槽位号排序
func (r *RecommendationRepository) ListActiveSlots(ctx context.Context, batchID uuid.UUID) ([]*model.RecommendationSlot, error) {
	var slots []*model.RecommendationSlot
	err := conn(ctx, r.db).
		Where("batch_id = ? AND replaced_by_id IS NULL", batchID).
		Order("slot_number ASC").
		Find(&slots).Error
	return slots, err
}

// FindActiveSlot 不存在或已被替换时返回 nil, nil
func (r *RecommendationRepository) FindActiveSlot(ctx context.Context, batchID uuid.UUID, slotNumber int) (*model.RecommendationSlot, error) {
	var slot model.RecommendationSlot
	err := conn(ctx, r.db).
		Where("batch_id = ? AND slot_number = ? AND replaced_by_id IS NULL", batchID, slotNumber).
		First(&slot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &slot, nil
}

// ActiveFingerprints 模型版本下仍在有效期内且未被替换的推荐
func (r *RecommendationRepository) ActiveFingerprints(ctx context.Context, modelVersion string, now time.Time) ([]*model.RecommendationSlot, error) {
	var slots []*model.RecommendationSlot
	err := conn(ctx, r.db).
		Select("id", "title", "media_kind", "fingerprint", "expires_at").
		Where("model_version = ? AND replaced_by_id IS NULL AND expires_at > ?", modelVersion, now).
		Order("created_at DESC").
		Find(&slots).Error
	return slots, err
}

// CreateSlots 一次性写入一个批次的全部槽位
func (r *RecommendationRepository) CreateSlots(ctx context.Context, slots []*model.RecommendationSlot) error {
	if len(slots) == 0 {
		return nil
	}
	return conn(ctx, r.db).Create(&slots).Error
}

// ReplaceSlot 写入新槽位并把旧槽位指向它；旧槽位已被替换时回滚并返回 ErrSlotAlreadyReplaced
func (r *RecommendationRepository) ReplaceSlot(ctx context.Context, oldID int64, next *model.RecommendationSlot) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(next).Error; err != nil {
			return err
		}
		res := tx.Model(&model.RecommendationSlot{}).
			Where("id = ? AND replaced_by_id IS NULL", oldID).
			Update("replaced_by_id", next.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSlotAlreadyReplaced
		}
		return nil
	})
}
