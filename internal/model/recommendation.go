package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Selection 推荐范围
type Selection string

const (
	SelectionMovies Selection = "MOVIES"
	SelectionBooks  Selection = "BOOKS"
	SelectionBoth   Selection = "BOTH"
)

// ParseSelection 解析推荐范围（不区分大小写）
func ParseSelection(s string) (Selection, bool) {
	switch Selection(strings.ToUpper(strings.TrimSpace(s))) {
	case SelectionMovies:
		return SelectionMovies, true
	case SelectionBooks:
		return SelectionBooks, true
	case SelectionBoth:
		return SelectionBoth, true
	}
	return "", false
}

// Kinds 返回该范围包含的媒体类型
func (s Selection) Kinds() []MediaKind {
	switch s {
	case SelectionMovies:
		return []MediaKind{MediaMovie}
	case SelectionBooks:
		return []MediaKind{MediaBook}
	default:
		return []MediaKind{MediaMovie, MediaBook}
	}
}

// Allows 判断媒体类型是否属于该范围
func (s Selection) Allows(kind MediaKind) bool {
	for _, k := range s.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// RecommendationSlot 推荐网格中的一个槽位记录
// 刷新不会修改原记录内容，而是插入新记录并通过 ReplacedByID 指向它
type RecommendationSlot struct {
	ID            int64          `json:"id" gorm:"primaryKey"`
	BatchID       uuid.UUID      `json:"batch_id" gorm:"type:uuid;not null;index:idx_slot_batch_number"`
	SlotNumber    int            `json:"slot_number" gorm:"not null;index:idx_slot_batch_number"`
	Selection     Selection      `json:"selection" gorm:"type:varchar(8);not null;index:idx_slot_batch_lookup"`
	ModelVersion  string         `json:"model_version" gorm:"type:varchar(64);not null;index:idx_slot_batch_lookup;index:idx_slot_fingerprint"`
	Title         string         `json:"title" gorm:"not null"`
	MediaKind     MediaKind      `json:"media_kind" gorm:"type:varchar(8);not null"`
	Year          *int           `json:"year,omitempty"`
	Creator       string         `json:"creator,omitempty"`
	Reason        string         `json:"reason"`
	MatchedThemes pq.StringArray `json:"matched_themes" gorm:"type:text[]"`
	Fingerprint   string         `json:"fingerprint" gorm:"type:varchar(64);not null;index:idx_slot_fingerprint"`
	ShownAt       time.Time      `json:"shown_at"`
	ExpiresAt     time.Time      `json:"expires_at" gorm:"index:idx_slot_fingerprint"`
	ReplacedByID  *int64         `json:"replaced_by_id,omitempty" gorm:"index"`
	CreatedAt     time.Time      `json:"created_at" gorm:"index:idx_slot_batch_lookup"`
}

func (RecommendationSlot) TableName() string { return "recommendation_slots" }

// Active 未被替换的槽位
func (s *RecommendationSlot) Active() bool {
	return s.ReplacedByID == nil
}

// FingerprintActive 指纹是否仍在有效期内（未过期且未被替换）
func (s *RecommendationSlot) FingerprintActive(now time.Time) bool {
	return s.ReplacedByID == nil && now.Before(s.ExpiresAt)
}
