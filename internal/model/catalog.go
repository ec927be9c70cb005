package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// MediaKind 媒体类型
type MediaKind string

const (
	MediaMovie MediaKind = "MOVIE"
	MediaBook  MediaKind = "BOOK"
)

// ParseMediaKind 解析媒体类型（不区分大小写）
func ParseMediaKind(s string) (MediaKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MOVIE":
		return MediaMovie, true
	case "BOOK":
		return MediaBook, true
	}
	return "", false
}

// CatalogItem 条目（电影/图书）
type CatalogItem struct {
	ID          int64             `json:"id" gorm:"primaryKey"`
	MediaKind   MediaKind         `json:"media_kind" gorm:"type:varchar(8);not null;index"`
	Title       string            `json:"title" gorm:"not null"`
	Year        *int              `json:"year,omitempty"`
	Creator     string            `json:"creator,omitempty"` // 导演或作者
	Description string            `json:"description,omitempty"`
	ProviderIDs datatypes.JSONMap `json:"provider_ids,omitempty" gorm:"type:jsonb"` // 如 {"tmdb": "603", "openlibrary": "OL..."}
	CreatedAt   time.Time         `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (CatalogItem) TableName() string { return "catalog_items" }

// MergeMissing 用外部数据补全空字段，已有值（可能是用户编辑过的）一律不覆盖
func (c *CatalogItem) MergeMissing(other *CatalogItem) {
	if other == nil {
		return
	}
	if c.Year == nil && other.Year != nil {
		y := *other.Year
		c.Year = &y
	}
	if c.Creator == "" {
		c.Creator = other.Creator
	}
	if c.Description == "" {
		c.Description = other.Description
	}
	for k, v := range other.ProviderIDs {
		if c.ProviderIDs == nil {
			c.ProviderIDs = datatypes.JSONMap{}
		}
		if _, ok := c.ProviderIDs[k]; !ok {
			c.ProviderIDs[k] = v
		}
	}
}

// RatingEvent 评分/状态历史，只追加不修改
type RatingEvent struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	ItemID    int64     `json:"item_id" gorm:"not null;index:idx_rating_item_time"`
	Rating    *int      `json:"rating,omitempty"` // 1-5，可为空
	Status    string    `json:"status"`           // watched / want_to / dropped ...
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_rating_item_time"`
}

func (RatingEvent) TableName() string { return "rating_events" }

// Exclusion 用户声明永不推荐的条目
type Exclusion struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	MediaKind  MediaKind `json:"media_kind" gorm:"type:varchar(8);not null"`
	ExternalID *string   `json:"external_id,omitempty"`
	Title      string    `json:"title" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Exclusion) TableName() string { return "exclusions" }
