package model

import "time"

// TagCategory 标签分类
type TagCategory string

const (
	CategoryTheme   TagCategory = "THEME"
	CategoryMood    TagCategory = "MOOD"
	CategoryTone    TagCategory = "TONE"
	CategorySetting TagCategory = "SETTING"
)

// TagCategories 固定的四个分类，顺序即输出顺序
var TagCategories = []TagCategory{CategoryTheme, CategoryMood, CategoryTone, CategorySetting}

// Tag 全局唯一的 (分类, 规范化名称)
type Tag struct {
	ID        int64       `json:"id" gorm:"primaryKey"`
	Category  TagCategory `json:"category" gorm:"type:varchar(16);not null;uniqueIndex:idx_tag_category_name"`
	Name      string      `json:"name" gorm:"not null;uniqueIndex:idx_tag_category_name"`
	CreatedAt time.Time   `json:"created_at"`
}

func (Tag) TableName() string { return "tags" }

// ItemTagAssignment 条目在某个模型版本下的标签权重
// 同一 (条目, 模型版本) 的整组记录只做整体替换，不做原地修改
type ItemTagAssignment struct {
	ID           int64     `json:"id" gorm:"primaryKey"`
	ItemID       int64     `json:"item_id" gorm:"not null;uniqueIndex:idx_item_tag_model;index:idx_item_model"`
	TagID        int64     `json:"tag_id" gorm:"not null;uniqueIndex:idx_item_tag_model"`
	ModelVersion string    `json:"model_version" gorm:"type:varchar(64);not null;uniqueIndex:idx_item_tag_model;index:idx_item_model"`
	Weight       float64   `json:"weight" gorm:"not null"`
	GeneratedAt  time.Time `json:"generated_at"`
	Tag          *Tag      `json:"tag,omitempty" gorm:"foreignKey:TagID"`
}

func (ItemTagAssignment) TableName() string { return "item_tag_assignments" }
