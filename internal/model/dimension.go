package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Dimensions 维度名称，顺序即向量下标，不可调整
var Dimensions = []string{
	"pacing",
	"darkness",
	"humor",
	"complexity",
	"emotional_intensity",
	"realism",
	"violence",
	"romance",
	"hopefulness",
	"intellectual_depth",
	"action",
	"strangeness",
}

// DimensionVector 条目的维度向量，每个 (条目, 模型版本) 只写一次
type DimensionVector struct {
	ID           int64           `json:"id" gorm:"primaryKey"`
	ItemID       int64           `json:"item_id" gorm:"not null;uniqueIndex:idx_dim_item_model"`
	ModelVersion string          `json:"model_version" gorm:"type:varchar(64);not null;uniqueIndex:idx_dim_item_model"`
	Vector       pgvector.Vector `json:"-" gorm:"type:vector(12);not null"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (DimensionVector) TableName() string { return "dimension_vectors" }

// NewDimensionVector 按 Dimensions 顺序组装向量，缺失的维度为 0
func NewDimensionVector(itemID int64, modelVersion string, scores map[string]float64) *DimensionVector {
	vals := make([]float32, len(Dimensions))
	for i, name := range Dimensions {
		vals[i] = float32(scores[name])
	}
	return &DimensionVector{
		ItemID:       itemID,
		ModelVersion: modelVersion,
		Vector:       pgvector.NewVector(vals),
	}
}

// Scores 将向量还原为 维度 -> 分数
func (v *DimensionVector) Scores() map[string]float64 {
	vals := v.Vector.Slice()
	out := make(map[string]float64, len(Dimensions))
	for i, name := range Dimensions {
		if i < len(vals) {
			out[name] = float64(vals[i])
		}
	}
	return out
}

// SimilarItem 维度向量相近的条目，Distance 为余弦距离
type SimilarItem struct {
	ItemID    int64     `json:"item_id"`
	Title     string    `json:"title"`
	MediaKind MediaKind `json:"media_kind"`
	Distance  float64   `json:"distance"`
}
