package model

import "time"

// RatedTagRow 一个已评分条目与其某个标签的组合（评分取最近一次带评分的记录）
type RatedTagRow struct {
	ItemID   int64
	Title    string
	Rating   int
	RatedAt  time.Time
	Category TagCategory
	TagName  string
	Weight   float64
}

// RatedTitle 条目最近一次评分
type RatedTitle struct {
	ItemID    int64     `json:"item_id"`
	Title     string    `json:"title"`
	MediaKind MediaKind `json:"media_kind"`
	Rating    int       `json:"rating"`
	RatedAt   time.Time `json:"rated_at"`
}

// ScoredTag 画像中的标签得分，已归一化到 [0,1]
type ScoredTag struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// TasteProfile 口味画像，实时计算，不落库
type TasteProfile struct {
	ModelVersion string                      `json:"model_version"`
	Categories   map[TagCategory][]ScoredTag `json:"categories"`
	TopTitles    []RatedTitle                `json:"top_titles"`
	BottomTitles []RatedTitle                `json:"bottom_titles"`
	ComputedAt   time.Time                   `json:"computed_at"`
}

// Score 查询某个标签的得分
func (p *TasteProfile) Score(category TagCategory, name string) (float64, bool) {
	for _, t := range p.Categories[category] {
		if t.Name == name {
			return t.Score, true
		}
	}
	return 0, false
}

// Empty 是否没有任何可用数据
func (p *TasteProfile) Empty() bool {
	for _, tags := range p.Categories {
		if len(tags) > 0 {
			return false
		}
	}
	return len(p.TopTitles) == 0 && len(p.BottomTitles) == 0
}
