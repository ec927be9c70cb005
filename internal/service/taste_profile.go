package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/user/reelshelf/internal/logger"
	"github.com/user/reelshelf/internal/model"
)

// TasteSource 画像所需的评分数据
type TasteSource interface {
	ListRatedTagRows(ctx context.Context, modelVersion string) ([]model.RatedTagRow, error)
	ListLatestRatings(ctx context.Context) ([]model.RatedTitle, error)
}

// ProfileConfig 画像参数
type ProfileConfig struct {
	TopTags   int // 每个分类保留的标签数
	TopTitles int // 最喜欢/最不喜欢各保留的标题数
	// HalfLife 评分时间衰减的半衰期，0 表示不衰减
	HalfLife time.Duration
	// Multipliers 评分 -> 贡献系数，最低分必须为 0
	Multipliers map[int]float64
}

// DefaultProfileConfig 默认参数
func DefaultProfileConfig() ProfileConfig {
	return ProfileConfig{
		TopTags:   15,
		TopTitles: 10,
		Multipliers: map[int]float64{
			5: 2.0,
			4: 1.5,
			3: 1.0,
			2: 0.5,
			1: 0.0,
		},
	}
}

// TasteProfileService 实时计算口味画像
type TasteProfileService struct {
	source TasteSource
	cfg    ProfileConfig
	log    *logger.Logger
	now    func() time.Time
}

func NewTasteProfileService(source TasteSource, cfg ProfileConfig, log *logger.Logger) *TasteProfileService {
	if cfg.Multipliers == nil {
		cfg.Multipliers = DefaultProfileConfig().Multipliers
	}
	if cfg.TopTags <= 0 {
		cfg.TopTags = 15
	}
	if cfg.TopTitles <= 0 {
		cfg.TopTitles = 10
	}
	return &TasteProfileService{
		source: source,
		cfg:    cfg,
		log:    log.With("component", "taste_profile"),
		now:    time.Now,
	}
}

// Build 计算指定模型版本下的口味画像；没有已评分且已打标的条目时返回空画像
func (s *TasteProfileService) Build(ctx context.Context, modelVersion string) (*model.TasteProfile, error) {
	rows, err := s.source.ListRatedTagRows(ctx, modelVersion)
	if err != nil {
		return nil, fmt.Errorf("load rated tags: %w", err)
	}
	ratings, err := s.source.ListLatestRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ratings: %w", err)
	}

	now := s.now()
	profile := &model.TasteProfile{
		ModelVersion: modelVersion,
		Categories:   make(map[model.TagCategory][]model.ScoredTag, len(model.TagCategories)),
		ComputedAt:   now,
	}

	acc := make(map[model.TagCategory]map[string]float64, len(model.TagCategories))
	for _, c := range model.TagCategories {
		acc[c] = make(map[string]float64)
	}
	for _, row := range rows {
		bucket, ok := acc[row.Category]
		if !ok {
			continue
		}
		name := NormalizeTagName(row.TagName)
		if name == "" {
			continue
		}
		bucket[name] += row.Weight * s.multiplier(row.Rating) * s.decay(now, row.RatedAt)
	}
	for _, c := range model.TagCategories {
		profile.Categories[c] = topScored(acc[c], s.cfg.TopTags)
	}

	profile.TopTitles, profile.BottomTitles = splitTitles(ratings, s.cfg.TopTitles)
	s.log.Debug("taste profile built", "model_version", modelVersion, "rows", len(rows), "rated_titles", len(ratings))
	return profile, nil
}

func (s *TasteProfileService) multiplier(rating int) float64 {
	return s.cfg.Multipliers[rating]
}

// decay 按评分时间指数衰减，未配置半衰期时恒为 1
func (s *TasteProfileService) decay(now, ratedAt time.Time) float64 {
	if s.cfg.HalfLife <= 0 || ratedAt.IsZero() {
		return 1
	}
	age := now.Sub(ratedAt)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(s.cfg.HalfLife))
}

// topScored 按分类最大值归一化，去掉非正分后取前 k 个
func topScored(scores map[string]float64, k int) []model.ScoredTag {
	maxScore := 0.0
	for _, v := range scores {
		if v > maxScore {
			maxScore = v
		}
	}
	if maxScore <= 0 {
		return []model.ScoredTag{}
	}

	out := make([]model.ScoredTag, 0, len(scores))
	for name, v := range scores {
		if v <= 0 {
			continue
		}
		out = append(out, model.ScoredTag{Name: name, Score: clamp01(v / maxScore)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// splitTitles 按标题去重（后出现的覆盖先出现的），返回评分最高和最低的各 k 个，两者不重叠
func splitTitles(ratings []model.RatedTitle, k int) (top, bottom []model.RatedTitle) {
	byTitle := make(map[string]model.RatedTitle, len(ratings))
	order := make([]string, 0, len(ratings))
	for _, r := range ratings {
		key := normalizeTitle(r.Title)
		if key == "" {
			continue
		}
		if _, seen := byTitle[key]; !seen {
			order = append(order, key)
		}
		byTitle[key] = r
	}

	all := make([]model.RatedTitle, 0, len(order))
	for _, key := range order {
		all = append(all, byTitle[key])
	}

	desc := append([]model.RatedTitle(nil), all...)
	sort.SliceStable(desc, func(i, j int) bool {
		if desc[i].Rating != desc[j].Rating {
			return desc[i].Rating > desc[j].Rating
		}
		if !desc[i].RatedAt.Equal(desc[j].RatedAt) {
			return desc[i].RatedAt.After(desc[j].RatedAt)
		}
		return strings.ToLower(desc[i].Title) < strings.ToLower(desc[j].Title)
	})
	top = make([]model.RatedTitle, 0, k)
	inTop := make(map[string]bool, k)
	for _, r := range desc {
		if len(top) == k {
			break
		}
		top = append(top, r)
		inTop[normalizeTitle(r.Title)] = true
	}

	bottom = make([]model.RatedTitle, 0, k)
	for i := len(desc) - 1; i >= 0 && len(bottom) < k; i-- {
		if inTop[normalizeTitle(desc[i].Title)] {
			continue
		}
		bottom = append(bottom, desc[i])
	}
	return top, bottom
}
