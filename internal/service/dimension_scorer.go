package service

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/user/reelshelf/internal/llm"
	"github.com/user/reelshelf/internal/logger"
	"github.com/user/reelshelf/internal/metrics"
	"github.com/user/reelshelf/internal/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// VectorStore 维度向量存储；Save 在已存在时返回库中已有的那条
type VectorStore interface {
	Find(ctx context.Context, itemID int64, modelVersion string) (*model.DimensionVector, error)
	Save(ctx context.Context, v *model.DimensionVector) (*model.DimensionVector, error)
	Nearest(ctx context.Context, v *model.DimensionVector, limit int) ([]model.SimilarItem, error)
}

// UnscoredLister 尚无维度向量的条目
type UnscoredLister interface {
	ListUnscored(ctx context.Context, modelVersion string, limit int) ([]*model.CatalogItem, error)
}

// DimensionService 维度打分，尽力而为：任何失败都只返回"没有向量"
type DimensionService struct {
	vectors     VectorStore
	items       UnscoredLister
	llm         llm.Client
	log         *logger.Logger
	concurrency int
	group       singleflight.Group
}

func NewDimensionService(vectors VectorStore, items UnscoredLister, client llm.Client, concurrency int, log *logger.Logger) *DimensionService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &DimensionService{
		vectors:     vectors,
		items:       items,
		llm:         client,
		log:         log.With("component", "dimensions"),
		concurrency: concurrency,
	}
}

// ScoreItem 已有向量时原样返回，否则调用 LLM 打分并保存；失败时返回 nil, false
func (s *DimensionService) ScoreItem(ctx context.Context, item *model.CatalogItem, modelVersion string) (*model.DimensionVector, bool) {
	key := strconv.FormatInt(item.ID, 10) + ":" + modelVersion
	v, _ := coalesce(ctx, &s.group, key, func(ctx context.Context) (interface{}, error) {
		return s.score(ctx, item, modelVersion), nil
	})
	vec, _ := v.(*model.DimensionVector)
	return vec, vec != nil
}

func (s *DimensionService) score(ctx context.Context, item *model.CatalogItem, modelVersion string) *model.DimensionVector {
	existing, err := s.vectors.Find(ctx, item.ID, modelVersion)
	if err != nil {
		s.fail(item, modelVersion, "load existing vector", err)
		return nil
	}
	if existing != nil {
		metrics.DimensionVectors.WithLabelValues("existing").Inc()
		return existing
	}

	raw, err := s.llm.Complete(ctx, buildDimensionPrompt(), buildDimensionUserPrompt(item))
	if err != nil {
		s.fail(item, modelVersion, "llm call", err)
		return nil
	}
	scores, err := parseDimensions(raw)
	if err != nil {
		s.fail(item, modelVersion, "parse response", err)
		return nil
	}

	saved, err := s.vectors.Save(ctx, model.NewDimensionVector(item.ID, modelVersion, scores))
	if err != nil {
		s.fail(item, modelVersion, "save vector", err)
		return nil
	}
	metrics.DimensionVectors.WithLabelValues("scored").Inc()
	s.log.Debug("dimension vector saved", "item_id", item.ID, "model_version", modelVersion)
	return saved
}

func (s *DimensionService) fail(item *model.CatalogItem, modelVersion, stage string, err error) {
	metrics.DimensionVectors.WithLabelValues("failed").Inc()
	s.log.Warn("dimension scoring failed", "item_id", item.ID, "model_version", modelVersion, "stage", stage, "error", err)
}

// ScoreUnscored 为最多 limit 个尚无向量的条目打分，返回产生的向量数
func (s *DimensionService) ScoreUnscored(ctx context.Context, limit int, modelVersion string) (int, error) {
	items, err := s.items.ListUnscored(ctx, modelVersion, limit)
	if err != nil {
		return 0, err
	}

	var produced int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, item := range items {
		item := item
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if _, ok := s.ScoreItem(gctx, item, modelVersion); ok {
				atomic.AddInt64(&produced, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("batch dimension scoring finished", "model_version", modelVersion, "candidates", len(items), "scored", produced)
	return int(produced), nil
}

// Similar 维度向量最接近的条目；条目尚未打分时返回 ErrNotFound
func (s *DimensionService) Similar(ctx context.Context, itemID int64, modelVersion string, limit int) ([]model.SimilarItem, error) {
	vec, err := s.vectors.Find(ctx, itemID, modelVersion)
	if err != nil {
		return nil, fmt.Errorf("load vector for item %d: %w", itemID, err)
	}
	if vec == nil {
		return nil, fmt.Errorf("vector for item %d: %w", itemID, ErrNotFound)
	}
	return s.vectors.Nearest(ctx, vec, limit)
}

// parseDimensions 解析扁平的 维度 -> 分数 对象；缺失或非数字的维度记为 0
func parseDimensions(raw string) (map[string]float64, error) {
	entries, err := decodeObjectEntries([]byte(stripCodeFence(raw)))
	if err != nil {
		return nil, invalidFormat("dimension response root: %v", err)
	}

	byName := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		v, err := decodeLoose(e.Raw)
		if err != nil {
			continue
		}
		byName[NormalizeTagName(e.Key)] = v
	}

	scores := make(map[string]float64, len(model.Dimensions))
	for _, name := range model.Dimensions {
		// 允许模型用空格代替下划线
		v, ok := byName[name]
		if !ok {
			v = byName[spaced(name)]
		}
		f, ok := coerceNumber(v)
		if !ok {
			f = 0
		}
		scores[name] = clamp01(f)
	}
	return scores, nil
}

func spaced(name string) string {
	b := []byte(name)
	for i := range b {
		if b[i] == '_' {
			b[i] = ' '
		}
	}
	return string(b)
}
