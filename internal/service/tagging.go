package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/user/reelshelf/internal/llm"
	"github.com/user/reelshelf/internal/logger"
	"github.com/user/reelshelf/internal/metrics"
	"github.com/user/reelshelf/internal/model"
)

// CatalogReader 条目读取
type CatalogReader interface {
	FindByID(ctx context.Context, id int64) (*model.CatalogItem, error)
	ListUntaggedIDs(ctx context.Context, modelVersion string, limit int) ([]int64, error)
}

// TagStore 标签写入
type TagStore interface {
	FindOrCreate(ctx context.Context, category model.TagCategory, name string) (*model.Tag, error)
	ReplaceAssignments(ctx context.Context, itemID int64, modelVersion string, rows []model.ItemTagAssignment) error
}

// Locker 非阻塞互斥：拿不到锁返回 false，fn 结束后锁一定释放
type Locker interface {
	TryWithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) (bool, error)
}

// TagStatus 打标结果
type TagStatus string

const (
	TagStatusTagged     TagStatus = "tagged"
	TagStatusLockBusy   TagStatus = "lock_busy"  // 其他请求正在处理同一个 key
	TagStatusDegenerate TagStatus = "degenerate" // LLM 返回了空标签集，保留原有标签
)

// TagOutcome 一次 TagItem 的结果
type TagOutcome struct {
	ItemID       int64         `json:"item_id"`
	ModelVersion string        `json:"model_version"`
	Status       TagStatus     `json:"status"`
	Tags         []WeightedTag `json:"tags,omitempty"`
}

// TaggingService 负责条目的 LLM 打标
type TaggingService struct {
	catalog CatalogReader
	tags    TagStore
	locker  Locker
	llm     llm.Client
	log     *logger.Logger
	now     func() time.Time

	asyncTimeout time.Duration
	asyncSlots   chan struct{}
	wg           sync.WaitGroup
}

const defaultAsyncLimit = 4

// NewTaggingService 创建打标服务
func NewTaggingService(catalog CatalogReader, tags TagStore, locker Locker, client llm.Client, log *logger.Logger) *TaggingService {
	return &TaggingService{
		catalog:      catalog,
		tags:         tags,
		locker:       locker,
		llm:          client,
		log:          log.With("component", "tagging"),
		now:          time.Now,
		asyncTimeout: 3 * time.Minute,
		asyncSlots:   make(chan struct{}, defaultAsyncLimit),
	}
}

// WithAsyncLimit 限制同时进行的异步打标数；每个打标在锁事务里占用一个数据库连接
func (s *TaggingService) WithAsyncLimit(n int) *TaggingService {
	if n > 0 {
		s.asyncSlots = make(chan struct{}, n)
	}
	return s
}

// TagLockKey (条目, 模型版本) 对应的 64 位锁 key
func TagLockKey(itemID int64, modelVersion string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("item_tags:"))
	_, _ = h.Write([]byte(strconv.FormatInt(itemID, 10)))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(modelVersion))
	return int64(h.Sum64())
}

// TagItem 为条目生成标签并整体替换；同一 (条目, 模型版本) 同时只有一个请求在执行
func (s *TaggingService) TagItem(ctx context.Context, itemID int64, modelVersion string) (*TagOutcome, error) {
	outcome := &TagOutcome{ItemID: itemID, ModelVersion: modelVersion}

	acquired, err := s.locker.TryWithLock(ctx, TagLockKey(itemID, modelVersion), func(ctx context.Context) error {
		return s.tagLocked(ctx, outcome)
	})
	if err != nil {
		metrics.TaggingOutcomes.WithLabelValues("error").Inc()
		return nil, err
	}
	if !acquired {
		outcome.Status = TagStatusLockBusy
		s.log.Debug("tagging skipped, lock busy", "item_id", itemID, "model_version", modelVersion)
	}
	metrics.TaggingOutcomes.WithLabelValues(string(outcome.Status)).Inc()
	return outcome, nil
}

func (s *TaggingService) tagLocked(ctx context.Context, outcome *TagOutcome) error {
	item, err := s.catalog.FindByID(ctx, outcome.ItemID)
	if err != nil {
		return fmt.Errorf("load item %d: %w", outcome.ItemID, err)
	}
	if item == nil {
		return fmt.Errorf("item %d: %w", outcome.ItemID, ErrNotFound)
	}

	raw, err := s.llm.Complete(ctx, tagSystemPrompt, buildTagPrompt(item))
	if err != nil {
		return err
	}
	parsed, err := ParseTagResponse(raw)
	if err != nil {
		return err
	}
	set := NormalizeTags(parsed)
	if set.Len() == 0 {
		outcome.Status = TagStatusDegenerate
		s.log.Warn("llm returned no usable tags, keeping existing assignments",
			"item_id", item.ID, "model_version", outcome.ModelVersion)
		return nil
	}

	// 先构建完整的替换集合，再动已有数据
	generatedAt := s.now()
	rows := make([]model.ItemTagAssignment, 0, set.Len())
	for _, t := range set.Tags() {
		tag, err := s.tags.FindOrCreate(ctx, t.Category, t.Name)
		if err != nil {
			return fmt.Errorf("resolve tag %s/%s: %w", t.Category, t.Name, err)
		}
		rows = append(rows, model.ItemTagAssignment{
			ItemID:       item.ID,
			TagID:        tag.ID,
			ModelVersion: outcome.ModelVersion,
			Weight:       t.Weight,
			GeneratedAt:  generatedAt,
		})
	}

	if err := s.tags.ReplaceAssignments(ctx, item.ID, outcome.ModelVersion, rows); err != nil {
		return fmt.Errorf("replace assignments for item %d: %w", item.ID, err)
	}
	outcome.Status = TagStatusTagged
	outcome.Tags = set.Tags()
	s.log.Debug("item tagged", "item_id", item.ID, "model_version", outcome.ModelVersion, "tags", formatTagSet(set))
	return nil
}

// TagAllUntagged 为最多 limit 个尚无标签的条目打标，单个失败不影响其余条目，返回成功的条目 ID
func (s *TaggingService) TagAllUntagged(ctx context.Context, limit int, modelVersion string) ([]int64, error) {
	ids, err := s.catalog.ListUntaggedIDs(ctx, modelVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("list untagged items: %w", err)
	}

	succeeded := make([]int64, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		outcome, err := s.TagItem(ctx, id, modelVersion)
		if err != nil {
			s.log.Warn("tagging failed, continuing", "item_id", id, "model_version", modelVersion, "error", err)
			continue
		}
		if outcome.Status == TagStatusTagged {
			succeeded = append(succeeded, id)
		}
	}
	s.log.Info("batch tagging finished", "model_version", modelVersion, "candidates", len(ids), "tagged", len(succeeded))
	return succeeded, nil
}

// TagAsync 条目写入后异步打标，不阻塞写请求；超出并发上限的排队等待
func (s *TaggingService) TagAsync(itemID int64, modelVersion string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.asyncSlots <- struct{}{}
		defer func() { <-s.asyncSlots }()

		ctx, cancel := context.WithTimeout(context.Background(), s.asyncTimeout)
		defer cancel()
		if _, err := s.TagItem(ctx, itemID, modelVersion); err != nil {
			s.log.Warn("async tagging failed", "item_id", itemID, "model_version", modelVersion, "error", err)
		}
	}()
}

// Wait 等待所有异步打标结束（关闭服务时调用）
func (s *TaggingService) Wait() {
	s.wg.Wait()
}
