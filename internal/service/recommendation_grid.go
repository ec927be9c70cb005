package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/user/reelshelf/internal/llm"
	"github.com/user/reelshelf/internal/logger"
	"github.com/user/reelshelf/internal/metrics"
	"github.com/user/reelshelf/internal/model"
	"github.com/user/reelshelf/internal/repository"
	"golang.org/x/sync/singleflight"
)

const maxMatchedThemes = 8

// GridStore 推荐槽位存储
type GridStore interface {
	LatestBatchIDs(ctx context.Context, modelVersion string, selection model.Selection, since time.Time, limit int) ([]uuid.UUID, error)
	ListActiveSlots(ctx context.Context, batchID uuid.UUID) ([]*model.RecommendationSlot, error)
	FindActiveSlot(ctx context.Context, batchID uuid.UUID, slotNumber int) (*model.RecommendationSlot, error)
	ActiveFingerprints(ctx context.Context, modelVersion string, now time.Time) ([]*model.RecommendationSlot, error)
	CreateSlots(ctx context.Context, slots []*model.RecommendationSlot) error
	ReplaceSlot(ctx context.Context, oldID int64, next *model.RecommendationSlot) error
}

// KnownTitleSource 已收录或被用户排除的标题
type KnownTitleSource interface {
	KnownTitles(ctx context.Context, kinds []model.MediaKind) ([]string, error)
}

// ProfileBuilder 口味画像
type ProfileBuilder interface {
	Build(ctx context.Context, modelVersion string) (*model.TasteProfile, error)
}

// GridConfig 推荐网格参数
type GridConfig struct {
	Size      int           // 每批槽位数
	Freshness time.Duration // 指纹有效期
	Lookback  time.Duration // 查找最近批次的回溯窗口
}

// Grid 一个推荐批次的当前状态
type Grid struct {
	BatchID      uuid.UUID                   `json:"batch_id"`
	Selection    model.Selection             `json:"selection"`
	ModelVersion string                      `json:"model_version"`
	Slots        []*model.RecommendationSlot `json:"slots"`
	Shortfall    int                         `json:"shortfall"` // 比请求数量少几个
}

// Candidate 解析后的一条推荐
type Candidate struct {
	Title         string
	MediaKind     model.MediaKind
	Year          *int
	Creator       string
	Reason        string
	MatchedThemes []string
}

// RecommendationService 推荐网格管理
type RecommendationService struct {
	store    GridStore
	known    KnownTitleSource
	profiles ProfileBuilder
	llm      llm.Client
	cfg      GridConfig
	log      *logger.Logger
	now      func() time.Time
	group    singleflight.Group
}

func NewRecommendationService(store GridStore, known KnownTitleSource, profiles ProfileBuilder, client llm.Client, cfg GridConfig, log *logger.Logger) *RecommendationService {
	if cfg.Size <= 0 {
		cfg.Size = 12
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = 7 * 24 * time.Hour
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 30 * 24 * time.Hour
	}
	return &RecommendationService{
		store:    store,
		known:    known,
		profiles: profiles,
		llm:      client,
		cfg:      cfg,
		log:      log.With("component", "recommendation"),
		now:      time.Now,
	}
}

// GetOrCreateGrid 返回最近一个仍有活跃槽位的批次，没有则生成新批次
func (s *RecommendationService) GetOrCreateGrid(ctx context.Context, selection model.Selection, modelVersion string) (*Grid, error) {
	key := string(selection) + "|" + modelVersion
	v, err := coalesce(ctx, &s.group, key, func(ctx context.Context) (interface{}, error) {
		since := s.now().Add(-s.cfg.Lookback)
		ids, err := s.store.LatestBatchIDs(ctx, modelVersion, selection, since, 1)
		if err != nil {
			return nil, fmt.Errorf("find latest batch: %w", err)
		}
		if len(ids) > 0 {
			slots, err := s.store.ListActiveSlots(ctx, ids[0])
			if err != nil {
				return nil, fmt.Errorf("load batch %s: %w", ids[0], err)
			}
			if len(slots) > 0 {
				return &Grid{BatchID: ids[0], Selection: selection, ModelVersion: modelVersion, Slots: slots}, nil
			}
		}
		return s.GenerateNewGrid(ctx, selection, modelVersion)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Grid), nil
}

// GenerateNewGrid 总是生成一个新批次；过滤后不足时写入剩余部分并记录缺口
func (s *RecommendationService) GenerateNewGrid(ctx context.Context, selection model.Selection, modelVersion string) (*Grid, error) {
	now := s.now()
	known, active, err := s.exclusions(ctx, selection, modelVersion, now)
	if err != nil {
		return nil, err
	}
	candidates, err := s.ask(ctx, selection, modelVersion, s.cfg.Size, known, recentTitles(active))
	if err != nil {
		return nil, err
	}
	candidates = filterCandidates(candidates, selection, known, nil, s.cfg.Size)

	grid := &Grid{
		BatchID:      uuid.New(),
		Selection:    selection,
		ModelVersion: modelVersion,
		Slots:        make([]*model.RecommendationSlot, 0, len(candidates)),
		Shortfall:    s.cfg.Size - len(candidates),
	}
	for i, c := range candidates {
		grid.Slots = append(grid.Slots, s.newSlot(grid.BatchID, i+1, selection, modelVersion, c, now))
	}
	if err := s.store.CreateSlots(ctx, grid.Slots); err != nil {
		return nil, fmt.Errorf("persist batch %s: %w", grid.BatchID, err)
	}

	metrics.GridSlotsGenerated.WithLabelValues("grid").Add(float64(len(grid.Slots)))
	if grid.Shortfall > 0 {
		metrics.GridShortfall.Inc()
		s.log.Warn("recommendation grid shortfall",
			"batch_id", grid.BatchID, "selection", selection, "model_version", modelVersion,
			"requested", s.cfg.Size, "persisted", len(grid.Slots))
	}
	s.log.Info("recommendation grid generated",
		"batch_id", grid.BatchID, "selection", selection, "model_version", modelVersion, "slots", len(grid.Slots))
	return grid, nil
}

// RefreshSlot 重新生成单个槽位：写入新记录并让旧记录指向它。
// selection 为空时沿用批次的 selection，与批次不一致时返回 ErrSelectionMismatch
func (s *RecommendationService) RefreshSlot(ctx context.Context, batchID uuid.UUID, slotNumber int, selection model.Selection, modelVersion string) (*model.RecommendationSlot, error) {
	current, err := s.store.FindActiveSlot(ctx, batchID, slotNumber)
	if err != nil {
		return nil, fmt.Errorf("load slot %s/%d: %w", batchID, slotNumber, err)
	}
	if current == nil {
		return nil, fmt.Errorf("slot %s/%d: %w", batchID, slotNumber, ErrNotFound)
	}
	if selection == "" {
		selection = current.Selection
	}
	if selection != current.Selection {
		return nil, fmt.Errorf("slot %s/%d is %s, got %s: %w", batchID, slotNumber, current.Selection, selection, ErrSelectionMismatch)
	}

	now := s.now()
	known, active, err := s.exclusions(ctx, selection, modelVersion, now)
	if err != nil {
		return nil, err
	}
	fingerprints := make(map[string]bool, len(active))
	for _, slot := range active {
		fingerprints[slot.Fingerprint] = true
	}

	candidates, err := s.ask(ctx, selection, modelVersion, 1, known, recentTitles(active))
	if err != nil {
		return nil, err
	}
	candidates = filterCandidates(candidates, selection, known, fingerprints, 1)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("refresh slot %s/%d: %w", batchID, slotNumber, ErrNoCandidates)
	}

	next := s.newSlot(batchID, slotNumber, selection, modelVersion, candidates[0], now)
	if err := s.store.ReplaceSlot(ctx, current.ID, next); err != nil {
		if errors.Is(err, repository.ErrSlotAlreadyReplaced) {
			return nil, fmt.Errorf("slot %s/%d: %w", batchID, slotNumber, ErrNotFound)
		}
		return nil, fmt.Errorf("replace slot %s/%d: %w", batchID, slotNumber, err)
	}
	metrics.GridSlotsGenerated.WithLabelValues("refresh").Inc()
	s.log.Info("recommendation slot refreshed",
		"batch_id", batchID, "slot", slotNumber, "old_id", current.ID, "new_id", next.ID, "title", next.Title)
	return next, nil
}

// exclusions 已知标题（仅限所选媒体类型）和有效期内的推荐
func (s *RecommendationService) exclusions(ctx context.Context, selection model.Selection, modelVersion string, now time.Time) ([]string, []*model.RecommendationSlot, error) {
	known, err := s.known.KnownTitles(ctx, selection.Kinds())
	if err != nil {
		return nil, nil, fmt.Errorf("load known titles: %w", err)
	}
	active, err := s.store.ActiveFingerprints(ctx, modelVersion, now)
	if err != nil {
		return nil, nil, fmt.Errorf("load active fingerprints: %w", err)
	}
	return known, active, nil
}

// recentTitles 有效推荐的标题，去重后保持顺序
func recentTitles(active []*model.RecommendationSlot) []string {
	seen := make(map[string]bool, len(active))
	var out []string
	for _, slot := range active {
		key := normalizeTitle(slot.Title)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, slot.Title)
	}
	return out
}

func (s *RecommendationService) ask(ctx context.Context, selection model.Selection, modelVersion string, count int, known, recent []string) ([]Candidate, error) {
	profile, err := s.profiles.Build(ctx, modelVersion)
	if err != nil {
		return nil, fmt.Errorf("build taste profile: %w", err)
	}
	prompt := buildRecommendationPrompt(profile, selection, count, sortedCopy(known), recent)
	raw, err := s.llm.Complete(ctx, recommendationSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return parseRecommendations(raw)
}

func (s *RecommendationService) newSlot(batchID uuid.UUID, number int, selection model.Selection, modelVersion string, c Candidate, now time.Time) *model.RecommendationSlot {
	return &model.RecommendationSlot{
		BatchID:       batchID,
		SlotNumber:    number,
		Selection:     selection,
		ModelVersion:  modelVersion,
		Title:         c.Title,
		MediaKind:     c.MediaKind,
		Year:          c.Year,
		Creator:       c.Creator,
		Reason:        c.Reason,
		MatchedThemes: c.MatchedThemes,
		Fingerprint:   Fingerprint(c.Title, c.MediaKind),
		ShownAt:       now,
		ExpiresAt:     now.Add(s.cfg.Freshness),
	}
}

// parseRecommendations 根节点必须是数组；单个元素不合格时跳过而不是整体失败
func parseRecommendations(raw string) ([]Candidate, error) {
	body := stripCodeFence(raw)
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(body), &elems); err != nil {
		return nil, invalidFormat("recommendation root: %v", err)
	}
	if elems == nil {
		return nil, invalidFormat("recommendation root is null")
	}

	out := make([]Candidate, 0, len(elems))
	for _, e := range elems {
		c, ok := parseCandidate(e)
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func parseCandidate(raw json.RawMessage) (Candidate, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return Candidate{}, false
	}

	c := Candidate{
		Title:   strings.TrimSpace(stringField(obj, "title")),
		Creator: strings.TrimSpace(stringField(obj, "creator")),
		Reason:  strings.TrimSpace(stringField(obj, "reason")),
	}
	if c.Title == "" || c.Reason == "" {
		return Candidate{}, false
	}
	kind, ok := model.ParseMediaKind(stringField(obj, "type"))
	if !ok {
		return Candidate{}, false
	}
	c.MediaKind = kind
	c.Year = coerceYear(obj["year"])

	if themes, ok := obj["matchedThemes"].([]interface{}); ok {
		for _, t := range themes {
			str, ok := t.(string)
			if !ok || strings.TrimSpace(str) == "" {
				continue
			}
			c.MatchedThemes = append(c.MatchedThemes, strings.TrimSpace(str))
			if len(c.MatchedThemes) == maxMatchedThemes {
				break
			}
		}
	}
	return c, true
}

func stringField(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}

// coerceYear 接受数字或数字字符串
func coerceYear(v interface{}) *int {
	switch x := v.(type) {
	case json.Number:
		if n, err := strconv.Atoi(x.String()); err == nil {
			return &n
		}
		if f, err := x.Float64(); err == nil {
			n := int(f)
			return &n
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return &n
		}
	case float64:
		n := int(x)
		return &n
	}
	return nil
}

// filterCandidates 依次去掉空标题、已知标题、媒体类型不符、有效指纹，再按 (标题, 类型) 去重并截断
func filterCandidates(candidates []Candidate, selection model.Selection, known []string, fingerprints map[string]bool, limit int) []Candidate {
	knownSet := make(map[string]bool, len(known))
	for _, t := range known {
		if k := normalizeTitle(t); k != "" {
			knownSet[k] = true
		}
	}

	type dedupKey struct {
		title string
		kind  model.MediaKind
	}
	seen := make(map[dedupKey]bool, len(candidates))
	out := make([]Candidate, 0, limit)
	for _, c := range candidates {
		title := normalizeTitle(c.Title)
		if title == "" {
			continue
		}
		if knownSet[title] {
			continue
		}
		if !selection.Allows(c.MediaKind) {
			continue
		}
		if fingerprints[Fingerprint(c.Title, c.MediaKind)] {
			continue
		}
		k := dedupKey{title, c.MediaKind}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

// normalizeTitle 小写并合并空白，用于标题比较
func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// Fingerprint 推荐内容指纹：规范化标题 + 媒体类型的 sha256 前 32 位
func Fingerprint(title string, kind model.MediaKind) string {
	sum := sha256.Sum256([]byte(normalizeTitle(title) + "|" + string(kind)))
	return hex.EncodeToString(sum[:])[:32]
}
