package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/user/reelshelf/internal/model"
	"github.com/user/reelshelf/internal/repository"
)

// fakeLLM 按顺序返回预设响应，最后一个响应重复使用
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int32
	prompts   []string

	entered chan struct{} // 非 nil 时每次调用进入后发送一次
	release chan struct{} // 非 nil 时调用阻塞直到关闭
}

func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.prompts = append(f.prompts, userPrompt)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no response configured")
	}
	i := int(n) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func (f *fakeLLM) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

func (f *fakeLLM) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeCatalog struct {
	items    map[int64]*model.CatalogItem
	untagged []int64
	findErr  error
}

func (f *fakeCatalog) FindByID(_ context.Context, id int64) (*model.CatalogItem, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.items[id], nil
}

func (f *fakeCatalog) ListUntaggedIDs(_ context.Context, _ string, limit int) ([]int64, error) {
	ids := f.untagged
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeCatalog) ListUnscored(_ context.Context, _ string, limit int) ([]*model.CatalogItem, error) {
	ids := make([]int64, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []*model.CatalogItem
	for _, id := range ids {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, f.items[id])
	}
	return out, nil
}

type assignmentKey struct {
	itemID       int64
	modelVersion string
}

type fakeTagStore struct {
	mu          sync.Mutex
	nextID      int64
	tags        map[string]*model.Tag
	assignments map[assignmentKey][]model.ItemTagAssignment
	writes      int
}

func newFakeTagStore() *fakeTagStore {
	return &fakeTagStore{
		tags:        make(map[string]*model.Tag),
		assignments: make(map[assignmentKey][]model.ItemTagAssignment),
	}
}

func (f *fakeTagStore) FindOrCreate(_ context.Context, category model.TagCategory, name string) (*model.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := string(category) + "/" + name
	if t, ok := f.tags[k]; ok {
		return t, nil
	}
	f.nextID++
	t := &model.Tag{ID: f.nextID, Category: category, Name: name}
	f.tags[k] = t
	return t, nil
}

func (f *fakeTagStore) ReplaceAssignments(_ context.Context, itemID int64, modelVersion string, rows []model.ItemTagAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.assignments[assignmentKey{itemID, modelVersion}] = append([]model.ItemTagAssignment(nil), rows...)
	return nil
}

func (f *fakeTagStore) tagName(id int64) string {
	for _, t := range f.tags {
		if t.ID == id {
			return string(t.Category) + "/" + t.Name
		}
	}
	return ""
}

// read 以 "分类/名称" -> 权重 的形式返回
func (f *fakeTagStore) read(itemID int64, modelVersion string) map[string]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64)
	for _, a := range f.assignments[assignmentKey{itemID, modelVersion}] {
		out[f.tagName(a.TagID)] = a.Weight
	}
	return out
}

type fakeTasteSource struct {
	rows    []model.RatedTagRow
	ratings []model.RatedTitle
}

func (f *fakeTasteSource) ListRatedTagRows(context.Context, string) ([]model.RatedTagRow, error) {
	return f.rows, nil
}

func (f *fakeTasteSource) ListLatestRatings(context.Context) ([]model.RatedTitle, error) {
	return f.ratings, nil
}

type fakeGridStore struct {
	mu     sync.Mutex
	nextID int64
	slots  []*model.RecommendationSlot
}

func (f *fakeGridStore) LatestBatchIDs(_ context.Context, modelVersion string, selection model.Selection, since time.Time, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for i := len(f.slots) - 1; i >= 0; i-- {
		s := f.slots[i]
		if s.ModelVersion != modelVersion || s.Selection != selection || s.CreatedAt.Before(since) || seen[s.BatchID] {
			continue
		}
		seen[s.BatchID] = true
		ids = append(ids, s.BatchID)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (f *fakeGridStore) ListActiveSlots(_ context.Context, batchID uuid.UUID) ([]*model.RecommendationSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.RecommendationSlot
	for _, s := range f.slots {
		if s.BatchID == batchID && s.Active() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotNumber < out[j].SlotNumber })
	return out, nil
}

func (f *fakeGridStore) FindActiveSlot(_ context.Context, batchID uuid.UUID, slotNumber int) (*model.RecommendationSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.slots {
		if s.BatchID == batchID && s.SlotNumber == slotNumber && s.Active() {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeGridStore) ActiveFingerprints(_ context.Context, modelVersion string, now time.Time) ([]*model.RecommendationSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.RecommendationSlot
	for _, s := range f.slots {
		if s.ModelVersion == modelVersion && s.FingerprintActive(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeGridStore) CreateSlots(_ context.Context, slots []*model.RecommendationSlot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range slots {
		f.insert(s)
	}
	return nil
}

func (f *fakeGridStore) insert(s *model.RecommendationSlot) {
	f.nextID++
	s.ID = f.nextID
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.ShownAt
	}
	f.slots = append(f.slots, s)
}

func (f *fakeGridStore) ReplaceSlot(_ context.Context, oldID int64, next *model.RecommendationSlot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.slots {
		if s.ID != oldID {
			continue
		}
		if !s.Active() {
			return repository.ErrSlotAlreadyReplaced
		}
		f.insert(next)
		id := next.ID
		s.ReplacedByID = &id
		return nil
	}
	return repository.ErrSlotAlreadyReplaced
}

type fakeKnown []string

func (f fakeKnown) KnownTitles(context.Context, []model.MediaKind) ([]string, error) {
	return []string(f), nil
}

type staticProfile struct{}

func (staticProfile) Build(_ context.Context, modelVersion string) (*model.TasteProfile, error) {
	return &model.TasteProfile{
		ModelVersion: modelVersion,
		Categories: map[model.TagCategory][]model.ScoredTag{
			model.CategoryTheme: {{Name: "first contact", Score: 1}},
		},
	}, nil
}

type fakeVectors struct {
	mu    sync.Mutex
	saved map[assignmentKey]*model.DimensionVector
	saves int
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{saved: make(map[assignmentKey]*model.DimensionVector)}
}

func (f *fakeVectors) Find(_ context.Context, itemID int64, modelVersion string) (*model.DimensionVector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[assignmentKey{itemID, modelVersion}], nil
}

func (f *fakeVectors) Save(_ context.Context, v *model.DimensionVector) (*model.DimensionVector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := assignmentKey{v.ItemID, v.ModelVersion}
	if existing, ok := f.saved[k]; ok {
		return existing, nil
	}
	f.saves++
	f.saved[k] = v
	return v, nil
}

// Nearest 暴力计算余弦距离
func (f *fakeVectors) Nearest(_ context.Context, v *model.DimensionVector, limit int) ([]model.SimilarItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SimilarItem
	for k, other := range f.saved {
		if k.modelVersion != v.ModelVersion || k.itemID == v.ItemID {
			continue
		}
		out = append(out, model.SimilarItem{ItemID: k.itemID, Distance: cosineDistance(v.Vector.Slice(), other.Vector.Slice())})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ItemID < out[j].ItemID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
