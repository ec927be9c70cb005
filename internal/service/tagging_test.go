package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/user/reelshelf/internal/llm"
	"github.com/user/reelshelf/internal/logger"
	"github.com/user/reelshelf/internal/model"
	"github.com/user/reelshelf/internal/repository"
)

const blindsightTags = `{"themes": {"First Contact": 0.9, "consciousness": 0.8}, "moods": {"eerie": 0.6}, "tones": {}, "settings": {"deep space": 0.7}}`

func newTaggingFixture(llmClient llm.Client) (*TaggingService, *fakeCatalog, *fakeTagStore) {
	catalog := &fakeCatalog{items: map[int64]*model.CatalogItem{
		1: {ID: 1, MediaKind: model.MediaBook, Title: "Blindsight"},
		2: {ID: 2, MediaKind: model.MediaMovie, Title: "Arrival"},
	}}
	tags := newFakeTagStore()
	svc := NewTaggingService(catalog, tags, repository.NewMemoryLocker(), llmClient, logger.Nop())
	return svc, catalog, tags
}

func TestTagItemReplacesAssignments(t *testing.T) {
	fake := &fakeLLM{responses: []string{blindsightTags}}
	svc, _, tags := newTaggingFixture(fake)
	ctx := context.Background()

	// 旧标签必须被整体替换
	grief, _ := tags.FindOrCreate(ctx, model.CategoryTheme, "grief")
	_ = tags.ReplaceAssignments(ctx, 1, "v1", []model.ItemTagAssignment{{ItemID: 1, TagID: grief.ID, ModelVersion: "v1", Weight: 0.9}})

	outcome, err := svc.TagItem(ctx, 1, "v1")
	if err != nil {
		t.Fatalf("TagItem() error = %v", err)
	}
	if outcome.Status != TagStatusTagged {
		t.Fatalf("status = %s, want tagged", outcome.Status)
	}

	want := map[string]float64{
		"THEME/first contact": 0.9,
		"THEME/consciousness": 0.8,
		"MOOD/eerie":          0.6,
		"SETTING/deep space":  0.7,
	}
	if got := tags.read(1, "v1"); !reflect.DeepEqual(got, want) {
		t.Fatalf("assignments = %v, want %v", got, want)
	}
}

func TestTagItemKeepsModelVersionsApart(t *testing.T) {
	fake := &fakeLLM{responses: []string{blindsightTags}}
	svc, _, tags := newTaggingFixture(fake)
	ctx := context.Background()

	if _, err := svc.TagItem(ctx, 1, "v1"); err != nil {
		t.Fatalf("TagItem(v1) error = %v", err)
	}
	if _, err := svc.TagItem(ctx, 1, "v2"); err != nil {
		t.Fatalf("TagItem(v2) error = %v", err)
	}
	if len(tags.read(1, "v1")) != 4 || len(tags.read(1, "v2")) != 4 {
		t.Fatalf("expected both model versions to keep their own assignments")
	}
}

func TestTagItemDegenerateKeepsExisting(t *testing.T) {
	fake := &fakeLLM{responses: []string{`{"themes": {"": 0.5, "x": 0}, "moods": null, "tones": {}, "settings": {}}`}}
	svc, _, tags := newTaggingFixture(fake)
	ctx := context.Background()

	grief, _ := tags.FindOrCreate(ctx, model.CategoryTheme, "grief")
	_ = tags.ReplaceAssignments(ctx, 1, "v1", []model.ItemTagAssignment{{ItemID: 1, TagID: grief.ID, ModelVersion: "v1", Weight: 0.9}})
	before := tags.read(1, "v1")
	writes := tags.writes

	outcome, err := svc.TagItem(ctx, 1, "v1")
	if err != nil {
		t.Fatalf("TagItem() error = %v", err)
	}
	if outcome.Status != TagStatusDegenerate {
		t.Fatalf("status = %s, want degenerate", outcome.Status)
	}
	if tags.writes != writes {
		t.Fatalf("degenerate result must not write")
	}
	if got := tags.read(1, "v1"); !reflect.DeepEqual(got, before) {
		t.Fatalf("assignments changed: %v, want %v", got, before)
	}
}

func TestTagItemErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("item not found", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{blindsightTags}}
		svc, _, _ := newTaggingFixture(fake)
		_, err := svc.TagItem(ctx, 99, "v1")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
		if fake.Calls() != 0 {
			t.Fatalf("llm called for missing item")
		}
	})

	t.Run("provider error propagates", func(t *testing.T) {
		fake := &fakeLLM{err: &llm.ProviderError{Provider: "gemini", StatusCode: 500}}
		svc, _, tags := newTaggingFixture(fake)
		_, err := svc.TagItem(ctx, 1, "v1")
		if !llm.IsProviderError(err) {
			t.Fatalf("error = %v, want ProviderError", err)
		}
		if tags.writes != 0 {
			t.Fatalf("no write expected on provider failure")
		}
	})

	t.Run("parse error propagates", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{`{"themes": {}}`}}
		svc, _, _ := newTaggingFixture(fake)
		_, err := svc.TagItem(ctx, 1, "v1")
		if !errors.Is(err, ErrMissingCategory) {
			t.Fatalf("error = %v, want ErrMissingCategory", err)
		}
	})
}

func TestTagItemLockBusy(t *testing.T) {
	fake := &fakeLLM{
		responses: []string{blindsightTags},
		entered:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	svc, _, tags := newTaggingFixture(fake)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		first *TagOutcome
		err   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, err = svc.TagItem(ctx, 1, "v1")
	}()
	<-fake.entered

	second, err2 := svc.TagItem(ctx, 1, "v1")
	if err2 != nil {
		t.Fatalf("second TagItem() error = %v", err2)
	}
	if second.Status != TagStatusLockBusy {
		t.Fatalf("second status = %s, want lock_busy", second.Status)
	}

	close(fake.release)
	wg.Wait()
	if err != nil || first.Status != TagStatusTagged {
		t.Fatalf("first TagItem() = %+v, %v", first, err)
	}
	if fake.Calls() != 1 || tags.writes != 1 {
		t.Fatalf("expected exactly one llm call and one write, got %d calls, %d writes", fake.Calls(), tags.writes)
	}
}

func TestTagAllUntaggedContinuesPastFailures(t *testing.T) {
	fake := &fakeLLM{responses: []string{"not json", blindsightTags}}
	svc, catalog, tags := newTaggingFixture(fake)
	catalog.untagged = []int64{1, 2, 99}

	ok, err := svc.TagAllUntagged(context.Background(), 10, "v1")
	if err != nil {
		t.Fatalf("TagAllUntagged() error = %v", err)
	}
	if !reflect.DeepEqual(ok, []int64{2}) {
		t.Fatalf("succeeded = %v, want [2]", ok)
	}
	if len(tags.read(1, "v1")) != 0 || len(tags.read(2, "v1")) != 4 {
		t.Fatalf("unexpected assignments after batch")
	}
}

func TestTagAsync(t *testing.T) {
	fake := &fakeLLM{responses: []string{blindsightTags}}
	svc, _, tags := newTaggingFixture(fake)

	svc.TagAsync(2, "v1")
	svc.Wait()

	if len(tags.read(2, "v1")) != 4 {
		t.Fatalf("async tagging did not write assignments")
	}
}

func TestTagAsyncBoundsInFlight(t *testing.T) {
	fake := &fakeLLM{
		responses: []string{blindsightTags},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	svc, catalog, tags := newTaggingFixture(fake)
	svc.WithAsyncLimit(2)
	for id := int64(3); id <= 6; id++ {
		catalog.items[id] = &model.CatalogItem{ID: id, MediaKind: model.MediaBook, Title: "Item"}
	}

	for id := int64(1); id <= 6; id++ {
		svc.TagAsync(id, "v1")
	}
	<-fake.entered
	<-fake.entered
	select {
	case <-fake.entered:
		t.Fatalf("a third async tagging started while two were in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(fake.release)
	for i := 0; i < 4; i++ {
		<-fake.entered
	}
	svc.Wait()

	if fake.Calls() != 6 {
		t.Fatalf("llm calls = %d, want 6", fake.Calls())
	}
	for id := int64(1); id <= 6; id++ {
		if len(tags.read(id, "v1")) != 4 {
			t.Fatalf("item %d was not tagged", id)
		}
	}
}

func TestTagLockKeyDeterministic(t *testing.T) {
	if TagLockKey(1, "v1") != TagLockKey(1, "v1") {
		t.Fatalf("lock key not deterministic")
	}
	if TagLockKey(1, "v1") == TagLockKey(1, "v2") || TagLockKey(1, "v1") == TagLockKey(2, "v1") {
		t.Fatalf("lock keys collide for different inputs")
	}
}
