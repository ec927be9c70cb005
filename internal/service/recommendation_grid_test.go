package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/user/reelshelf/internal/llm"
	"github.com/user/reelshelf/internal/logger"
	"github.com/user/reelshelf/internal/model"
)

var gridNow = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newGridFixture(fake *fakeLLM, known []string, size int) (*RecommendationService, *fakeGridStore) {
	store := &fakeGridStore{}
	svc := NewRecommendationService(store, fakeKnown(known), staticProfile{}, fake, GridConfig{
		Size:      size,
		Freshness: 7 * 24 * time.Hour,
		Lookback:  30 * 24 * time.Hour,
	}, logger.Nop())
	svc.now = func() time.Time { return gridNow }
	return svc, store
}

func rec(title, kind string) string {
	return `{"title": "` + title + `", "type": "` + kind + `", "year": 1965, "creator": "x", "reason": "because", "matchedThemes": ["first contact"]}`
}

func TestGenerateNewGridFiltersKnownAndDuplicates(t *testing.T) {
	resp := "[" + strings.Join([]string{rec("Dune", "BOOK"), rec("Foundation", "BOOK"), rec("Foundation", "BOOK")}, ",") + "]"
	fake := &fakeLLM{responses: []string{resp}}
	svc, store := newGridFixture(fake, []string{"dune"}, 9)

	grid, err := svc.GenerateNewGrid(context.Background(), model.SelectionBooks, "v1")
	if err != nil {
		t.Fatalf("GenerateNewGrid() error = %v", err)
	}
	if len(grid.Slots) != 1 || grid.Slots[0].Title != "Foundation" {
		t.Fatalf("slots = %+v, want only Foundation", grid.Slots)
	}
	if grid.Shortfall != 8 {
		t.Fatalf("shortfall = %d, want 8", grid.Shortfall)
	}
	s := grid.Slots[0]
	if s.SlotNumber != 1 || s.Fingerprint != Fingerprint("foundation", model.MediaBook) {
		t.Fatalf("slot = %+v", s)
	}
	if !s.ExpiresAt.Equal(gridNow.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expires_at = %v", s.ExpiresAt)
	}
	if len(store.slots) != 1 {
		t.Fatalf("persisted %d slots, want 1", len(store.slots))
	}
	if !strings.Contains(fake.LastPrompt(), "- dune") {
		t.Fatalf("known titles missing from prompt:\n%s", fake.LastPrompt())
	}
}

func TestGenerateNewGridSelectionAndTruncation(t *testing.T) {
	resp := "```json\n[" + strings.Join([]string{
		rec("Arrival", "MOVIE"),
		rec("Solaris", "BOOK"),
		rec("Contact", "movie"),
		rec("Annihilation", "MOVIE"),
		`{"title": "", "type": "MOVIE", "reason": "r"}`,
		`{"title": "Sphere", "type": "GAME", "reason": "r"}`,
		`{"title": "Sunshine", "type": "MOVIE"}`,
		`42`,
	}, ",") + "]\n```"
	fake := &fakeLLM{responses: []string{resp}}
	svc, _ := newGridFixture(fake, nil, 2)

	grid, err := svc.GenerateNewGrid(context.Background(), model.SelectionMovies, "v1")
	if err != nil {
		t.Fatalf("GenerateNewGrid() error = %v", err)
	}
	if len(grid.Slots) != 2 || grid.Slots[0].Title != "Arrival" || grid.Slots[1].Title != "Contact" {
		t.Fatalf("slots = %+v", grid.Slots)
	}
	if grid.Shortfall != 0 {
		t.Fatalf("shortfall = %d, want 0", grid.Shortfall)
	}
}

func TestGenerateNewGridRejectsNonArray(t *testing.T) {
	fake := &fakeLLM{responses: []string{`{"title": "Dune"}`}}
	svc, store := newGridFixture(fake, nil, 3)

	_, err := svc.GenerateNewGrid(context.Background(), model.SelectionBoth, "v1")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("error = %v, want ErrInvalidFormat", err)
	}
	if len(store.slots) != 0 {
		t.Fatalf("nothing should be persisted on parse failure")
	}
}

func TestGetOrCreateGridReusesActiveBatch(t *testing.T) {
	fake := &fakeLLM{responses: []string{"[" + rec("Foundation", "BOOK") + "," + rec("Hyperion", "BOOK") + "]"}}
	svc, _ := newGridFixture(fake, nil, 2)
	ctx := context.Background()

	first, err := svc.GetOrCreateGrid(ctx, model.SelectionBooks, "v1")
	if err != nil {
		t.Fatalf("GetOrCreateGrid() error = %v", err)
	}
	second, err := svc.GetOrCreateGrid(ctx, model.SelectionBooks, "v1")
	if err != nil {
		t.Fatalf("GetOrCreateGrid() error = %v", err)
	}
	if first.BatchID != second.BatchID || len(second.Slots) != 2 {
		t.Fatalf("expected the same batch to be reused: %v vs %v", first.BatchID, second.BatchID)
	}
	if fake.Calls() != 1 {
		t.Fatalf("llm calls = %d, want 1", fake.Calls())
	}

	other, err := svc.GetOrCreateGrid(ctx, model.SelectionBooks, "v2")
	if err != nil {
		t.Fatalf("GetOrCreateGrid(v2) error = %v", err)
	}
	if other.BatchID == first.BatchID {
		t.Fatalf("different model version must get its own batch")
	}
}

func TestGetOrCreateGridOutlivesCancelledCaller(t *testing.T) {
	fake := &fakeLLM{
		responses: []string{"[" + rec("Foundation", "BOOK") + "]"},
		entered:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	svc, _ := newGridFixture(fake, nil, 1)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := svc.GetOrCreateGrid(ctxA, model.SelectionBooks, "v1")
		errA <- err
	}()
	<-fake.entered

	type result struct {
		grid *Grid
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		g, err := svc.GetOrCreateGrid(context.Background(), model.SelectionBooks, "v1")
		resB <- result{g, err}
	}()

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(fake.release)
	b := <-resB
	if b.err != nil {
		t.Fatalf("second caller error = %v", b.err)
	}
	if len(b.grid.Slots) != 1 || b.grid.Slots[0].Title != "Foundation" {
		t.Fatalf("second caller grid = %+v", b.grid.Slots)
	}
	if fake.Calls() != 1 {
		t.Fatalf("llm calls = %d, want 1", fake.Calls())
	}
}

func TestRefreshSlot(t *testing.T) {
	fake := &fakeLLM{responses: []string{
		"[" + rec("Foundation", "BOOK") + "," + rec("Hyperion", "BOOK") + "]",
		"[" + rec("Hyperion", "BOOK") + "," + rec("Ubik", "BOOK") + "]",
	}}
	svc, store := newGridFixture(fake, nil, 2)
	ctx := context.Background()

	grid, err := svc.GenerateNewGrid(ctx, model.SelectionBooks, "v1")
	if err != nil {
		t.Fatalf("GenerateNewGrid() error = %v", err)
	}
	old := grid.Slots[1]

	next, err := svc.RefreshSlot(ctx, grid.BatchID, 2, model.SelectionBooks, "v1")
	if err != nil {
		t.Fatalf("RefreshSlot() error = %v", err)
	}
	// Hyperion 的指纹仍有效，只能选 Ubik
	if next.Title != "Ubik" || next.SlotNumber != 2 || next.BatchID != grid.BatchID {
		t.Fatalf("new slot = %+v", next)
	}
	if old.ReplacedByID == nil || *old.ReplacedByID != next.ID {
		t.Fatalf("old slot replaced_by = %v, want %d", old.ReplacedByID, next.ID)
	}

	active, _ := store.ListActiveSlots(ctx, grid.BatchID)
	if len(active) != 2 || active[1].Title != "Ubik" {
		t.Fatalf("active slots = %+v", active)
	}
	if !strings.Contains(fake.LastPrompt(), "Recommend exactly 1 books") {
		t.Fatalf("refresh prompt should request one item:\n%s", fake.LastPrompt())
	}
}

func TestRefreshSlotInheritsBatchSelection(t *testing.T) {
	fake := &fakeLLM{responses: []string{
		"[" + rec("Arrival", "MOVIE") + "]",
		"[" + rec("Ubik", "BOOK") + "," + rec("Stalker", "MOVIE") + "]",
	}}
	svc, _ := newGridFixture(fake, nil, 1)
	ctx := context.Background()

	grid, err := svc.GenerateNewGrid(ctx, model.SelectionMovies, "v1")
	if err != nil {
		t.Fatalf("GenerateNewGrid() error = %v", err)
	}
	next, err := svc.RefreshSlot(ctx, grid.BatchID, 1, "", "v1")
	if err != nil {
		t.Fatalf("RefreshSlot() error = %v", err)
	}
	if next.Selection != model.SelectionMovies || next.MediaKind != model.MediaMovie || next.Title != "Stalker" {
		t.Fatalf("refreshed slot = %+v, want a MOVIES slot for Stalker", next)
	}
	if !strings.Contains(fake.LastPrompt(), "Recommend exactly 1 movies") {
		t.Fatalf("refresh prompt should ask for movies:\n%s", fake.LastPrompt())
	}
}

func TestRefreshSlotErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown slot", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{"[" + rec("Foundation", "BOOK") + "]"}}
		svc, _ := newGridFixture(fake, nil, 1)
		grid, _ := svc.GenerateNewGrid(ctx, model.SelectionBooks, "v1")
		_, err := svc.RefreshSlot(ctx, grid.BatchID, 5, model.SelectionBooks, "v1")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("replaced concurrently", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{
			"[" + rec("Foundation", "BOOK") + "]",
			"[" + rec("Ubik", "BOOK") + "]",
		}}
		svc, store := newGridFixture(fake, nil, 1)
		grid, _ := svc.GenerateNewGrid(ctx, model.SelectionBooks, "v1")
		svc.store = &racingGridStore{fakeGridStore: store}

		_, err := svc.RefreshSlot(ctx, grid.BatchID, 1, model.SelectionBooks, "v1")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("selection mismatch", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{"[" + rec("Arrival", "MOVIE") + "]", "[" + rec("Ubik", "BOOK") + "]"}}
		svc, store := newGridFixture(fake, nil, 1)
		grid, _ := svc.GenerateNewGrid(ctx, model.SelectionMovies, "v1")
		_, err := svc.RefreshSlot(ctx, grid.BatchID, 1, model.SelectionBoth, "v1")
		if !errors.Is(err, ErrSelectionMismatch) {
			t.Fatalf("error = %v, want ErrSelectionMismatch", err)
		}
		if fake.Calls() != 1 || len(store.slots) != 1 {
			t.Fatalf("mismatched refresh must not call the llm or write slots")
		}
	})

	t.Run("nothing usable", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{
			"[" + rec("Foundation", "BOOK") + "]",
			"[" + rec("Foundation", "BOOK") + "]",
		}}
		svc, _ := newGridFixture(fake, nil, 1)
		grid, _ := svc.GenerateNewGrid(ctx, model.SelectionBooks, "v1")
		_, err := svc.RefreshSlot(ctx, grid.BatchID, 1, model.SelectionBooks, "v1")
		if !errors.Is(err, ErrNoCandidates) {
			t.Fatalf("error = %v, want ErrNoCandidates", err)
		}
		if !IsUpstreamError(err) {
			t.Fatalf("ErrNoCandidates should map to an upstream error")
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{"[" + rec("Foundation", "BOOK") + "]"}}
		svc, _ := newGridFixture(fake, nil, 1)
		grid, _ := svc.GenerateNewGrid(ctx, model.SelectionBooks, "v1")
		fake.err = &llm.ProviderError{Provider: "ollama", Message: "timeout"}
		_, err := svc.RefreshSlot(ctx, grid.BatchID, 1, model.SelectionBooks, "v1")
		if !llm.IsProviderError(err) {
			t.Fatalf("error = %v, want ProviderError", err)
		}
	})
}

func TestParseRecommendationsCoercion(t *testing.T) {
	got, err := parseRecommendations(`[{"title": " Ubik ", "type": "book", "year": "1969", "reason": "r",
		"matchedThemes": ["a","b","c","d","e","f","g","h","i","j"]},
		{"title": "Stalker", "type": "MOVIE", "year": "unknown", "reason": "r"}]`)
	if err != nil {
		t.Fatalf("parseRecommendations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates", len(got))
	}
	if got[0].Title != "Ubik" || got[0].Year == nil || *got[0].Year != 1969 || len(got[0].MatchedThemes) != maxMatchedThemes {
		t.Fatalf("first candidate = %+v", got[0])
	}
	if got[1].Year != nil {
		t.Fatalf("non-numeric year should be dropped, got %v", *got[1].Year)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("  The  Left Hand of Darkness", model.MediaBook)
	b := Fingerprint("the left hand of darkness", model.MediaBook)
	if a != b || len(a) != 32 {
		t.Fatalf("fingerprints differ: %s vs %s", a, b)
	}
	if a == Fingerprint("the left hand of darkness", model.MediaMovie) {
		t.Fatalf("fingerprint must include media kind")
	}
}

// racingGridStore 模拟另一个请求在读取之后、替换之前抢先替换了槽位
type racingGridStore struct {
	*fakeGridStore
}

func (r *racingGridStore) FindActiveSlot(ctx context.Context, batchID uuid.UUID, slotNumber int) (*model.RecommendationSlot, error) {
	slot, err := r.fakeGridStore.FindActiveSlot(ctx, batchID, slotNumber)
	if slot != nil {
		other := &model.RecommendationSlot{BatchID: batchID, SlotNumber: slotNumber, ShownAt: gridNow}
		if err := r.fakeGridStore.ReplaceSlot(ctx, slot.ID, other); err != nil {
			return nil, err
		}
	}
	return slot, err
}
