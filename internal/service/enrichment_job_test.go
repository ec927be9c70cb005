package service

import (
	"context"
	"testing"
	"time"

	"github.com/user/reelshelf/internal/logger"
	"github.com/user/reelshelf/internal/model"
	"github.com/user/reelshelf/internal/repository"
)

// routingLLM 按系统提示词区分打标和维度打分
type routingLLM struct {
	tags, dims string
}

func (r routingLLM) Complete(_ context.Context, systemPrompt, _ string) (string, error) {
	if systemPrompt == tagSystemPrompt {
		return r.tags, nil
	}
	return r.dims, nil
}

func TestEnrichmentJobRunOnce(t *testing.T) {
	catalog := &fakeCatalog{
		items: map[int64]*model.CatalogItem{
			1: {ID: 1, Title: "Blindsight", MediaKind: model.MediaBook},
		},
		untagged: []int64{1},
	}
	client := routingLLM{tags: blindsightTags, dims: `{"strangeness": 0.9}`}
	tags := newFakeTagStore()
	vectors := newFakeVectors()

	tagging := NewTaggingService(catalog, tags, repository.NewMemoryLocker(), client, logger.Nop())
	dims := NewDimensionService(vectors, catalog, client, 1, logger.Nop())
	job := NewEnrichmentJob(tagging, dims, EnrichmentConfig{BatchSize: 5, ModelVersion: "v1"}, logger.Nop())

	job.RunOnce(context.Background())

	if len(tags.read(1, "v1")) != 4 {
		t.Fatalf("item was not tagged")
	}
	if v, _ := vectors.Find(context.Background(), 1, "v1"); v == nil {
		t.Fatalf("item was not scored")
	}
}

func TestEnrichmentJobDisabled(t *testing.T) {
	job := NewEnrichmentJob(nil, nil, EnrichmentConfig{}, logger.Nop())
	job.Start(context.Background())
	job.Stop()
}

func TestEnrichmentJobStartStop(t *testing.T) {
	catalog := &fakeCatalog{items: map[int64]*model.CatalogItem{}}
	client := routingLLM{}
	tagging := NewTaggingService(catalog, newFakeTagStore(), repository.NewMemoryLocker(), client, logger.Nop())
	dims := NewDimensionService(newFakeVectors(), catalog, client, 1, logger.Nop())
	job := NewEnrichmentJob(tagging, dims, EnrichmentConfig{Interval: time.Hour, ModelVersion: "v1"}, logger.Nop())

	job.Start(context.Background())
	job.Stop()
}
