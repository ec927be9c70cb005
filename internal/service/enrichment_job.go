package service

import (
	"context"
	"sync"
	"time"

	"github.com/user/reelshelf/internal/logger"
)

// EnrichmentConfig 定时补全任务参数
type EnrichmentConfig struct {
	Interval     time.Duration // 0 表示不启动
	BatchSize    int
	ModelVersion string
}

// EnrichmentJob 定时为未打标的条目打标、为未打分的条目计算维度向量
type EnrichmentJob struct {
	tagging    *TaggingService
	dimensions *DimensionService
	cfg        EnrichmentConfig
	log        *logger.Logger

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// NewEnrichmentJob 创建补全任务
func NewEnrichmentJob(tagging *TaggingService, dimensions *DimensionService, cfg EnrichmentConfig, log *logger.Logger) *EnrichmentJob {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &EnrichmentJob{
		tagging:    tagging,
		dimensions: dimensions,
		cfg:        cfg,
		log:        log.With("component", "enrichment"),
	}
}

// Start 启动定时任务，启动时先运行一次
func (j *EnrichmentJob) Start(ctx context.Context) {
	if j.cfg.Interval <= 0 {
		j.log.Info("enrichment job disabled")
		return
	}
	ctx, j.cancel = context.WithCancel(ctx)

	j.done.Add(1)
	go func() {
		defer j.done.Done()
		ticker := time.NewTicker(j.cfg.Interval)
		defer ticker.Stop()

		j.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.RunOnce(ctx)
			}
		}
	}()
	j.log.Info("enrichment job started", "interval", j.cfg.Interval, "batch_size", j.cfg.BatchSize)
}

// Stop 停止任务并等待当前一轮结束
func (j *EnrichmentJob) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.done.Wait()
}

// RunOnce 跑一轮：先打标，再打分
func (j *EnrichmentJob) RunOnce(ctx context.Context) {
	tagged, err := j.tagging.TagAllUntagged(ctx, j.cfg.BatchSize, j.cfg.ModelVersion)
	if err != nil {
		j.log.Error("enrichment tagging failed", "error", err)
	}

	scored, err := j.dimensions.ScoreUnscored(ctx, j.cfg.BatchSize, j.cfg.ModelVersion)
	if err != nil {
		j.log.Error("enrichment scoring failed", "error", err)
	}

	j.log.Info("enrichment round finished", "model_version", j.cfg.ModelVersion, "tagged", len(tagged), "scored", scored)
}
