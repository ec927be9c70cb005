// Package metrics 定义 Prometheus 指标，通过 /metrics 暴露
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLMRequestDuration LLM 请求耗时（仅成功请求）
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Latency of successful LLM completion requests",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		},
		[]string{"provider"},
	)

	// LLMTokens LLM token 用量
	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Tokens reported by the LLM provider",
		},
		[]string{"provider", "kind"}, // kind: prompt, completion
	)

	// LLMErrors LLM 调用失败次数
	LLMErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_errors_total",
			Help: "Failed LLM completion requests",
		},
		[]string{"provider"},
	)

	// TaggingOutcomes 打标结果计数
	TaggingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagging_outcomes_total",
			Help: "Tagging coordinator outcomes",
		},
		[]string{"outcome"}, // tagged, lock_busy, degenerate, error
	)

	// GridSlotsGenerated 写入的推荐槽位数
	GridSlotsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendation_slots_generated_total",
			Help: "Recommendation slots written",
		},
		[]string{"mode"}, // grid, refresh
	)

	// GridShortfall 推荐数量不足的次数
	GridShortfall = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommendation_grid_shortfall_total",
			Help: "Grids persisted with fewer slots than requested",
		},
	)

	// DimensionVectors 维度打分结果
	DimensionVectors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dimension_vectors_total",
			Help: "Dimension scoring results",
		},
		[]string{"result"}, // scored, existing, failed
	)
)
