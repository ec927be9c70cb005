package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/user/reelshelf/internal/config"
	"github.com/user/reelshelf/internal/logger"
	"github.com/user/reelshelf/internal/model"
	"github.com/user/reelshelf/internal/service"
	"github.com/user/reelshelf/internal/utils"
)

// Tagger 条目打标
type Tagger interface {
	TagItem(ctx context.Context, itemID int64, modelVersion string) (*service.TagOutcome, error)
	TagAllUntagged(ctx context.Context, limit int, modelVersion string) ([]int64, error)
	TagAsync(itemID int64, modelVersion string)
}

// ProfileBuilder 口味画像
type ProfileBuilder interface {
	Build(ctx context.Context, modelVersion string) (*model.TasteProfile, error)
}

// GridManager 推荐网格
type GridManager interface {
	GetOrCreateGrid(ctx context.Context, selection model.Selection, modelVersion string) (*service.Grid, error)
	GenerateNewGrid(ctx context.Context, selection model.Selection, modelVersion string) (*service.Grid, error)
	RefreshSlot(ctx context.Context, batchID uuid.UUID, slotNumber int, selection model.Selection, modelVersion string) (*model.RecommendationSlot, error)
}

// DimensionScorer 维度打分
type DimensionScorer interface {
	ScoreItem(ctx context.Context, item *model.CatalogItem, modelVersion string) (*model.DimensionVector, bool)
	ScoreUnscored(ctx context.Context, limit int, modelVersion string) (int, error)
	Similar(ctx context.Context, itemID int64, modelVersion string, limit int) ([]model.SimilarItem, error)
}

// ItemStore 条目读写
type ItemStore interface {
	FindByID(ctx context.Context, id int64) (*model.CatalogItem, error)
	Create(ctx context.Context, item *model.CatalogItem) error
	FillMissing(ctx context.Context, id int64, incoming *model.CatalogItem) (*model.CatalogItem, error)
}

// HistoryAppender 评分历史
type HistoryAppender interface {
	Append(ctx context.Context, ev *model.RatingEvent) error
}

// ExclusionStore 永不推荐列表
type ExclusionStore interface {
	Create(ctx context.Context, e *model.Exclusion) error
	Delete(ctx context.Context, id int64) (bool, error)
	ListAll(ctx context.Context) ([]*model.Exclusion, error)
}

// Deps Handler 依赖的服务
type Deps struct {
	Tagging         Tagger
	Profiles        ProfileBuilder
	Recommendations GridManager
	Dimensions      DimensionScorer
	Items           ItemStore
	History         HistoryAppender
	Exclusions      ExclusionStore
}

// Handler HTTP 处理器
type Handler struct {
	Config *config.Config
	Deps

	profileCache *utils.TTLCache[*model.TasteProfile]
	log          *logger.Logger
}

// NewHandler 创建处理器
func NewHandler(cfg *config.Config, deps Deps, log *logger.Logger) *Handler {
	return &Handler{
		Config:       cfg,
		Deps:         deps,
		profileCache: utils.NewTTLCache[*model.TasteProfile](16, cfg.ProfileCacheTTL),
		log:          log.With("component", "http"),
	}
}

// modelVersion 请求未指定时使用配置中的默认版本
func (h *Handler) modelVersion(c *gin.Context) string {
	if mv := strings.TrimSpace(c.Query("model_version")); mv != "" {
		return mv
	}
	return h.Config.ModelVersion
}

func (h *Handler) selection(c *gin.Context) (model.Selection, bool) {
	raw := c.DefaultQuery("selection", string(model.SelectionBoth))
	return model.ParseSelection(raw)
}

func queryLimit(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// statusFor NotFound -> 404，selection 与批次不符 -> 400，LLM 调用或输出问题 -> 502，其余 -> 500
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSelectionMismatch):
		return http.StatusBadRequest
	case service.IsUpstreamError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	switch status {
	case http.StatusNotFound:
		utils.NotFound(c, err.Error())
	case http.StatusBadGateway:
		h.log.Warn("upstream failure", "path", c.FullPath(), "error", err)
		utils.BadGateway(c, err.Error())
	default:
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		utils.InternalServerError(c, "")
	}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model_version": h.Config.ModelVersion})
}
