package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/user/reelshelf/internal/model"
	"github.com/user/reelshelf/internal/service"
	"github.com/user/reelshelf/internal/utils"
)

// ==================== 打标 ====================

// TagItem 为单个条目打标
func (h *Handler) TagItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		utils.BadRequest(c, "无效的条目ID")
		return
	}
	mv := h.modelVersion(c)

	outcome, err := h.Tagging.TagItem(c.Request.Context(), id, mv)
	if err != nil {
		h.fail(c, err)
		return
	}
	if outcome.Status == service.TagStatusTagged {
		h.profileCache.Delete(mv)
	}
	utils.Success(c, outcome)
}

// BackfillTags 为尚无标签的条目批量打标
func (h *Handler) BackfillTags(c *gin.Context) {
	mv := h.modelVersion(c)
	limit := queryLimit(c, 20, 200)

	ids, err := h.Tagging.TagAllUntagged(c.Request.Context(), limit, mv)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(ids) > 0 {
		h.profileCache.Delete(mv)
	}
	utils.Success(c, gin.H{"model_version": mv, "tagged": ids})
}

// ==================== 口味画像 ====================

// TasteProfile 返回口味画像，refresh=1 时跳过缓存
func (h *Handler) TasteProfile(c *gin.Context) {
	mv := h.modelVersion(c)
	p, err := h.profileCache.GetOrLoad(mv, c.Query("refresh") == "1", func() (*model.TasteProfile, error) {
		return h.Profiles.Build(c.Request.Context(), mv)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, p)
}

// ==================== 推荐 ====================

// GetGrid 返回当前推荐网格，没有则生成
func (h *Handler) GetGrid(c *gin.Context) {
	sel, ok := h.selection(c)
	if !ok {
		utils.BadRequest(c, "selection 只能是 MOVIES、BOOKS 或 BOTH")
		return
	}
	grid, err := h.Recommendations.GetOrCreateGrid(c.Request.Context(), sel, h.modelVersion(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, grid)
}

// GenerateGrid 强制生成新的推荐网格
func (h *Handler) GenerateGrid(c *gin.Context) {
	sel, ok := h.selection(c)
	if !ok {
		utils.BadRequest(c, "selection 只能是 MOVIES、BOOKS 或 BOTH")
		return
	}
	grid, err := h.Recommendations.GenerateNewGrid(c.Request.Context(), sel, h.modelVersion(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, grid)
}

// RefreshSlot 重新生成单个槽位
func (h *Handler) RefreshSlot(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("batch"))
	if err != nil {
		utils.BadRequest(c, "无效的批次ID")
		return
	}
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot <= 0 {
		utils.BadRequest(c, "无效的槽位号")
		return
	}
	// 未指定时由服务沿用批次的 selection
	var sel model.Selection
	if raw := c.Query("selection"); raw != "" {
		parsed, ok := model.ParseSelection(raw)
		if !ok {
			utils.BadRequest(c, "selection 只能是 MOVIES、BOOKS 或 BOTH")
			return
		}
		sel = parsed
	}

	next, err := h.Recommendations.RefreshSlot(c.Request.Context(), batchID, slot, sel, h.modelVersion(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, next)
}

// ==================== 维度 ====================

type dimensionResponse struct {
	ItemID       int64              `json:"item_id"`
	ModelVersion string             `json:"model_version"`
	Scores       map[string]float64 `json:"scores"`
}

// ScoreItem 计算条目的维度向量（已存在时直接返回）
func (h *Handler) ScoreItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		utils.BadRequest(c, "无效的条目ID")
		return
	}
	mv := h.modelVersion(c)

	item, err := h.Items.FindByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if item == nil {
		utils.NotFound(c, "条目不存在")
		return
	}

	vec, ok := h.Dimensions.ScoreItem(c.Request.Context(), item, mv)
	if !ok {
		utils.BadGateway(c, "未能生成维度向量")
		return
	}
	utils.Success(c, dimensionResponse{ItemID: item.ID, ModelVersion: mv, Scores: vec.Scores()})
}

// BackfillDimensions 为尚无向量的条目批量打分
func (h *Handler) BackfillDimensions(c *gin.Context) {
	mv := h.modelVersion(c)
	n, err := h.Dimensions.ScoreUnscored(c.Request.Context(), queryLimit(c, 20, 200), mv)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, gin.H{"model_version": mv, "scored": n})
}

// SimilarItems 维度向量最接近的条目
func (h *Handler) SimilarItems(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		utils.BadRequest(c, "无效的条目ID")
		return
	}
	rows, err := h.Dimensions.Similar(c.Request.Context(), id, h.modelVersion(c), queryLimit(c, 10, 50))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, rows)
}
