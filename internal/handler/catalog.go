package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/user/reelshelf/internal/model"
	"github.com/user/reelshelf/internal/utils"
)

type itemRequest struct {
	MediaKind   string                 `json:"media_kind" binding:"required"`
	Title       string                 `json:"title" binding:"required"`
	Year        *int                   `json:"year" binding:"omitempty,gte=1800,lte=2100"`
	Creator     string                 `json:"creator"`
	Description string                 `json:"description"`
	ProviderIDs map[string]interface{} `json:"provider_ids"`
}

func (r itemRequest) toItem() (*model.CatalogItem, bool) {
	kind, ok := model.ParseMediaKind(r.MediaKind)
	if !ok || strings.TrimSpace(r.Title) == "" {
		return nil, false
	}
	return &model.CatalogItem{
		MediaKind:   kind,
		Title:       strings.TrimSpace(r.Title),
		Year:        r.Year,
		Creator:     strings.TrimSpace(r.Creator),
		Description: strings.TrimSpace(r.Description),
		ProviderIDs: r.ProviderIDs,
	}, true
}

// CreateItem 新增条目，写入后异步打标
func (h *Handler) CreateItem(c *gin.Context) {
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	item, ok := req.toItem()
	if !ok {
		utils.BadRequest(c, "media_kind 只能是 MOVIE 或 BOOK")
		return
	}
	if err := h.Items.Create(c.Request.Context(), item); err != nil {
		h.fail(c, err)
		return
	}

	h.Tagging.TagAsync(item.ID, h.modelVersion(c))
	utils.Success(c, item)
}

// FillItemMetadata 用外部元数据补全空字段，用户填写过的字段不会被覆盖
func (h *Handler) FillItemMetadata(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		utils.BadRequest(c, "无效的条目ID")
		return
	}
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	incoming, ok := req.toItem()
	if !ok {
		utils.BadRequest(c, "media_kind 只能是 MOVIE 或 BOOK")
		return
	}

	item, err := h.Items.FillMissing(c.Request.Context(), id, incoming)
	if err != nil {
		h.fail(c, err)
		return
	}
	if item == nil {
		utils.NotFound(c, "条目不存在")
		return
	}
	utils.Success(c, item)
}

type ratingRequest struct {
	Rating *int   `json:"rating" binding:"omitempty,gte=1,lte=5"`
	Status string `json:"status" binding:"required,max=32"`
	Notes  string `json:"notes" binding:"max=2000"`
}

// AddRating 追加一条评分/状态记录
func (h *Handler) AddRating(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		utils.BadRequest(c, "无效的条目ID")
		return
	}
	var req ratingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	item, err := h.Items.FindByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if item == nil {
		utils.NotFound(c, "条目不存在")
		return
	}

	ev := &model.RatingEvent{ItemID: id, Rating: req.Rating, Status: req.Status, Notes: req.Notes}
	if err := h.History.Append(c.Request.Context(), ev); err != nil {
		h.fail(c, err)
		return
	}
	if ev.Rating != nil {
		h.profileCache.Clear()
	}
	utils.Success(c, ev)
}

// ==================== 永不推荐 ====================

type exclusionRequest struct {
	MediaKind  string  `json:"media_kind" binding:"required"`
	Title      string  `json:"title" binding:"required"`
	ExternalID *string `json:"external_id"`
}

// ListExclusions 永不推荐列表
func (h *Handler) ListExclusions(c *gin.Context) {
	rows, err := h.Exclusions.ListAll(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, rows)
}

// AddExclusion 添加永不推荐的标题
func (h *Handler) AddExclusion(c *gin.Context) {
	var req exclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	kind, ok := model.ParseMediaKind(req.MediaKind)
	if !ok {
		utils.BadRequest(c, "media_kind 只能是 MOVIE 或 BOOK")
		return
	}
	e := &model.Exclusion{MediaKind: kind, Title: strings.TrimSpace(req.Title), ExternalID: req.ExternalID}
	if err := h.Exclusions.Create(c.Request.Context(), e); err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, e)
}

// DeleteExclusion 删除排除项
func (h *Handler) DeleteExclusion(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		utils.BadRequest(c, "无效的ID")
		return
	}
	deleted, err := h.Exclusions.Delete(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !deleted {
		utils.NotFound(c, "")
		return
	}
	utils.Success(c, gin.H{"id": id})
}
