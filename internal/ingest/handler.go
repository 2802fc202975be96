package ingest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chongs12/contextual-kb/internal/common/apperr"
	"github.com/chongs12/contextual-kb/pkg/logger"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Path string `json:"path" binding:"required"`
}

// RegisterDocument 登记单个来源文件并排队摄取
func (h *Handler) RegisterDocument(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	ctx := c.Request.Context()
	doc, err := h.service.RegisterDocument(ctx, req.Path)
	if err != nil {
		logger.Error(ctx, "Failed to register document", "path", req.Path, "error", err.Error())
		if apperr.Is(err, apperr.KindSource) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register document"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":  "document queued for ingestion",
		"document": doc,
	})
}

// RegisterDirectory 登记目录下全部来源文件
func (h *Handler) RegisterDirectory(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	ctx := c.Request.Context()
	docs, err := h.service.RegisterDirectory(ctx, req.Path)
	if err != nil {
		logger.Error(ctx, "Failed to register directory", "path", req.Path, "error", err.Error())
		if apperr.Is(err, apperr.KindSource) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register directory"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":   "documents queued for ingestion",
		"documents": docs,
	})
}

// GetDocument 查询摄取状态
func (h *Handler) GetDocument(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	doc, err := h.service.GetDocument(ctx, id)
	if err != nil {
		logger.Error(ctx, "Failed to load document", "id", id, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

// ListDocuments 分页列出已登记文档
func (h *Handler) ListDocuments(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)

	ctx := c.Request.Context()
	docs, total, err := h.service.ListDocuments(ctx, page, pageSize)
	if err != nil {
		logger.Error(ctx, "Failed to list documents", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
