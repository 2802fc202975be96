package chat

import (
    "net/http"
    "time"

    "github.com/bytedance/sonic"
    "github.com/gin-gonic/gin"
    "github.com/google/uuid"

    "github.com/chongs12/contextual-kb/internal/common/apperr"
    "github.com/chongs12/contextual-kb/pkg/logger"
    "github.com/chongs12/contextual-kb/pkg/metrics"
    "github.com/chongs12/contextual-kb/pkg/middleware"
)

// Handler 对话模块的路由处理器
type Handler struct {
    service *Service
}

var chatBM = metrics.NewBusinessMetrics(metrics.DefaultRegistry(), "ckb")

// NewHandler 创建处理器
func NewHandler(service *Service) *Handler { return &Handler{service: service} }

// ChatRequest 请求体，session_id 缺省时新开会话
type ChatRequest struct {
    Question  string `json:"question" binding:"required"`
    SessionID string `json:"session_id"`
}

// Query 同步问答
func (h *Handler) Query(c *gin.Context) {
    ctx := c.Request.Context()

    var req ChatRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    if req.SessionID == "" {
        req.SessionID = uuid.New().String()
    }

    start := time.Now()
    res, err := h.service.Query(ctx, req.SessionID, req.Question)
    if err != nil {
        logger.Error(ctx, "Chat query failed", "session_id", req.SessionID, "error", err.Error())
        chatBM.ChatQueryTotal.WithLabelValues("chat", "fail").Inc()
        chatBM.ChatQueryDuration.WithLabelValues("chat", "fail").Observe(time.Since(start).Seconds())
        status := http.StatusInternalServerError
        if apperr.Is(err, apperr.KindGeneration) {
            status = http.StatusBadGateway
        }
        c.JSON(status, gin.H{"error": "chat query failed"})
        return
    }
    c.JSON(http.StatusOK, gin.H{
        "answer":     res.Answer,
        "sources":    res.Sources,
        "session_id": req.SessionID,
        "latency_ms": time.Since(start).Milliseconds(),
    })
    chatBM.ChatQueryTotal.WithLabelValues("chat", "success").Inc()
    chatBM.ChatQueryDuration.WithLabelValues("chat", "success").Observe(time.Since(start).Seconds())
}

// QueryStream 流式问答（SSE）。增量走默认事件，来源在终态以 sources 事件下发
func (h *Handler) QueryStream(c *gin.Context) {
    ctx := c.Request.Context()

    var req ChatRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    if req.SessionID == "" {
        req.SessionID = uuid.New().String()
    }

    c.Writer.Header().Set("Content-Type", "text/event-stream")
    c.Writer.Header().Set("Cache-Control", "no-cache")
    c.Writer.Header().Set("Connection", "keep-alive")
    c.Writer.Header().Set("X-Session-ID", req.SessionID)

    events := h.service.QueryStream(ctx, req.SessionID, req.Question)
    c.Status(http.StatusOK)

    // 心跳：每 5 秒发送 ping 事件，提示客户端维持连接
    heartbeat := time.NewTicker(5 * time.Second)
    defer heartbeat.Stop()
    for {
        select {
        case ev, ok := <-events:
            if !ok {
                return
            }
            switch {
            case ev.Err != nil:
                logger.Error(ctx, "Chat stream error", "session_id", req.SessionID, "error", ev.Err.Error())
                _, _ = c.Writer.Write([]byte("event: error\n" + "data: " + ev.Err.Error() + "\n\n"))
                c.Writer.Flush()
                return
            case ev.Final != nil:
                payload, err := sonic.Marshal(gin.H{"sources": ev.Final.Sources, "session_id": req.SessionID})
                if err == nil {
                    _, _ = c.Writer.Write([]byte("event: sources\n" + "data: " + string(payload) + "\n\n"))
                }
                _, _ = c.Writer.Write([]byte("event: done\n" + "data: end\n\n"))
                c.Writer.Flush()
            default:
                _, _ = c.Writer.Write([]byte("data: " + ev.Delta + "\n\n"))
                c.Writer.Flush()
            }
        case <-heartbeat.C:
            _, _ = c.Writer.Write([]byte("event: ping\n" + "data: heartbeat\n\n"))
            c.Writer.Flush()
        case <-ctx.Done():
            return
        }
    }
}

// DeleteSession 丢弃会话记忆
func (h *Handler) DeleteSession(c *gin.Context) {
    sessionID := c.Param("id")
    h.service.DeleteSession(sessionID)
    c.JSON(http.StatusOK, gin.H{"message": "session deleted", "session_id": sessionID})
}

// SetupRoutes 注册路由
func (h *Handler) SetupRoutes(router *gin.Engine, authMiddleware *middleware.AuthMiddleware) {
    group := router.Group("/api/v1/chat")
    group.Use(authMiddleware.RequireAuth())
    group.POST("/query", h.Query)
    group.POST("/query/stream", h.QueryStream)
    group.DELETE("/sessions/:id", h.DeleteSession)
}
