package ingest

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/chongs12/contextual-kb/internal/common/apperr"
	"github.com/chongs12/contextual-kb/internal/pacing"
	"github.com/chongs12/contextual-kb/pkg/logger"
	"github.com/chongs12/contextual-kb/pkg/metrics"
	"github.com/chongs12/contextual-kb/pkg/utils"
)

// Expander 用 LLM 为每个分块补充邻近上下文，使其可独立理解
type Expander struct {
	chat    model.BaseChatModel
	pacer   pacing.Pacer
	window  int
	timeout time.Duration
	biz     *metrics.BusinessMetrics
}

func NewExpander(chat model.BaseChatModel, pacer pacing.Pacer, window int, timeout time.Duration, biz *metrics.BusinessMetrics) *Expander {
	return &Expander{chat: chat, pacer: pacer, window: window, timeout: timeout, biz: biz}
}

// ExpandAll 顺序扩写全部分块，相邻调用之间由 pacer 控速。
// 任何一块失败即中止并返回该块的位置，已扩写的结果不保留。
func (e *Expander) ExpandAll(ctx context.Context, path string, chunks []string) ([]string, error) {
	out := make([]string, 0, len(chunks))
	for i := range chunks {
		if err := e.pacer.Wait(ctx); err != nil {
			e.observe(time.Now(), "fail")
			return nil, apperr.New(apperr.KindGeneration, "expand chunk %d of %s: %v", i, path, err)
		}
		start := time.Now()
		enriched, err := e.expandOne(ctx, chunks, i)
		if err != nil {
			e.observe(start, "fail")
			return nil, apperr.New(apperr.KindGeneration, "expand chunk %d of %s: %v", i, path, err)
		}
		e.observe(start, "success")
		logger.Info(ctx, "Chunk expanded", "path", path, "chunk_index", i, "total", len(chunks), "duration_ms", time.Since(start).Milliseconds())
		out = append(out, enriched)
	}
	return out, nil
}

func (e *Expander) observe(start time.Time, status string) {
	if e.biz == nil {
		return
	}
	e.biz.ExpandTotal.WithLabelValues("worker", status).Inc()
	e.biz.ExpandDuration.WithLabelValues("worker", status).Observe(time.Since(start).Seconds())
}

func (e *Expander) expandOne(ctx context.Context, chunks []string, i int) (string, error) {
	prev := neighborsBefore(chunks, i, e.window)
	next := neighborsAfter(chunks, i, e.window)

	cctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	msgs := []*schema.Message{
		{Role: schema.System, Content: expandSystemPrompt},
		{Role: schema.User, Content: renderExpandPrompt(prev, chunks[i], next)},
	}
	resp, err := e.chat.Generate(cctx, msgs)
	if err != nil {
		return "", err
	}
	return utils.Unescape(resp.Content), nil
}

// neighborsBefore 取第 i 块之前最多 window 个分块，保持原文顺序
func neighborsBefore(chunks []string, i, window int) []string {
	lo := i - window
	if lo < 0 {
		lo = 0
	}
	return chunks[lo:i]
}

func neighborsAfter(chunks []string, i, window int) []string {
	hi := i + 1 + window
	if hi > len(chunks) {
		hi = len(chunks)
	}
	return chunks[i+1 : hi]
}
