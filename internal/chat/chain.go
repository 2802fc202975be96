package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/chongs12/contextual-kb/internal/common/apperr"
	"github.com/chongs12/contextual-kb/internal/vector"
	"github.com/chongs12/contextual-kb/pkg/logger"
	"github.com/chongs12/contextual-kb/pkg/utils"
)

// Chain 串起一轮对话：改写 → 检索 → 组装 → 生成 → 记忆提交
type Chain struct {
	chat                    model.BaseChatModel
	retriever               vector.Retriever
	memory                  *SessionStore
	rephraseEnabled         bool
	degradeOnRetrievalError bool
	genTimeout              time.Duration
}

func NewChain(chat model.BaseChatModel, retriever vector.Retriever, memory *SessionStore, rephraseEnabled, degradeOnRetrievalError bool, genTimeout time.Duration) *Chain {
	return &Chain{
		chat:                    chat,
		retriever:               retriever,
		memory:                  memory,
		rephraseEnabled:         rephraseEnabled,
		degradeOnRetrievalError: degradeOnRetrievalError,
		genTimeout:              genTimeout,
	}
}

// TurnResult 一轮对话的完整产出
type TurnResult struct {
	Answer    string         `json:"answer"`
	Rephrased string         `json:"rephrased"`
	Sources   []string       `json:"sources"`
	Matches   []vector.Match `json:"-"`
}

// StreamEvent 流式输出的单个事件：增量、终态或错误，三者互斥
type StreamEvent struct {
	Delta string
	Final *TurnResult
	Err   error
}

// Answer 阻塞式执行一轮对话。只有完整生成后记忆才会提交，
// 中途失败的轮次对后续对话不可见。
func (c *Chain) Answer(ctx context.Context, sessionID, question string) (*TurnResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, apperr.New(apperr.KindGeneration, "question is empty")
	}

	history := c.memory.History(sessionID)
	standalone, err := c.rephrase(ctx, history, question)
	if err != nil {
		return nil, err
	}

	matches, err := c.retrieve(ctx, standalone)
	if err != nil {
		return nil, err
	}

	msgs := c.assemble(history, question, matches)

	gctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.chat.Generate(gctx, msgs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneration, err)
	}

	res := c.finish(sessionID, question, standalone, utils.Unescape(resp.Content), matches)
	return res, nil
}

// AnswerStream 流式执行一轮对话。增量片段按到达顺序送出，
// 终态事件携带来源列表；ctx 取消时本轮不提交记忆。
func (c *Chain) AnswerStream(ctx context.Context, sessionID, question string) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)

		emit := func(ev StreamEvent) bool {
			if ctx.Err() != nil {
				return false
			}
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if strings.TrimSpace(question) == "" {
			emit(StreamEvent{Err: apperr.New(apperr.KindGeneration, "question is empty")})
			return
		}

		history := c.memory.History(sessionID)
		standalone, err := c.rephrase(ctx, history, question)
		if err != nil {
			emit(StreamEvent{Err: err})
			return
		}

		matches, err := c.retrieve(ctx, standalone)
		if err != nil {
			emit(StreamEvent{Err: err})
			return
		}

		msgs := c.assemble(history, question, matches)

		gctx, cancel := c.withTimeout(ctx)
		defer cancel()
		sr, err := c.chat.Stream(gctx, msgs)
		if err != nil {
			emit(StreamEvent{Err: apperr.Wrap(apperr.KindGeneration, err)})
			return
		}
		defer sr.Close()

		var full strings.Builder
		for {
			m, e := sr.Recv()
			if e != nil {
				if errors.Is(e, io.EOF) {
					break
				}
				emit(StreamEvent{Err: apperr.Wrap(apperr.KindGeneration, e)})
				return
			}
			if m == nil || m.Content == "" {
				continue
			}
			full.WriteString(m.Content)
			if !emit(StreamEvent{Delta: m.Content}) {
				return
			}
		}

		// 中途断开的轮次不提交记忆
		if ctx.Err() != nil {
			return
		}
		res := c.finish(sessionID, question, standalone, utils.Unescape(full.String()), matches)
		emit(StreamEvent{Final: res})
	}()

	return out
}

// rephrase 结合历史把追问改写成独立问题；无历史或关闭改写时原样返回
func (c *Chain) rephrase(ctx context.Context, history []*schema.Message, question string) (string, error) {
	if !c.rephraseEnabled || len(history) == 0 {
		return question, nil
	}
	gctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.chat.Generate(gctx, []*schema.Message{
		{Role: schema.System, Content: rephraseSystemPrompt},
		{Role: schema.User, Content: renderRephrasePrompt(history, question)},
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindGeneration, err)
	}
	standalone := strings.TrimSpace(resp.Content)
	if standalone == "" {
		return question, nil
	}
	logger.Debug(ctx, "Question rephrased", "original", question, "standalone", standalone)
	return standalone, nil
}

func (c *Chain) retrieve(ctx context.Context, query string) ([]vector.Match, error) {
	matches, err := c.retriever.Retrieve(ctx, query)
	if err != nil {
		if c.degradeOnRetrievalError {
			logger.Warn(ctx, "Retrieval failed, answering without context", "error", err.Error())
			return nil, nil
		}
		return nil, err
	}
	return matches, nil
}

// assemble 组装生成消息：system + 历史 + 带上下文的当前问题
func (c *Chain) assemble(history []*schema.Message, question string, matches []vector.Match) []*schema.Message {
	contents := make([]string, len(matches))
	for i, m := range matches {
		contents[i] = m.Content
	}
	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, &schema.Message{Role: schema.System, Content: answerSystemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, &schema.Message{Role: schema.User, Content: renderAnswerPrompt(question, renderContext(contents))})
	return msgs
}

// finish 提交记忆并汇总来源。记忆存原始问题而非改写结果，
// 来源路径排序去重。
func (c *Chain) finish(sessionID, question, standalone, answer string, matches []vector.Match) *TurnResult {
	c.memory.Append(sessionID,
		&schema.Message{Role: schema.User, Content: question},
		&schema.Message{Role: schema.Assistant, Content: answer},
	)
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Path != "" {
			paths = append(paths, m.Path)
		}
	}
	return &TurnResult{
		Answer:    answer,
		Rephrased: standalone,
		Sources:   utils.SortDedup(paths),
		Matches:   matches,
	}
}

func (c *Chain) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.genTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.genTimeout)
}
