package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/chongs12/contextual-kb/internal/common/models"
	"github.com/chongs12/contextual-kb/pkg/database"
	"github.com/chongs12/contextual-kb/pkg/logger"
	"github.com/chongs12/contextual-kb/pkg/utils"
)

// Service 在对话链外围补上会话串行化、答案缓存与问答审计
type Service struct {
	chain    *Chain
	memory   *SessionStore
	db       *database.Database
	redis    *redis.Client
	cacheTTL time.Duration
}

func NewService(chain *Chain, memory *SessionStore, db *database.Database, rdb *redis.Client, cacheTTL time.Duration) *Service {
	return &Service{chain: chain, memory: memory, db: db, redis: rdb, cacheTTL: cacheTTL}
}

// cachedTurn 缓存里存整轮产出，命中时来源列表照常返回
type cachedTurn struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Query 同步问答。同一会话的并发请求排队执行，保证记忆顺序。
func (s *Service) Query(ctx context.Context, sessionID, question string) (*TurnResult, error) {
	unlock := s.memory.Lock(sessionID)
	defer unlock()

	// 无历史的首轮可以安全走答案缓存，多轮后上下文不同不可复用
	cacheable := len(s.memory.History(sessionID)) == 0
	ckey := s.cacheKey(question)
	if cacheable && s.redis != nil {
		if val, err := s.redis.Get(ctx, ckey).Result(); err == nil && val != "" {
			var ct cachedTurn
			if err := sonic.Unmarshal([]byte(val), &ct); err == nil && ct.Answer != "" {
				logger.Debug(ctx, "Answer cache hit", "session_id", sessionID)
				// 命中的轮次同样进入记忆，后续追问才有历史可改写
				s.memory.Append(sessionID,
					&schema.Message{Role: schema.User, Content: question},
					&schema.Message{Role: schema.Assistant, Content: ct.Answer},
				)
				return &TurnResult{Answer: ct.Answer, Sources: ct.Sources}, nil
			}
		}
	}

	start := time.Now()
	res, err := s.chain.Answer(ctx, sessionID, question)
	s.audit(ctx, sessionID, question, res, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	if cacheable && s.redis != nil {
		if payload, err := sonic.Marshal(cachedTurn{Answer: res.Answer, Sources: res.Sources}); err == nil {
			_ = s.redis.Set(ctx, ckey, payload, s.cacheTTL).Err()
		}
	}
	return res, nil
}

// QueryStream 流式问答。审计在终态事件落定后写入。
func (s *Service) QueryStream(ctx context.Context, sessionID, question string) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		unlock := s.memory.Lock(sessionID)
		defer unlock()

		start := time.Now()
		var final *TurnResult
		var streamErr error
		for ev := range s.chain.AnswerStream(ctx, sessionID, question) {
			if ev.Final != nil {
				final = ev.Final
			}
			if ev.Err != nil {
				streamErr = ev.Err
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		s.audit(ctx, sessionID, question, final, streamErr, time.Since(start))
	}()
	return out
}

// DeleteSession 清空会话记忆
func (s *Service) DeleteSession(sessionID string) {
	s.memory.Delete(sessionID)
}

// audit 把一轮问答连同命中来源落库，失败也记录
func (s *Service) audit(ctx context.Context, sessionID, question string, res *TurnResult, cause error, took time.Duration) {
	if s.db == nil {
		return
	}
	q := &models.Query{
		SessionID:      sessionID,
		QueryText:      question,
		ProcessingTime: took.Milliseconds(),
	}
	if cause != nil {
		q.Status = models.QueryStatusFailed.String()
		q.Error = cause.Error()
	} else if res != nil {
		q.Status = models.QueryStatusCompleted.String()
		q.Response = res.Answer
		q.RephrasedText = res.Rephrased
		q.IsAnswered = true
		q.SourceCount = len(res.Sources)
	}
	if err := s.db.WithContext(ctx).Create(q).Error; err != nil {
		logger.Error(ctx, "Failed to write query audit", "error", err.Error())
		return
	}
	if res == nil {
		return
	}
	for i, m := range res.Matches {
		qs := &models.QuerySource{
			QueryID:        q.ID,
			Path:           m.Path,
			RelevanceScore: float64(m.Score),
			Excerpt:        utils.TruncateString(m.Content, 200),
			Position:       i,
		}
		if err := s.db.WithContext(ctx).Create(qs).Error; err != nil {
			logger.Error(ctx, "Failed to write query source", "error", err.Error())
			return
		}
	}
}

// cacheKey 对空白归一化后的问题取哈希，空格差异不破坏命中
func (s *Service) cacheKey(question string) string {
	return fmt.Sprintf("chat:ans:%s", utils.SHA256Hex([]byte(utils.NormalizeText(question)))[:16])
}
