package chat

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCachedService(t *testing.T, chat *scriptedChat, ret *fakeRetriever) (*Service, *SessionStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mem := NewSessionStore()
	chain := NewChain(chat, ret, mem, true, false, 0)
	return NewService(chain, mem, nil, rdb, time.Minute), mem
}

func TestQuery_CacheHitKeepsSourcesAndHistory(t *testing.T) {
	chat := &scriptedChat{answers: []string{"Fifteen days per year."}}
	ret := &fakeRetriever{matches: defaultMatches()}
	svc, mem := newCachedService(t, chat, ret)

	first, err := svc.Query(context.Background(), "s1", "what is the leave policy?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(first.Sources) == 0 {
		t.Fatal("first turn should carry sources")
	}

	// 另一个会话问同一问题：命中缓存，不再调用模型
	second, err := svc.Query(context.Background(), "s2", "what is the leave policy?")
	if err != nil {
		t.Fatalf("Query (cached): %v", err)
	}
	if chat.calls != 1 {
		t.Fatalf("cached turn must not call the model, calls = %d", chat.calls)
	}
	if second.Answer != first.Answer {
		t.Fatalf("cached answer %q != %q", second.Answer, first.Answer)
	}
	if !reflect.DeepEqual(second.Sources, first.Sources) {
		t.Fatalf("cached sources %v != %v", second.Sources, first.Sources)
	}
	// 命中的轮次也要进入会话记忆
	if hist := mem.History("s2"); len(hist) != 2 {
		t.Fatalf("cached turn must be committed to history, got %d messages", len(hist))
	}
}

func TestQuery_FollowUpAfterCacheHitStillRephrases(t *testing.T) {
	chat := &scriptedChat{answers: []string{
		"Fifteen days per year.",
		"How many leave days carry over to the next year?",
		"Up to five days.",
	}}
	ret := &fakeRetriever{matches: defaultMatches()}
	svc, _ := newCachedService(t, chat, ret)

	if _, err := svc.Query(context.Background(), "s1", "what is the leave policy?"); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if _, err := svc.Query(context.Background(), "s2", "what is the leave policy?"); err != nil {
		t.Fatalf("Query (cached): %v", err)
	}

	// 缓存命中后历史已就位，追问要走改写再检索
	if _, err := svc.Query(context.Background(), "s2", "and how many carry over?"); err != nil {
		t.Fatalf("Query (follow-up): %v", err)
	}
	last := ret.queries[len(ret.queries)-1]
	if last != "How many leave days carry over to the next year?" {
		t.Fatalf("retriever should see the rephrased follow-up, got %q", last)
	}
}

func TestQuery_CacheKeyIgnoresWhitespace(t *testing.T) {
	chat := &scriptedChat{answers: []string{"Fifteen days per year."}}
	ret := &fakeRetriever{matches: defaultMatches()}
	svc, _ := newCachedService(t, chat, ret)

	if _, err := svc.Query(context.Background(), "s1", "what is the leave policy?"); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if _, err := svc.Query(context.Background(), "s2", "  what   is the leave policy? "); err != nil {
		t.Fatalf("Query (cached): %v", err)
	}
	if chat.calls != 1 {
		t.Fatalf("whitespace variant should hit the cache, calls = %d", chat.calls)
	}
}
