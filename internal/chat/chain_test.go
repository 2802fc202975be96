package chat

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/chongs12/contextual-kb/internal/common/apperr"
	"github.com/chongs12/contextual-kb/internal/vector"
)

// scriptedChat returns canned blocking answers and streams streamParts,
// recording every prompt it sees.
type scriptedChat struct {
	answers     []string
	streamParts []string
	streamErr   error
	prompts     [][]*schema.Message
	calls       int
}

func (f *scriptedChat) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.prompts = append(f.prompts, in)
	if f.calls >= len(f.answers) {
		return nil, errors.New("no scripted answer left")
	}
	a := f.answers[f.calls]
	f.calls++
	return &schema.Message{Role: schema.Assistant, Content: a}, nil
}

func (f *scriptedChat) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.prompts = append(f.prompts, in)
	sr, sw := schema.Pipe[*schema.Message](len(f.streamParts) + 1)
	go func() {
		defer sw.Close()
		for _, p := range f.streamParts {
			sw.Send(&schema.Message{Role: schema.Assistant, Content: p}, nil)
		}
		if f.streamErr != nil {
			sw.Send(nil, f.streamErr)
		}
	}()
	return sr, nil
}

type fakeRetriever struct {
	matches []vector.Match
	err     error
	queries []string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string) ([]vector.Match, error) {
	f.queries = append(f.queries, query)
	return f.matches, f.err
}

func defaultMatches() []vector.Match {
	return []vector.Match{
		{ID: "1", Content: "passage about cats", Score: 0.9, Path: "docs/b.md"},
		{ID: "2", Content: "another cat passage", Score: 0.8, Path: "docs/a.md"},
		{ID: "3", Content: "same file again", Score: 0.7, Path: "docs/b.md"},
	}
}

func TestAnswer_SourcesSortedDeduped(t *testing.T) {
	chat := &scriptedChat{answers: []string{"cats are mammals"}}
	ret := &fakeRetriever{matches: defaultMatches()}
	c := NewChain(chat, ret, NewSessionStore(), true, false, 0)

	res, err := c.Answer(context.Background(), "s1", "what are cats?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer != "cats are mammals" {
		t.Fatalf("answer: %q", res.Answer)
	}
	want := []string{"docs/a.md", "docs/b.md"}
	if !reflect.DeepEqual(res.Sources, want) {
		t.Fatalf("sources = %v, want %v", res.Sources, want)
	}
}

func TestAnswer_SystemPromptGuidance(t *testing.T) {
	chat := &scriptedChat{answers: []string{"answer"}}
	c := NewChain(chat, &fakeRetriever{matches: defaultMatches()}, NewSessionStore(), false, false, 0)
	if _, err := c.Answer(context.Background(), "s1", "q"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	sys := chat.prompts[0][0].Content
	for _, want := range []string{"conversation history", "structured answer"} {
		if !strings.Contains(sys, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, sys)
		}
	}
}

func TestAnswer_NoRephraseOnFirstTurn(t *testing.T) {
	chat := &scriptedChat{answers: []string{"answer"}}
	ret := &fakeRetriever{matches: defaultMatches()}
	c := NewChain(chat, ret, NewSessionStore(), true, false, 0)

	if _, err := c.Answer(context.Background(), "s1", "first question"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	// single Generate call means no rephrase round-trip happened
	if chat.calls != 1 {
		t.Fatalf("expected 1 model call, got %d", chat.calls)
	}
	if ret.queries[0] != "first question" {
		t.Fatalf("retriever should see the raw question, got %q", ret.queries[0])
	}
}

func TestAnswer_RephraseFeedsRetriever(t *testing.T) {
	chat := &scriptedChat{answers: []string{"What colour are cats?", "answer two"}}
	ret := &fakeRetriever{matches: defaultMatches()}
	mem := NewSessionStore()
	mem.Append("s1",
		&schema.Message{Role: schema.User, Content: "tell me about cats"},
		&schema.Message{Role: schema.Assistant, Content: "cats are mammals"},
	)
	c := NewChain(chat, ret, mem, true, false, 0)

	res, err := c.Answer(context.Background(), "s1", "what colour are they?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Rephrased != "What colour are cats?" {
		t.Fatalf("rephrased = %q", res.Rephrased)
	}
	if ret.queries[0] != "What colour are cats?" {
		t.Fatalf("retriever got %q, want the standalone question", ret.queries[0])
	}
	// history keeps the original follow-up, not the rewrite
	hist := mem.History("s1")
	if hist[len(hist)-2].Content != "what colour are they?" {
		t.Fatalf("history stored %q", hist[len(hist)-2].Content)
	}
}

func TestAnswer_RetrievalErrorPropagates(t *testing.T) {
	chat := &scriptedChat{answers: []string{"unused"}}
	ret := &fakeRetriever{err: errors.New("milvus down")}
	c := NewChain(chat, ret, NewSessionStore(), false, false, 0)

	_, err := c.Answer(context.Background(), "s1", "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if mem := NewSessionStore().History("s1"); len(mem) != 0 {
		t.Fatal("failed turn must not enter memory")
	}
}

func TestAnswer_DegradeOnRetrievalError(t *testing.T) {
	chat := &scriptedChat{answers: []string{"best effort answer"}}
	ret := &fakeRetriever{err: errors.New("milvus down")}
	c := NewChain(chat, ret, NewSessionStore(), false, true, 0)

	res, err := c.Answer(context.Background(), "s1", "q")
	if err != nil {
		t.Fatalf("Answer should degrade, got %v", err)
	}
	if res.Answer != "best effort answer" {
		t.Fatalf("answer: %q", res.Answer)
	}
	if len(res.Sources) != 0 {
		t.Fatalf("degraded turn should have no sources, got %v", res.Sources)
	}
}

func TestAnswerStream_DeltasAndFinal(t *testing.T) {
	chat := &scriptedChat{streamParts: []string{"cats ", "are ", "mammals"}}
	ret := &fakeRetriever{matches: defaultMatches()}
	mem := NewSessionStore()
	c := NewChain(chat, ret, mem, false, false, 0)

	var deltas []string
	var final *TurnResult
	for ev := range c.AnswerStream(context.Background(), "s1", "what are cats?") {
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		if ev.Final != nil {
			final = ev.Final
			continue
		}
		deltas = append(deltas, ev.Delta)
	}
	if strings.Join(deltas, "") != "cats are mammals" {
		t.Fatalf("deltas: %v", deltas)
	}
	if final == nil {
		t.Fatal("missing final event")
	}
	if final.Answer != "cats are mammals" {
		t.Fatalf("final answer: %q", final.Answer)
	}
	if !reflect.DeepEqual(final.Sources, []string{"docs/a.md", "docs/b.md"}) {
		t.Fatalf("final sources: %v", final.Sources)
	}
	if len(mem.History("s1")) != 2 {
		t.Fatal("completed stream turn must be committed to memory")
	}
}

func TestAnswerStream_ErrorSkipsMemory(t *testing.T) {
	chat := &scriptedChat{streamParts: []string{"partial "}, streamErr: errors.New("upstream reset")}
	ret := &fakeRetriever{matches: defaultMatches()}
	mem := NewSessionStore()
	c := NewChain(chat, ret, mem, false, false, 0)

	var sawErr bool
	for ev := range c.AnswerStream(context.Background(), "s1", "q") {
		if ev.Err != nil {
			sawErr = true
			if !apperr.Is(ev.Err, apperr.KindGeneration) {
				t.Fatalf("expected generation kind, got %q", apperr.KindOf(ev.Err))
			}
		}
		if ev.Final != nil {
			t.Fatal("failed stream must not produce a final event")
		}
	}
	if !sawErr {
		t.Fatal("expected an error event")
	}
	if len(mem.History("s1")) != 0 {
		t.Fatal("failed turn must not enter memory")
	}
}

// pausingChat streams one part, then waits for resume before streaming the rest.
type pausingChat struct {
	first  string
	rest   []string
	resume chan struct{}
}

func (p *pausingChat) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return &schema.Message{Role: schema.Assistant, Content: "unused"}, nil
}

func (p *pausingChat) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](len(p.rest) + 1)
	go func() {
		defer sw.Close()
		sw.Send(&schema.Message{Role: schema.Assistant, Content: p.first}, nil)
		<-p.resume
		for _, part := range p.rest {
			sw.Send(&schema.Message{Role: schema.Assistant, Content: part}, nil)
		}
	}()
	return sr, nil
}

func TestAnswerStream_CancelMidStreamSkipsMemory(t *testing.T) {
	chat := &pausingChat{first: "cats ", rest: []string{"are ", "mammals"}, resume: make(chan struct{})}
	ret := &fakeRetriever{matches: defaultMatches()}
	mem := NewSessionStore()
	c := NewChain(chat, ret, mem, false, false, 0)

	ctx, cancel := context.WithCancel(context.Background())
	ch := c.AnswerStream(ctx, "s1", "what are cats?")

	ev := <-ch
	if ev.Delta != "cats " {
		t.Fatalf("first event: %+v", ev)
	}
	// caller disconnects between deltas
	cancel()
	close(chat.resume)

	for ev := range ch {
		if ev.Final != nil {
			t.Fatal("cancelled stream must not produce a final event")
		}
	}
	if len(mem.History("s1")) != 0 {
		t.Fatal("cancelled turn must not enter memory")
	}
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	c := NewChain(&scriptedChat{}, &fakeRetriever{}, NewSessionStore(), false, false, 0)
	if _, err := c.Answer(context.Background(), "s1", "   "); err == nil {
		t.Fatal("expected error for blank question")
	}
}
