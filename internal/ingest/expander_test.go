package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/chongs12/contextual-kb/internal/common/apperr"
	"github.com/chongs12/contextual-kb/internal/pacing"
	"github.com/chongs12/contextual-kb/pkg/metrics"
)

// fakeChat echoes the fragment between the template markers, failing on demand.
type fakeChat struct {
	prompts []string
	system  string
	failAt  int // -1 disables failures
	calls   int
}

func (f *fakeChat) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.calls++
	if f.failAt >= 0 && f.calls-1 == f.failAt {
		return nil, errors.New("upstream unavailable")
	}
	f.system = in[0].Content
	user := in[len(in)-1].Content
	f.prompts = append(f.prompts, user)
	return &schema.Message{Role: schema.Assistant, Content: "enriched: " + user}, nil
}

func (f *fakeChat) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](1)
	sw.Send(&schema.Message{Role: schema.Assistant, Content: "stream"}, nil)
	sw.Close()
	return sr, nil
}

func TestExpandAll_WindowContents(t *testing.T) {
	chat := &fakeChat{failAt: -1}
	e := NewExpander(chat, pacing.Nop{}, 2, 0, nil)
	chunks := []string{"c0", "c1", "c2", "c3", "c4"}

	out, err := e.ExpandAll(context.Background(), "docs/a.md", chunks)
	if err != nil {
		t.Fatalf("ExpandAll: %v", err)
	}
	if len(out) != len(chunks) {
		t.Fatalf("expect %d enriched chunks, got %d", len(chunks), len(out))
	}

	// middle chunk sees two neighbours on each side
	p := chat.prompts[2]
	if !strings.Contains(p, "c0\nc1") {
		t.Fatalf("prompt for chunk 2 missing preceding window: %q", p)
	}
	if !strings.Contains(p, "c3\nc4") {
		t.Fatalf("prompt for chunk 2 missing following window: %q", p)
	}

	// first chunk has an empty preceding window
	if strings.Contains(chat.prompts[0], "c4") {
		t.Fatalf("first prompt should not reach chunk 4: %q", chat.prompts[0])
	}
	if !strings.Contains(chat.prompts[0], "c1\nc2") {
		t.Fatalf("first prompt missing following window: %q", chat.prompts[0])
	}
}

func TestExpandAll_InstructionsConstrainRewrite(t *testing.T) {
	chat := &fakeChat{failAt: -1}
	e := NewExpander(chat, pacing.Nop{}, 1, 0, nil)
	if _, err := e.ExpandAll(context.Background(), "docs/a.md", []string{"c0", "c1"}); err != nil {
		t.Fatalf("ExpandAll: %v", err)
	}
	// the rewrite must stay grounded in the supplied text
	for _, want := range []string{
		"concise",
		"do not repeat",
		"Do not introduce facts",
		"terminology and style",
	} {
		if !strings.Contains(chat.system, want) {
			t.Fatalf("instructions missing %q:\n%s", want, chat.system)
		}
	}
}

func TestExpandAll_ObservesMetrics(t *testing.T) {
	biz := metrics.NewBusinessMetrics(prometheus.NewRegistry(), "test")
	chat := &fakeChat{failAt: -1}
	e := NewExpander(chat, pacing.Nop{}, 1, 0, biz)
	if _, err := e.ExpandAll(context.Background(), "docs/a.md", []string{"c0", "c1", "c2"}); err != nil {
		t.Fatalf("ExpandAll: %v", err)
	}
	if got := testutil.ToFloat64(biz.ExpandTotal.WithLabelValues("worker", "success")); got != 3 {
		t.Fatalf("expand_total success = %v, want 3", got)
	}

	failing := &fakeChat{failAt: 0}
	e = NewExpander(failing, pacing.Nop{}, 1, 0, biz)
	if _, err := e.ExpandAll(context.Background(), "docs/a.md", []string{"c0"}); err == nil {
		t.Fatal("expected error")
	}
	if got := testutil.ToFloat64(biz.ExpandTotal.WithLabelValues("worker", "fail")); got != 1 {
		t.Fatalf("expand_total fail = %v, want 1", got)
	}
}

func TestExpandAll_AbortsWithPosition(t *testing.T) {
	chat := &fakeChat{failAt: 1}
	e := NewExpander(chat, pacing.Nop{}, 2, 0, nil)

	_, err := e.ExpandAll(context.Background(), "docs/b.md", []string{"c0", "c1", "c2"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperr.Is(err, apperr.KindGeneration) {
		t.Fatalf("expected generation kind, got %q", apperr.KindOf(err))
	}
	if !strings.Contains(err.Error(), "chunk 1") || !strings.Contains(err.Error(), "docs/b.md") {
		t.Fatalf("error lacks position context: %v", err)
	}
	if chat.calls != 2 {
		t.Fatalf("expander should stop at the failing chunk, made %d calls", chat.calls)
	}
}

func TestExpandAll_UnescapesModelOutput(t *testing.T) {
	chat := &escapingChat{}
	e := NewExpander(chat, pacing.Nop{}, 1, 0, nil)
	out, err := e.ExpandAll(context.Background(), "docs/c.md", []string{"x"})
	if err != nil {
		t.Fatalf("ExpandAll: %v", err)
	}
	if out[0] != "line one\nline two" {
		t.Fatalf("escape sequences not decoded: %q", out[0])
	}
}

type escapingChat struct{}

func (escapingChat) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return &schema.Message{Role: schema.Assistant, Content: `line one\nline two`}, nil
}

func (escapingChat) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](1)
	sw.Close()
	return sr, nil
}
