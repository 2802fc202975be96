package ingest

import (
	"strings"
	"unicode/utf8"
)

// Chunker 按 token 预算切分文本：优先按段落，超预算再按句子，仍超则硬切
type Chunker struct {
	counter   TokenCounter
	maxTokens int
}

func NewChunker(counter TokenCounter, maxTokens int) *Chunker {
	return &Chunker{counter: counter, maxTokens: maxTokens}
}

// CountTokens 返回 text 的 token 数，与切分预算用同一个编码
func (c *Chunker) CountTokens(text string) int {
	return c.counter.Count(text)
}

// Split 切分 text，每块不超过 maxTokens 个 token，保持原文顺序，
// 空白段落被丢弃
func (c *Chunker) Split(text string) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, para := range splitParagraphs(text) {
		pieces := []string{para}
		if c.counter.Count(para) > c.maxTokens {
			pieces = c.splitOversized(para)
		}
		for _, piece := range pieces {
			n := c.counter.Count(piece)
			sep := "\n\n"
			if current.Len() == 0 {
				sep = ""
			}
			// 分隔符也占 token，合并前按整体重新计算
			if current.Len() > 0 && currentTokens+n+c.counter.Count(sep) > c.maxTokens {
				flush()
				sep = ""
			}
			current.WriteString(sep)
			current.WriteString(piece)
			currentTokens = c.counter.Count(current.String())
		}
	}
	flush()
	return chunks
}

// splitOversized 把超预算段落按句子聚合，单句仍超预算时按 rune 硬切
func (c *Chunker) splitOversized(para string) []string {
	var out []string
	var current strings.Builder

	appendPiece := func(s string) {
		if c.counter.Count(s) <= c.maxTokens {
			out = append(out, s)
			return
		}
		out = append(out, c.hardCut(s)...)
	}

	for _, sentence := range splitSentences(para) {
		candidate := sentence
		if current.Len() > 0 {
			candidate = current.String() + " " + sentence
		}
		if c.counter.Count(candidate) <= c.maxTokens {
			current.Reset()
			current.WriteString(candidate)
			continue
		}
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
		if c.counter.Count(sentence) <= c.maxTokens {
			current.WriteString(sentence)
		} else {
			appendPiece(sentence)
		}
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

// hardCut 对无法再语义切分的文本按二分法逐步缩短到预算内
func (c *Chunker) hardCut(s string) []string {
	var out []string
	rest := s
	for rest != "" {
		piece := rest
		for c.counter.Count(piece) > c.maxTokens {
			cut := utf8.RuneCountInString(piece) / 2
			if cut == 0 {
				break
			}
			piece = string([]rune(piece)[:cut])
		}
		if piece == "" {
			break
		}
		out = append(out, piece)
		rest = strings.TrimPrefix(rest, piece)
	}
	return out
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(text, "\n\n")
	var out []string
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences 以句号、问号、叹号（含中文全角）为界切句
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?', '。', '！', '？':
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}
