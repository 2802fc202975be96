package ingest

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 统计文本的 token 数，分块预算以此为准
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter backed by the cl100k_base encoding.
func NewTokenCounter() (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
