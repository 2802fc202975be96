package vector

import (
    "testing"
)

func TestTruncateToRunes(t *testing.T) {
    if got := TruncateToRunes("中文内容预览", 3); got != "中文内" {
        t.Fatalf("got %q", got)
    }
    if got := TruncateToRunes("ab", 10); got != "ab" {
        t.Fatalf("got %q", got)
    }
    if got := TruncateToRunes("abc", 0); got != "" {
        t.Fatalf("got %q", got)
    }
}
