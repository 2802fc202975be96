package vector

// TruncateToRunes 按 rune 截断，避免把多字节字符切坏
func TruncateToRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
