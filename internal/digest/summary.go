package digest

import "strings"

// SummaryPredicate 判断一条消息是否为摘要帖
type SummaryPredicate func(RawMessage) bool

// NewSummaryPredicate 返回默认谓词：有文本、带图片、
// 文本包含标记词（大小写不敏感）且包含标记符号
func NewSummaryPredicate(marker, symbol string) SummaryPredicate {
	lowerMarker := strings.ToLower(marker)
	return func(m RawMessage) bool {
		if m.Text == "" || !m.HasPhoto {
			return false
		}
		if !strings.Contains(strings.ToLower(m.Text), lowerMarker) {
			return false
		}
		return strings.Contains(m.Text, symbol)
	}
}

// LocateSummary 按给定顺序（新 → 旧）扫描并返回第一条命中的消息，
// 无命中返回 nil
func LocateSummary(msgs []RawMessage, pred SummaryPredicate) *Message {
	for _, m := range msgs {
		if pred(m) {
			return &Message{ID: m.ID, Date: m.Date, Text: m.Text}
		}
	}
	return nil
}
