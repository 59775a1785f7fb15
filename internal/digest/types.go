package digest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Message 抓取到的单条频道消息，抓取后不可变
type Message struct {
	ID   int64     `json:"id,omitempty"`
	Date time.Time `json:"date"`
	Text string    `json:"text"`
}

// RawMessage 摘要帖扫描用的原始消息，带结构信息
type RawMessage struct {
	ID       int64
	Date     time.Time
	Text     string
	HasPhoto bool
}

// ChannelMessages 单个频道的抓取结果
type ChannelMessages struct {
	Channel  string
	Messages []Message
}

// AggregateRecord 单次运行的聚合结果，持久化与交给 LLM 的单位。
// Channels 按请求顺序保存，每个请求的频道恰好一个条目，
// 抓取为空时也保留空序列而不是缺失。
type AggregateRecord struct {
	Summary  *Message
	Channels []ChannelMessages
}

// Channel 按频道名查找抓取结果
func (r *AggregateRecord) Channel(name string) ([]Message, bool) {
	for _, ch := range r.Channels {
		if ch.Channel == name {
			return ch.Messages, true
		}
	}
	return nil, false
}

// MessageCount 所有频道的消息总数
func (r *AggregateRecord) MessageCount() int {
	total := 0
	for _, ch := range r.Channels {
		total += len(ch.Messages)
	}
	return total
}

// MarshalJSON 序列化为 {"summary": ..., "channels": {...}}，
// channels 对象保持插入顺序，文本不做 HTML 转义
func (r AggregateRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"summary":`)
	if err := encodeValue(&buf, r.Summary); err != nil {
		return nil, err
	}
	buf.WriteString(`,"channels":{`)
	for i, ch := range r.Channels {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(&buf, ch.Channel); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		msgs := ch.Messages
		if msgs == nil {
			msgs = []Message{}
		}
		if err := encodeValue(&buf, msgs); err != nil {
			return nil, err
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// UnmarshalJSON 解析时保留 channels 对象的键顺序
func (r *AggregateRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("意外的 JSON 键: %v", keyTok)
		}

		switch key {
		case "summary":
			if err := dec.Decode(&r.Summary); err != nil {
				return fmt.Errorf("解析 summary 失败: %w", err)
			}
		case "channels":
			if err := expectDelim(dec, '{'); err != nil {
				return err
			}
			for dec.More() {
				nameTok, err := dec.Token()
				if err != nil {
					return err
				}
				name, ok := nameTok.(string)
				if !ok {
					return fmt.Errorf("意外的频道键: %v", nameTok)
				}
				var msgs []Message
				if err := dec.Decode(&msgs); err != nil {
					return fmt.Errorf("解析频道 %s 失败: %w", name, err)
				}
				if msgs == nil {
					msgs = []Message{}
				}
				r.Channels = append(r.Channels, ChannelMessages{Channel: name, Messages: msgs})
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return err
			}
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// EncodeIndent 编码为缩进 JSON，非 ASCII 文本原样保留
func (r *AggregateRecord) EncodeIndent() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeRecord 从 JSON 解析聚合记录
func DecodeRecord(data []byte) (*AggregateRecord, error) {
	var record AggregateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

func expectDelim(dec *json.Decoder, d json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != d {
		return fmt.Errorf("意外的 JSON 结构: %v", tok)
	}
	return nil
}
