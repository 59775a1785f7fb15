package report

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fachebot/channel-digest/internal/config"
	"github.com/fachebot/channel-digest/internal/digest"
	"github.com/stretchr/testify/assert"
)

// fakeLLM 用于测试的 llmClient mock
type fakeLLM struct {
	filterResp    string
	filterErr     error
	filterCalls   int
	filterInput   string
	summaryResp   string
	summaryErr    error
	summaryCalls  int
	summaryInput  string
	summaryPrompt string
}

func (f *fakeLLM) FilterRecord(ctx context.Context, recordJSON, prompt string) (string, error) {
	f.filterCalls++
	f.filterInput = recordJSON
	if f.filterErr != nil {
		return "", f.filterErr
	}
	return f.filterResp, nil
}

func (f *fakeLLM) SummarizeRecord(ctx context.Context, recordJSON, prompt string) (string, error) {
	f.summaryCalls++
	f.summaryInput = recordJSON
	f.summaryPrompt = prompt
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	return f.summaryResp, nil
}

// fakeArtifacts 用于测试的 artifactStore mock
type fakeArtifacts struct {
	filteredData  []byte
	reportExists  bool
	savedFiltered []byte
	savedReport   string
	savedHTML     []byte
}

func (f *fakeArtifacts) FilteredExists(date string) bool { return f.filteredData != nil }

func (f *fakeArtifacts) SaveFiltered(date string, data []byte) error {
	f.savedFiltered = data
	return nil
}

func (f *fakeArtifacts) LoadFiltered(date string) ([]byte, error) {
	if f.filteredData == nil {
		return nil, os.ErrNotExist
	}
	return f.filteredData, nil
}

func (f *fakeArtifacts) ReportExists(date string) bool { return f.reportExists }

func (f *fakeArtifacts) SaveReport(date string, text string) error {
	f.savedReport = text
	return nil
}

func (f *fakeArtifacts) SaveReportHTML(date string, data []byte) error {
	f.savedHTML = data
	return nil
}

func testRecord() *digest.AggregateRecord {
	return &digest.AggregateRecord{
		Summary: &digest.Message{
			ID:   1,
			Date: time.Date(2026, 8, 27, 6, 0, 0, 0, time.UTC),
			Text: "⚡ summary",
		},
		Channels: []digest.ChannelMessages{
			{Channel: "c1", Messages: []digest.Message{
				{ID: 2, Date: time.Date(2026, 8, 27, 7, 0, 0, 0, time.UTC), Text: "враг замечен"},
			}},
		},
	}
}

func TestGenerateWritesReport(t *testing.T) {
	llm := &fakeLLM{summaryResp: "# Звіт\n\nузагальнення"}
	artifacts := &fakeArtifacts{}
	cfg := &config.Digest{Prompt: "Filter and summarize the following data:"}

	err := NewGenerator(llm, artifacts, cfg).Generate(context.Background(), testRecord(), "2026-08-27")
	assert.NoError(t, err)
	assert.Equal(t, 1, llm.summaryCalls)
	assert.Zero(t, llm.filterCalls)
	assert.Equal(t, "Filter and summarize the following data:", llm.summaryPrompt)
	// 总结输入为当日记录的 JSON
	assert.Contains(t, llm.summaryInput, "враг замечен")
	// 模型输出原样落盘
	assert.Equal(t, "# Звіт\n\nузагальнення", artifacts.savedReport)
	assert.Nil(t, artifacts.savedHTML)
}

func TestGenerateSkipsExistingReport(t *testing.T) {
	// 当日报告已存在时整步跳过，零次 LLM 调用
	llm := &fakeLLM{}
	artifacts := &fakeArtifacts{reportExists: true}
	cfg := &config.Digest{}

	err := NewGenerator(llm, artifacts, cfg).Generate(context.Background(), testRecord(), "2026-08-27")
	assert.NoError(t, err)
	assert.Zero(t, llm.summaryCalls)
	assert.Zero(t, llm.filterCalls)
	assert.Empty(t, artifacts.savedReport)
}

func TestGenerateFilterStep(t *testing.T) {
	filtered := `{"summary":null,"channels":{"c1":[]}}`
	llm := &fakeLLM{filterResp: filtered, summaryResp: "report"}
	artifacts := &fakeArtifacts{}
	cfg := &config.Digest{FilterStep: true}

	err := NewGenerator(llm, artifacts, cfg).Generate(context.Background(), testRecord(), "2026-08-27")
	assert.NoError(t, err)
	assert.Equal(t, 1, llm.filterCalls)
	// 过滤产物落盘，总结消费过滤后的数据
	assert.NotEmpty(t, artifacts.savedFiltered)
	assert.Contains(t, string(artifacts.savedFiltered), `"summary": null`)
	assert.Equal(t, string(artifacts.savedFiltered), llm.summaryInput)
	assert.NotContains(t, llm.summaryInput, "враг замечен")
}

func TestGenerateFilterStepReusesExisting(t *testing.T) {
	existing := `{"summary":null,"channels":{"c1":[]}}`
	llm := &fakeLLM{summaryResp: "report"}
	artifacts := &fakeArtifacts{filteredData: []byte(existing)}
	cfg := &config.Digest{FilterStep: true}

	err := NewGenerator(llm, artifacts, cfg).Generate(context.Background(), testRecord(), "2026-08-27")
	assert.NoError(t, err)
	assert.Zero(t, llm.filterCalls)
	assert.Equal(t, existing, llm.summaryInput)
}

func TestGenerateFilterStepRejectsInvalidOutput(t *testing.T) {
	llm := &fakeLLM{filterResp: "sorry, I cannot do that"}
	artifacts := &fakeArtifacts{}
	cfg := &config.Digest{FilterStep: true}

	err := NewGenerator(llm, artifacts, cfg).Generate(context.Background(), testRecord(), "2026-08-27")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "不是合法的聚合记录")
	assert.Zero(t, llm.summaryCalls)
	assert.Nil(t, artifacts.savedFiltered)
}

func TestGenerateHTMLReport(t *testing.T) {
	llm := &fakeLLM{summaryResp: "# Report\n\n- item"}
	artifacts := &fakeArtifacts{}
	cfg := &config.Digest{HTMLReport: true}

	err := NewGenerator(llm, artifacts, cfg).Generate(context.Background(), testRecord(), "2026-08-27")
	assert.NoError(t, err)
	html := string(artifacts.savedHTML)
	assert.True(t, strings.Contains(html, "<h1"), "应渲染出标题标签: %s", html)
	assert.Contains(t, html, "<li>item</li>")
}

func TestGenerateSummarizeError(t *testing.T) {
	llm := &fakeLLM{summaryErr: errors.New("rate limited")}
	artifacts := &fakeArtifacts{}
	cfg := &config.Digest{}

	err := NewGenerator(llm, artifacts, cfg).Generate(context.Background(), testRecord(), "2026-08-27")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "总结失败")
	assert.Empty(t, artifacts.savedReport)
}

func TestGenerateFilterError(t *testing.T) {
	llm := &fakeLLM{filterErr: errors.New("boom")}
	artifacts := &fakeArtifacts{}
	cfg := &config.Digest{FilterStep: true}

	err := NewGenerator(llm, artifacts, cfg).Generate(context.Background(), testRecord(), "2026-08-27")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "过滤失败")
	assert.Zero(t, llm.summaryCalls)
}
