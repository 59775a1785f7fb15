package report

import (
	"context"
	"fmt"

	"github.com/fachebot/channel-digest/internal/config"
	"github.com/fachebot/channel-digest/internal/digest"
	"github.com/fachebot/channel-digest/internal/logger"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// llmClient 调用 LLM 做过滤和总结（便于测试注入 mock）
type llmClient interface {
	FilterRecord(ctx context.Context, recordJSON, prompt string) (string, error)
	SummarizeRecord(ctx context.Context, recordJSON, prompt string) (string, error)
}

// artifactStore 当日报告产物的存取（便于测试注入 mock）
type artifactStore interface {
	FilteredExists(date string) bool
	SaveFiltered(date string, data []byte) error
	LoadFiltered(date string) ([]byte, error)
	ReportExists(date string) bool
	SaveReport(date string, text string) error
	SaveReportHTML(date string, data []byte) error
}

// Generator 报告生成步骤：可选过滤 + 总结，各自按当日文件存在性跳过
type Generator struct {
	llm   llmClient
	store artifactStore
	cfg   *config.Digest
}

func NewGenerator(llm llmClient, store artifactStore, cfg *config.Digest) *Generator {
	return &Generator{
		llm:   llm,
		store: store,
		cfg:   cfg,
	}
}

// Generate 对当日聚合记录执行报告生成。
// 过滤步骤的产物已存在时直接复用；报告已存在时整步跳过。
func (g *Generator) Generate(ctx context.Context, record *digest.AggregateRecord, date string) error {
	recordJSON, err := record.EncodeIndent()
	if err != nil {
		return fmt.Errorf("编码聚合记录失败: %w", err)
	}
	input := string(recordJSON)

	// 可选的独立过滤步骤：同构 JSON，消息子集
	if g.cfg.FilterStep {
		filtered, err := g.filterStep(ctx, input, date)
		if err != nil {
			return err
		}
		input = filtered
	}

	if g.store.ReportExists(date) {
		logger.Infof("[Report] 当日报告已存在, 跳过生成: %s", date)
		return nil
	}

	text, err := g.llm.SummarizeRecord(ctx, input, g.cfg.Prompt)
	if err != nil {
		return fmt.Errorf("总结失败: %w", err)
	}
	if err = g.store.SaveReport(date, text); err != nil {
		return fmt.Errorf("写入报告失败: %w", err)
	}
	logger.Infof("[Report] 报告已生成: %s", date)

	if g.cfg.HTMLReport {
		if err = g.store.SaveReportHTML(date, renderHTML(text)); err != nil {
			return fmt.Errorf("写入 HTML 报告失败: %w", err)
		}
	}
	return nil
}

// filterStep 执行过滤步骤，返回用于总结的 JSON 文本
func (g *Generator) filterStep(ctx context.Context, recordJSON, date string) (string, error) {
	if g.store.FilteredExists(date) {
		logger.Infof("[Report] 当日过滤产物已存在, 直接复用: %s", date)
		data, err := g.store.LoadFiltered(date)
		if err != nil {
			return "", fmt.Errorf("读取过滤产物失败: %w", err)
		}
		return string(data), nil
	}

	filtered, err := g.llm.FilterRecord(ctx, recordJSON, g.cfg.Prompt)
	if err != nil {
		return "", fmt.Errorf("过滤失败: %w", err)
	}

	// 校验模型输出为合法的同构记录
	reduced, err := digest.DecodeRecord([]byte(filtered))
	if err != nil {
		return "", fmt.Errorf("过滤结果不是合法的聚合记录: %w", err)
	}
	data, err := reduced.EncodeIndent()
	if err != nil {
		return "", fmt.Errorf("编码过滤结果失败: %w", err)
	}

	if err = g.store.SaveFiltered(date, data); err != nil {
		return "", fmt.Errorf("写入过滤产物失败: %w", err)
	}
	logger.Infof("[Report] 过滤产物已生成: %s", date)
	return string(data), nil
}

// renderHTML 将 markdown 报告渲染为 HTML
func renderHTML(md string) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(md))

	htmlFlags := html.CommonFlags | html.HrefTargetBlank
	renderer := html.NewRenderer(html.RendererOptions{Flags: htmlFlags})

	return markdown.Render(doc, renderer)
}
