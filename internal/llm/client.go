package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fachebot/channel-digest/internal/config"
	"github.com/fachebot/channel-digest/internal/logger"
	"github.com/sashabaranov/go-openai"
)

// openAIClientInterface 定义 OpenAI 客户端接口，便于测试
type openAIClientInterface interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const (
	systemPrompt = "You are a helpful assistant."

	// 过滤步骤要求模型输出与输入同构的 JSON（消息的严格子集）
	filterSystemPrompt = `You are a data filter. The user provides an instruction and a JSON object ` +
		`of the form {"summary": ..., "channels": {"<channel>": [{"id", "date", "text"}, ...]}}. ` +
		`Return a JSON object of exactly the same shape containing only the messages relevant ` +
		`to the instruction. Never invent or rewrite messages. Output JSON only.`

	requestTimeout = 5 * time.Minute

	// 预留给 system prompt 和输出的 token 配额
	reservedTokens = 2000
	minInputTokens = 1000
)

type Client struct {
	config         *config.LLM
	openaiClient   openAIClientInterface
	maxInputTokens int
}

// NewClient 创建 LLM 客户端。transport 不为 nil 时经由代理请求
func NewClient(cfg *config.LLM, transport *http.Transport) *Client {
	openaiConfig := openai.DefaultConfig(cfg.APIKey)
	openaiConfig.BaseURL = cfg.BaseURL
	if transport != nil {
		openaiConfig.HTTPClient = &http.Client{Transport: transport}
	}

	client := &Client{
		config:         cfg,
		openaiClient:   openai.NewClientWithConfig(openaiConfig),
		maxInputTokens: inputTokenBudget(cfg.MaxTokens),
	}

	return client
}

// inputTokenBudget 计算输入上限，窗口很小时保底 minInputTokens
func inputTokenBudget(maxTokens int) int {
	budget := maxTokens - reservedTokens
	if budget < minInputTokens {
		return minInputTokens
	}
	return budget
}

// estimateTokens 估算文本的 token 数量，按字符数的 1/4 近似
func estimateTokens(text string) int {
	return len(text) / 4
}

// FilterRecord 过滤步骤：输入当日记录 JSON 与指令，返回同构的子集 JSON
func (c *Client) FilterRecord(ctx context.Context, recordJSON, prompt string) (string, error) {
	content, err := c.complete(ctx, filterSystemPrompt, prompt+"\n\n"+recordJSON, true)
	if err != nil {
		return "", err
	}
	return trimCodeFence(content), nil
}

// SummarizeRecord 总结步骤：输入当日记录 JSON 与指令，返回 markdown 文本。
// 模型输出原样返回，不做格式校验
func (c *Client) SummarizeRecord(ctx context.Context, recordJSON, prompt string) (string, error) {
	return c.complete(ctx, systemPrompt, prompt+"\n\n"+recordJSON, false)
}

// complete 执行一次对话补全请求
func (c *Client) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if tokens := estimateTokens(user); tokens > c.maxInputTokens {
		logger.Warnf("[LLM] 输入过长 (约 %d tokens, 上限 %d), 模型可能截断", tokens, c.maxInputTokens)
	}

	req := openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.3,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.openaiClient.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("调用 LLM API 失败: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM API 返回空结果")
	}

	return resp.Choices[0].Message.Content, nil
}

// trimCodeFence 去掉模型输出外层的 markdown 代码块
func trimCodeFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
