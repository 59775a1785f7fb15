package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// 摘要帖识别的默认外部标识，可通过配置覆盖
const (
	DefaultSummaryChannel = "daily_summary"
	DefaultSummaryMarker  = "summary"
	DefaultSummarySymbol  = "⚡"
)

// DefaultChannels 内置的默认频道列表
var DefaultChannels = []string{"channel1", "channel2"}

type Sock5Proxy struct {
	Host   string `yaml:"Host"`
	Port   int32  `yaml:"Port"`
	Enable bool   `yaml:"Enable"`
}

type TelegramApp struct {
	ApiId   int32  `yaml:"ApiId"`
	ApiHash string `yaml:"ApiHash"`
}

type LLM struct {
	BaseURL   string `yaml:"BaseURL"` // 兼容 OpenAI API 的端点
	APIKey    string `yaml:"APIKey"`
	Model     string `yaml:"Model"`     // 如 gpt-4o, deepseek-chat, qwen-plus
	MaxTokens int    `yaml:"MaxTokens"` // 模型上下文窗口大小
}

type Digest struct {
	Channels         string   `yaml:"Channels"`         // 覆盖内置默认频道列表，逗号分隔
	AddChannels      []string `yaml:"AddChannels"`      // 追加的频道列表
	AllowDuplicates  bool     `yaml:"AllowDuplicates"`  // 允许频道列表出现重复项
	SummaryChannel   string   `yaml:"SummaryChannel"`   // 摘要帖所在频道
	SummaryMarker    string   `yaml:"SummaryMarker"`    // 摘要帖标记词（大小写不敏感）
	SummarySymbol    string   `yaml:"SummarySymbol"`    // 摘要帖标记符号
	ScanLimit        int      `yaml:"ScanLimit"`        // 摘要帖扫描窗口（最近N条）
	WindowHours      int      `yaml:"WindowHours"`      // 抓取时间窗口（小时）
	SaveDir          string   `yaml:"SaveDir"`          // 输出目录
	Prompt           string   `yaml:"Prompt"`           // 总结指令
	OpenAIProcessing bool     `yaml:"OpenAIProcessing"` // 启用报告生成步骤
	FilterStep       bool     `yaml:"FilterStep"`       // 启用独立的过滤步骤
	HTMLReport       bool     `yaml:"HTMLReport"`       // 额外输出 report.html
	Refresh          bool     `yaml:"Refresh"`          // 忽略当日缓存强制重新抓取
	FetchTimeout     int      `yaml:"FetchTimeout"`     // 单次网络调用超时（秒）
	Cron             string   `yaml:"Cron"`             // cron 表达式，为空则单次运行
}

type Config struct {
	Sock5Proxy  Sock5Proxy  `yaml:"Sock5Proxy"`
	TelegramApp TelegramApp `yaml:"TelegramApp"`
	LLM         LLM         `yaml:"LLM"`
	Digest      Digest      `yaml:"Digest"`
}

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		LLM: LLM{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 128000,
		},
		Digest: Digest{
			SummaryChannel: DefaultSummaryChannel,
			SummaryMarker:  DefaultSummaryMarker,
			SummarySymbol:  DefaultSummarySymbol,
			ScanLimit:      200,
			WindowHours:    24,
			SaveDir:        "./reports",
			Prompt:         "Filter and summarize the following data:",
			FetchTimeout:   120,
		},
	}
}

// LoadFromFile 读取配置文件并叠加到默认值之上
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	c := Default()
	err = yaml.Unmarshal(data, c)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// FillFromEnv 用环境变量补齐未设置的凭证，已设置的值不覆盖
func (c *Config) FillFromEnv() error {
	if c.TelegramApp.ApiId == 0 {
		if v := os.Getenv("TELEGRAM_API_ID"); v != "" {
			id, err := strconv.ParseInt(v, 10, 32)
			if err != nil {
				return fmt.Errorf("TELEGRAM_API_ID 无效: %w", err)
			}
			c.TelegramApp.ApiId = int32(id)
		}
	}
	if c.TelegramApp.ApiHash == "" {
		c.TelegramApp.ApiHash = os.Getenv("TELEGRAM_API_HASH")
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	// 验证 TelegramApp
	if c.TelegramApp.ApiId == 0 {
		return fmt.Errorf("TelegramApp.ApiId 不能为空")
	}
	if c.TelegramApp.ApiHash == "" {
		return fmt.Errorf("TelegramApp.ApiHash 不能为空")
	}

	// 验证 LLM
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM.APIKey 不能为空")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM.BaseURL 不能为空")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM.Model 不能为空")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM.MaxTokens 必须大于 0")
	}

	// 验证 Digest
	if c.Digest.SummaryChannel == "" {
		return fmt.Errorf("Digest.SummaryChannel 不能为空")
	}
	if c.Digest.ScanLimit <= 0 {
		return fmt.Errorf("Digest.ScanLimit 必须大于 0")
	}
	if c.Digest.WindowHours <= 0 {
		return fmt.Errorf("Digest.WindowHours 必须大于 0")
	}
	if c.Digest.SaveDir == "" {
		return fmt.Errorf("Digest.SaveDir 不能为空")
	}
	if c.Digest.FetchTimeout <= 0 {
		return fmt.Errorf("Digest.FetchTimeout 必须大于 0")
	}

	return nil
}

// ChannelList 合并默认频道与追加频道，按出现顺序去重（除非允许重复）
func (c *Digest) ChannelList() []string {
	defaults := DefaultChannels
	if c.Channels != "" {
		defaults = splitChannels(c.Channels)
	}

	merged := make([]string, 0, len(defaults)+len(c.AddChannels))
	merged = append(merged, defaults...)
	merged = append(merged, c.AddChannels...)

	if c.AllowDuplicates {
		return merged
	}

	seen := make(map[string]bool, len(merged))
	result := make([]string, 0, len(merged))
	for _, ch := range merged {
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		result = append(result, ch)
	}
	return result
}

func splitChannels(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
