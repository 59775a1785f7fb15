package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	c := Default()
	c.TelegramApp = TelegramApp{ApiId: 12345, ApiHash: "hash"}
	c.LLM.APIKey = "sk-test"
	return c
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"合法配置", func(c *Config) {}, ""},
		{"缺少ApiId", func(c *Config) { c.TelegramApp.ApiId = 0 }, "TelegramApp.ApiId"},
		{"缺少ApiHash", func(c *Config) { c.TelegramApp.ApiHash = "" }, "TelegramApp.ApiHash"},
		{"缺少APIKey", func(c *Config) { c.LLM.APIKey = "" }, "LLM.APIKey"},
		{"缺少BaseURL", func(c *Config) { c.LLM.BaseURL = "" }, "LLM.BaseURL"},
		{"缺少Model", func(c *Config) { c.LLM.Model = "" }, "LLM.Model"},
		{"MaxTokens非法", func(c *Config) { c.LLM.MaxTokens = 0 }, "LLM.MaxTokens"},
		{"缺少摘要频道", func(c *Config) { c.Digest.SummaryChannel = "" }, "Digest.SummaryChannel"},
		{"ScanLimit非法", func(c *Config) { c.Digest.ScanLimit = 0 }, "Digest.ScanLimit"},
		{"WindowHours非法", func(c *Config) { c.Digest.WindowHours = -1 }, "Digest.WindowHours"},
		{"缺少输出目录", func(c *Config) { c.Digest.SaveDir = "" }, "Digest.SaveDir"},
		{"FetchTimeout非法", func(c *Config) { c.Digest.FetchTimeout = 0 }, "Digest.FetchTimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestChannelList(t *testing.T) {
	t.Run("默认列表", func(t *testing.T) {
		d := &Digest{}
		assert.Equal(t, DefaultChannels, d.ChannelList())
	})

	t.Run("追加并按出现顺序去重", func(t *testing.T) {
		d := &Digest{
			Channels:    "c1,c2",
			AddChannels: []string{"c2", "c3", "c1"},
		}
		assert.Equal(t, []string{"c1", "c2", "c3"}, d.ChannelList())
	})

	t.Run("允许重复时保留全部", func(t *testing.T) {
		d := &Digest{
			Channels:        "c1,c2",
			AddChannels:     []string{"c2"},
			AllowDuplicates: true,
		}
		assert.Equal(t, []string{"c1", "c2", "c2"}, d.ChannelList())
	})

	t.Run("覆盖默认列表并去掉空白", func(t *testing.T) {
		d := &Digest{Channels: " alpha , beta ,, gamma"}
		assert.Equal(t, []string{"alpha", "beta", "gamma"}, d.ChannelList())
	})
}

func TestFillFromEnv(t *testing.T) {
	t.Run("补齐未设置的凭证", func(t *testing.T) {
		t.Setenv("TELEGRAM_API_ID", "777")
		t.Setenv("TELEGRAM_API_HASH", "env-hash")
		t.Setenv("OPENAI_API_KEY", "env-key")

		c := Default()
		assert.NoError(t, c.FillFromEnv())
		assert.Equal(t, int32(777), c.TelegramApp.ApiId)
		assert.Equal(t, "env-hash", c.TelegramApp.ApiHash)
		assert.Equal(t, "env-key", c.LLM.APIKey)
	})

	t.Run("已有值不被环境变量覆盖", func(t *testing.T) {
		t.Setenv("TELEGRAM_API_HASH", "env-hash")
		t.Setenv("OPENAI_API_KEY", "env-key")

		c := Default()
		c.TelegramApp.ApiHash = "file-hash"
		c.LLM.APIKey = "file-key"
		assert.NoError(t, c.FillFromEnv())
		assert.Equal(t, "file-hash", c.TelegramApp.ApiHash)
		assert.Equal(t, "file-key", c.LLM.APIKey)
	})

	t.Run("非法的TELEGRAM_API_ID报错", func(t *testing.T) {
		t.Setenv("TELEGRAM_API_ID", "not-a-number")
		c := Default()
		assert.Error(t, c.FillFromEnv())
	})
}

func TestLoadFromFile(t *testing.T) {
	yaml := `
TelegramApp:
  ApiId: 12345
  ApiHash: "abc"
LLM:
  APIKey: "sk-test"
  Model: "gpt-4o"
Digest:
  Channels: "c1,c2"
  WindowHours: 12
  OpenAIProcessing: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	c, err := LoadFromFile(path)
	assert.NoError(t, err)
	assert.Equal(t, int32(12345), c.TelegramApp.ApiId)
	assert.Equal(t, "gpt-4o", c.LLM.Model)
	assert.Equal(t, 12, c.Digest.WindowHours)
	assert.True(t, c.Digest.OpenAIProcessing)

	// 未出现的字段保留默认值
	assert.Equal(t, "https://api.openai.com/v1", c.LLM.BaseURL)
	assert.Equal(t, 200, c.Digest.ScanLimit)
	assert.Equal(t, "./reports", c.Digest.SaveDir)
	assert.Equal(t, DefaultSummaryChannel, c.Digest.SummaryChannel)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 24, c.Digest.WindowHours)
	assert.Equal(t, 200, c.Digest.ScanLimit)
	assert.Equal(t, DefaultSummaryMarker, c.Digest.SummaryMarker)
	assert.Equal(t, DefaultSummarySymbol, c.Digest.SummarySymbol)
	assert.Equal(t, "Filter and summarize the following data:", c.Digest.Prompt)
	assert.False(t, c.Digest.OpenAIProcessing)
	assert.False(t, c.Digest.Refresh)
}
