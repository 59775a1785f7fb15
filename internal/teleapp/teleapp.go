package teleapp

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fachebot/channel-digest/internal/digest"
	"github.com/fachebot/channel-digest/internal/logger"

	"github.com/zelenin/go-tdlib/client"
)

// historyPageSize 单次 GetChatHistory 请求的消息条数
const historyPageSize = 100

// TeleApp Telegram 客户端封装，提供频道历史消息抓取
type TeleApp struct {
	user         *client.User
	tdClient     *client.Client
	parameters   *client.SetTdlibParametersRequest
	fetchTimeout time.Duration
	chatsMu      sync.RWMutex
	chatsCache   map[string]*client.Chat
}

func NewApp(apiId int32, apiHash, dataDir string, fetchTimeout time.Duration) *TeleApp {
	_, err := client.SetLogVerbosityLevel(&client.SetLogVerbosityLevelRequest{
		NewVerbosityLevel: 1,
	})
	if err != nil {
		logger.Fatalf("[TeleApp] 设置日志级别错误, %s", err)
	}

	parameters := &client.SetTdlibParametersRequest{
		UseTestDc:           false,
		DatabaseDirectory:   filepath.Join(dataDir, ".tdlib", "database"),
		FilesDirectory:      filepath.Join(dataDir, ".tdlib", "files"),
		UseFileDatabase:     true,
		UseChatInfoDatabase: true,
		UseMessageDatabase:  true,
		UseSecretChats:      false,
		ApiId:               apiId,
		ApiHash:             apiHash,
		SystemLanguageCode:  "en",
		DeviceModel:         "Server",
		SystemVersion:       "1.0.0",
		ApplicationVersion:  "1.0.0",
	}

	app := &TeleApp{
		parameters:   parameters,
		fetchTimeout: fetchTimeout,
		chatsCache:   make(map[string]*client.Chat),
	}
	return app
}

func (app *TeleApp) Login(options ...client.Option) (*client.User, error) {
	if app.user != nil {
		return app.user, nil
	}

	authorizer := client.ClientAuthorizer(app.parameters)
	go client.CliInteractor(authorizer)

	tdlibClient, err := client.NewClient(authorizer, options...)
	if err != nil {
		return nil, err
	}

	me, err := tdlibClient.GetMe()
	if err != nil {
		return nil, err
	}

	app.user = me
	app.tdClient = tdlibClient
	return me, nil
}

func (app *TeleApp) Close() error {
	if app.tdClient == nil {
		return nil
	}
	_, err := app.tdClient.Close()
	return err
}

// ChannelMessages 抓取频道内发送时间 >= since 的含文本消息，旧 → 新排列。
// 逐页向旧翻历史，跨过时间下界即停止
func (app *TeleApp) ChannelMessages(ctx context.Context, channel string, since time.Time) ([]digest.Message, error) {
	chat, err := app.resolveChannel(channel)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(app.fetchTimeout)
	out := make([]digest.Message, 0)
	var fromMessageID int64

	for {
		page, err := app.historyPage(ctx, chat.Id, fromMessageID, deadline, channel)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		reachedBound := false
		for _, msg := range page {
			sentAt := time.Unix(int64(msg.Date), 0).UTC()
			if sentAt.Before(since) {
				reachedBound = true
				break
			}
			text := messageText(msg)
			if text == "" {
				continue
			}
			out = append(out, digest.Message{ID: msg.Id, Date: sentAt, Text: text})
		}
		if reachedBound {
			break
		}
		fromMessageID = page[len(page)-1].Id
	}

	// 平台返回新 → 旧，反转为旧 → 新
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RecentMessages 抓取频道最近 limit 条消息，新 → 旧排列，带结构信息
func (app *TeleApp) RecentMessages(ctx context.Context, channel string, limit int) ([]digest.RawMessage, error) {
	chat, err := app.resolveChannel(channel)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(app.fetchTimeout)
	out := make([]digest.RawMessage, 0, limit)
	var fromMessageID int64

	for len(out) < limit {
		page, err := app.historyPage(ctx, chat.Id, fromMessageID, deadline, channel)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		for _, msg := range page {
			if len(out) >= limit {
				break
			}
			out = append(out, digest.RawMessage{
				ID:       msg.Id,
				Date:     time.Unix(int64(msg.Date), 0).UTC(),
				Text:     messageText(msg),
				HasPhoto: messageHasPhoto(msg),
			})
		}
		fromMessageID = page[len(page)-1].Id
	}
	return out, nil
}

// historyPage 读取一页历史消息，页间检查取消与超时
func (app *TeleApp) historyPage(ctx context.Context, chatID, fromMessageID int64, deadline time.Time, channel string) ([]*client.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if time.Now().After(deadline) {
		return nil, fmt.Errorf("抓取频道 %s 超时 (%s)", channel, app.fetchTimeout)
	}

	history, err := app.tdClient.GetChatHistory(&client.GetChatHistoryRequest{
		ChatId:        chatID,
		FromMessageId: fromMessageID,
		Offset:        0,
		Limit:         historyPageSize,
		OnlyLocal:     false,
	})
	if err != nil {
		return nil, fmt.Errorf("获取频道 %s 历史消息失败: %w", channel, err)
	}
	return history.Messages, nil
}

// resolveChannel 按公开用户名解析频道
func (app *TeleApp) resolveChannel(channel string) (*client.Chat, error) {
	// 先尝试读锁读取缓存
	app.chatsMu.RLock()
	chat, ok := app.chatsCache[channel]
	app.chatsMu.RUnlock()
	if ok {
		return chat, nil
	}

	// 缓存未命中，获取数据
	chat, err := app.tdClient.SearchPublicChat(&client.SearchPublicChatRequest{
		Username: channel,
	})
	if err != nil {
		return nil, fmt.Errorf("解析频道 %s 失败: %w", channel, err)
	}
	logger.Debugf("[TeleApp] 解析频道: %s -> %s[%d]", channel, chat.Title, chat.Id)

	// 写锁更新缓存
	app.chatsMu.Lock()
	app.chatsCache[channel] = chat
	app.chatsMu.Unlock()
	return chat, nil
}

// messageText 提取消息文本，图片和视频取其说明文字
func messageText(msg *client.Message) string {
	if msg.Content == nil {
		return ""
	}
	switch content := msg.Content.(type) {
	case *client.MessageText:
		if content.Text == nil {
			return ""
		}
		return content.Text.Text
	case *client.MessagePhoto:
		if content.Caption == nil {
			return ""
		}
		return content.Caption.Text
	case *client.MessageVideo:
		if content.Caption == nil {
			return ""
		}
		return content.Caption.Text
	default:
		return ""
	}
}

func messageHasPhoto(msg *client.Message) bool {
	if msg.Content == nil {
		return false
	}
	return msg.Content.MessageContentType() == "messagePhoto"
}
