package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/fachebot/channel-digest/internal/config"
	"github.com/fachebot/channel-digest/internal/logger"
	"github.com/fachebot/channel-digest/internal/model"
)

// Source 消息平台数据源
type Source interface {
	// ChannelMessages 返回频道内发送时间 >= since 的含文本消息，旧 → 新排列
	ChannelMessages(ctx context.Context, channel string, since time.Time) ([]Message, error)
	// RecentMessages 返回频道最近 limit 条消息，新 → 旧排列
	RecentMessages(ctx context.Context, channel string, limit int) ([]RawMessage, error)
}

// RecordStore 当日聚合产物的存取
type RecordStore interface {
	RecordExists(date string) bool
	SaveRecord(date string, record *AggregateRecord) error
	LoadRecord(date string) (*AggregateRecord, error)
}

// Reporter 报告生成步骤
type Reporter interface {
	Generate(ctx context.Context, record *AggregateRecord, date string) error
}

// Pipeline 聚合流水线：摘要帖定位、逐频道抓取、持久化、可选报告生成
type Pipeline struct {
	source    Source
	store     RecordStore
	reporter  Reporter
	runLog    *model.RunLogModel
	cfg       *config.Digest
	predicate SummaryPredicate
	now       func() time.Time
}

func NewPipeline(source Source, store RecordStore, reporter Reporter, runLog *model.RunLogModel, cfg *config.Digest) *Pipeline {
	return &Pipeline{
		source:    source,
		store:     store,
		reporter:  reporter,
		runLog:    runLog,
		cfg:       cfg,
		predicate: NewSummaryPredicate(cfg.SummaryMarker, cfg.SummarySymbol),
		now:       time.Now,
	}
}

// Run 执行一次完整的聚合流程。
// 当日产物已存在且未要求强制刷新时，直接加载缓存，不访问消息平台。
func (p *Pipeline) Run(ctx context.Context) (*AggregateRecord, error) {
	now := p.now().UTC()
	date := now.Format("2006-01-02")

	runID := p.beginRun(ctx, date)

	// 当日缓存命中
	if !p.cfg.Refresh && p.store.RecordExists(date) {
		logger.Infof("[Pipeline] 当日产物已存在, 跳过抓取: %s", date)
		record, err := p.store.LoadRecord(date)
		if err != nil {
			p.failRun(ctx, runID, err)
			return nil, fmt.Errorf("加载当日产物失败: %w", err)
		}
		if p.reporter != nil {
			if err = p.reporter.Generate(ctx, record, date); err != nil {
				p.failRun(ctx, runID, err)
				return nil, fmt.Errorf("生成报告失败: %w", err)
			}
		}
		p.skipRun(ctx, runID)
		return record, nil
	}

	since := now.Add(-time.Duration(p.cfg.WindowHours) * time.Hour)
	logger.Infof("[Pipeline] 开始抓取, 时间下界: %s", since.Format(time.RFC3339))

	// 定位摘要帖
	recent, err := p.source.RecentMessages(ctx, p.cfg.SummaryChannel, p.cfg.ScanLimit)
	if err != nil {
		p.failRun(ctx, runID, err)
		return nil, fmt.Errorf("扫描摘要频道 %s 失败: %w", p.cfg.SummaryChannel, err)
	}
	summary := LocateSummary(recent, p.predicate)
	if summary == nil {
		logger.Infof("[Pipeline] 摘要频道最近 %d 条消息中未找到摘要帖", p.cfg.ScanLimit)
	} else {
		logger.Infof("[Pipeline] 找到摘要帖: id=%d, date=%s", summary.ID, summary.Date.Format(time.RFC3339))
	}

	// 逐频道顺序抓取
	channels := p.cfg.ChannelList()
	record := &AggregateRecord{
		Summary:  summary,
		Channels: make([]ChannelMessages, 0, len(channels)),
	}
	for _, ch := range channels {
		msgs, err := p.source.ChannelMessages(ctx, ch, since)
		if err != nil {
			p.failRun(ctx, runID, err)
			return nil, fmt.Errorf("抓取频道 %s 失败: %w", ch, err)
		}
		if msgs == nil {
			msgs = []Message{}
		}
		logger.Infof("[Pipeline] 频道 %s: %d 条消息", ch, len(msgs))
		record.Channels = append(record.Channels, ChannelMessages{Channel: ch, Messages: msgs})
	}

	if err = p.store.SaveRecord(date, record); err != nil {
		p.failRun(ctx, runID, err)
		return nil, fmt.Errorf("保存当日产物失败: %w", err)
	}
	logger.Infof("[Pipeline] 聚合完成: %d 个频道, 共 %d 条消息", len(record.Channels), record.MessageCount())

	if p.reporter != nil {
		if err = p.reporter.Generate(ctx, record, date); err != nil {
			p.failRun(ctx, runID, err)
			return nil, fmt.Errorf("生成报告失败: %w", err)
		}
	}

	p.completeRun(ctx, runID, len(record.Channels), record.MessageCount())
	return record, nil
}

// 运行台账仅作审计用途，写入失败不中断流水线

func (p *Pipeline) beginRun(ctx context.Context, date string) int64 {
	if p.runLog == nil {
		return 0
	}
	id, err := p.runLog.Begin(ctx, date)
	if err != nil {
		logger.Warnf("[Pipeline] 写入运行台账失败: %v", err)
		return 0
	}
	return id
}

func (p *Pipeline) completeRun(ctx context.Context, id int64, channels, messages int) {
	if p.runLog == nil || id == 0 {
		return
	}
	if err := p.runLog.MarkCompleted(ctx, id, channels, messages); err != nil {
		logger.Warnf("[Pipeline] 更新运行台账失败: %v", err)
	}
}

func (p *Pipeline) skipRun(ctx context.Context, id int64) {
	if p.runLog == nil || id == 0 {
		return
	}
	if err := p.runLog.MarkSkipped(ctx, id); err != nil {
		logger.Warnf("[Pipeline] 更新运行台账失败: %v", err)
	}
}

func (p *Pipeline) failRun(ctx context.Context, id int64, runErr error) {
	if p.runLog == nil || id == 0 {
		return
	}
	if err := p.runLog.MarkFailed(ctx, id, runErr.Error()); err != nil {
		logger.Warnf("[Pipeline] 更新运行台账失败: %v", err)
	}
}
