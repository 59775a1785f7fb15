//go:build linux
// +build linux

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fachebot/channel-digest/internal/config"
	"github.com/fachebot/channel-digest/internal/digest"
	"github.com/fachebot/channel-digest/internal/logger"
	"github.com/fachebot/channel-digest/internal/model"
	"github.com/fachebot/channel-digest/internal/report"
	"github.com/fachebot/channel-digest/internal/svc"
	"github.com/fachebot/channel-digest/internal/teleapp"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/zelenin/go-tdlib/client"
)

var (
	configFile = flag.String("f", "", "the config file")

	apiId     = flag.String("api-id", "", "Telegram API ID")
	apiHash   = flag.String("api-hash", "", "Telegram API Hash")
	openaiKey = flag.String("openai-key", "", "OpenAI API Key")

	addChannels      = flag.String("add-channels", "", "追加的频道列表, 逗号分隔")
	saveDir          = flag.String("save-dir", "", "输出目录")
	prompt           = flag.String("prompt", "", "报告生成指令")
	openaiProcessing = flag.Bool("openai-processing", false, "启用报告生成步骤")
	refresh          = flag.Bool("refresh", false, "忽略当日缓存强制重新抓取")
	cronSpec         = flag.String("cron", "", "cron 表达式, 设置后常驻按计划运行")
)

func init() {
	// 短选项别名
	flag.StringVar(addChannels, "a", "", "追加的频道列表, 逗号分隔 (同 -add-channels)")
	flag.StringVar(saveDir, "d", "", "输出目录 (同 -save-dir)")
	flag.StringVar(prompt, "p", "", "报告生成指令 (同 -prompt)")
	flag.BoolVar(refresh, "r", false, "忽略当日缓存强制重新抓取 (同 -refresh)")
}

// loadConfig 按 默认值 < 配置文件 < 环境变量 < 命令行 的优先级组装配置
func loadConfig() *config.Config {
	// .env 文件可选
	_ = godotenv.Load()

	c := config.Default()
	if *configFile != "" {
		loaded, err := config.LoadFromFile(*configFile)
		if err != nil {
			logger.Fatalf("读取配置文件失败, %s", err)
		}
		c = loaded
	}

	if err := c.FillFromEnv(); err != nil {
		logger.Fatalf("读取环境变量失败, %s", err)
	}

	if *apiId != "" {
		id, err := strconv.ParseInt(*apiId, 10, 32)
		if err != nil {
			logger.Fatalf("api-id 无效, %s", err)
		}
		c.TelegramApp.ApiId = int32(id)
	}
	if *apiHash != "" {
		c.TelegramApp.ApiHash = *apiHash
	}
	if *openaiKey != "" {
		c.LLM.APIKey = *openaiKey
	}
	if *addChannels != "" {
		c.Digest.AddChannels = append(c.Digest.AddChannels, splitList(*addChannels)...)
	}
	if *saveDir != "" {
		c.Digest.SaveDir = *saveDir
	}
	if *prompt != "" {
		c.Digest.Prompt = *prompt
	}
	if *openaiProcessing {
		c.Digest.OpenAIProcessing = true
	}
	if *refresh {
		c.Digest.Refresh = true
	}
	if *cronSpec != "" {
		c.Digest.Cron = *cronSpec
	}

	// 凭证缺失在任何网络活动前报错
	if err := c.Validate(); err != nil {
		logger.Fatalf("配置无效, %s", err)
	}
	return c
}

func main() {
	flag.Parse()

	c := loadConfig()

	// 创建数据目录
	if _, err := os.Stat("data"); os.IsNotExist(err) {
		err := os.Mkdir("data", 0755)
		if err != nil {
			logger.Fatalf("创建数据目录失败, %s", err)
		}
	}

	// 创建服务上下文
	svcCtx := svc.NewServiceContext(c)

	// 登录Telegram
	options := make([]client.Option, 0)
	if c.Sock5Proxy.Enable {
		options = append(options, client.WithProxy(&client.AddProxyRequest{
			Server: c.Sock5Proxy.Host,
			Port:   c.Sock5Proxy.Port,
			Enable: c.Sock5Proxy.Enable,
			Type:   &client.ProxyTypeSocks5{},
		}))
	}

	fetchTimeout := time.Duration(c.Digest.FetchTimeout) * time.Second
	app := teleapp.NewApp(c.TelegramApp.ApiId, c.TelegramApp.ApiHash, "data", fetchTimeout)
	user, err := app.Login(options...)
	if err != nil {
		logger.Fatalf("[TeleApp] 用户登录失败, %s", err)
	}
	logger.Infof("[TeleApp] 用户 <%s %s>(%d) 登录成功", user.FirstName, user.LastName, user.Id)

	// 报告生成步骤按需启用
	var reporter digest.Reporter
	if c.Digest.OpenAIProcessing {
		reporter = report.NewGenerator(svcCtx.LLMClient, svcCtx.Store, &c.Digest)
	}

	pipeline := digest.NewPipeline(app, svcCtx.Store, reporter, svcCtx.RunLogModel, &c.Digest)

	// 信号触发取消
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	exitCode := 0
	if c.Digest.Cron == "" {
		// 单次运行
		if _, err := pipeline.Run(ctx); err != nil {
			logger.Errorf("[Pipeline] 运行失败: %v", err)
			exitCode = 1
		}
	} else {
		runDaemon(ctx, pipeline, svcCtx.RunLogModel, &c.Digest)
	}

	// 优雅关闭
	logger.Infof("正在关闭服务...")
	if err := app.Close(); err != nil {
		logger.Infof("[TeleApp] 关闭失败, %v", err)
	}
	svcCtx.Close()
	logger.Infof("服务已停止")
	os.Exit(exitCode)
}

// runDaemon 常驻模式：按 cron 计划重复运行流水线，直到收到退出信号。
// 当日已有完成记录时跳过本次触发，除非配置了强制刷新。
func runDaemon(ctx context.Context, pipeline *digest.Pipeline, runLog *model.RunLogModel, cfg *config.Digest) {
	scheduler := cron.New(cron.WithLocation(time.UTC))
	_, err := scheduler.AddFunc(cfg.Cron, func() {
		if !cfg.Refresh {
			date := time.Now().UTC().Format("2006-01-02")
			done, err := runLog.HasCompleted(ctx, date)
			if err != nil {
				logger.Warnf("[Daemon] 查询运行台账失败: %v", err)
			} else if done {
				logger.Infof("[Daemon] %s 已有完成记录, 跳过本次计划运行", date)
				return
			}
		}
		if _, err := pipeline.Run(ctx); err != nil {
			logger.Errorf("[Pipeline] 计划运行失败: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("注册计划任务失败: %s", err)
	}

	scheduler.Start()
	logger.Infof("[Daemon] 已启动, 计划: %s", cfg.Cron)

	<-ctx.Done()
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
