package svc

import (
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/fachebot/channel-digest/internal/config"
	"github.com/fachebot/channel-digest/internal/llm"
	"github.com/fachebot/channel-digest/internal/logger"
	"github.com/fachebot/channel-digest/internal/model"
	"github.com/fachebot/channel-digest/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/net/proxy"
)

type ServiceContext struct {
	Config         *config.Config
	DB             *sql.DB
	TransportProxy *http.Transport
	Store          *store.Store
	RunLogModel    *model.RunLogModel
	LLMClient      *llm.Client
}

func NewServiceContext(c *config.Config) *ServiceContext {
	// 打开运行台账数据库
	db, err := sql.Open("sqlite3", "file:data/digest.db?mode=rwc&_journal_mode=WAL")
	if err != nil {
		logger.Fatalf("打开数据库失败, %v", err)
	}
	runLogModel, err := model.NewRunLogModel(db)
	if err != nil {
		logger.Fatalf("初始化运行台账失败, %v", err)
	}

	// 创建SOCKS5代理
	var transportProxy *http.Transport
	if c.Sock5Proxy.Enable {
		socks5Proxy := fmt.Sprintf("%s:%d", c.Sock5Proxy.Host, c.Sock5Proxy.Port)
		dialer, err := proxy.SOCKS5("tcp", socks5Proxy, nil, proxy.Direct)
		if err != nil {
			logger.Fatalf("创建SOCKS5代理失败, %v", err)
		}

		transportProxy = &http.Transport{
			Dial:            dialer.Dial,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	svcCtx := &ServiceContext{
		Config:         c,
		DB:             db,
		TransportProxy: transportProxy,
		Store:          store.NewStore(c.Digest.SaveDir),
		RunLogModel:    runLogModel,
		LLMClient:      llm.NewClient(&c.LLM, transportProxy),
	}
	return svcCtx
}

func (svcCtx *ServiceContext) Close() {
	if err := svcCtx.DB.Close(); err != nil {
		logger.Errorf("关闭数据库失败, %v", err)
	}
}
