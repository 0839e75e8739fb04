package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/derivbot/goderiv/internal/domain"
	"github.com/derivbot/goderiv/internal/engine"
	"github.com/derivbot/goderiv/internal/execution"
	"github.com/derivbot/goderiv/internal/features"
	"github.com/derivbot/goderiv/internal/ledger"
	"github.com/derivbot/goderiv/internal/lifecycle"
	"github.com/derivbot/goderiv/internal/metrics"
	"github.com/derivbot/goderiv/internal/model"
	"github.com/derivbot/goderiv/internal/risk"
	"github.com/derivbot/goderiv/internal/tickstore"
	"github.com/derivbot/goderiv/pkg/config"
	"github.com/derivbot/goderiv/pkg/logger"
	"github.com/derivbot/goderiv/pkg/persistence"
	"github.com/derivbot/goderiv/pkg/sdk/deriv"
	"github.com/derivbot/goderiv/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	// .env 不存在不是错误（生产环境直接用环境变量）
	_ = godotenv.Load()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}

	logger.Infof("启动 goderiv symbol=%s endpoint=%s", cfg.Venue.Symbol, cfg.Venue.Endpoint)

	if err := run(cfg); err != nil {
		logger.Errorf("运行失败: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// 模型必须在首个 tick 之前就绪；加载或维度校验失败都是致命错误
	predictor, err := model.Load(cfg.Model.Source)
	if err != nil {
		return fmt.Errorf("模型加载失败: %w", err)
	}
	if predictor.InputDim() != len(features.FeatureNames) {
		return fmt.Errorf("模型输入维度 %d 与特征数 %d 不一致（schema v%d）",
			predictor.InputDim(), len(features.FeatureNames), features.SchemaVersion)
	}
	if sv := predictor.SchemaVersion(); sv != 0 && sv != features.SchemaVersion {
		return fmt.Errorf("模型训练时的特征顺序版本 %d 与当前 %d 不一致，需要重新导出模型",
			sv, features.SchemaVersion)
	}
	logger.Infof("模型就绪 source=%s dim=%d", cfg.Model.Source, predictor.InputDim())

	led, err := ledger.Open(cfg.Storage.LedgerPath)
	if err != nil {
		return err
	}
	defer led.Close()

	var store *tickstore.Store
	if cfg.Storage.TickStorePath != "" {
		store, err = tickstore.Open(cfg.Storage.TickStorePath, cfg.Venue.Symbol, 0)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	client := deriv.NewClient(&deriv.Config{
		Endpoint:        cfg.Venue.Endpoint,
		AppID:           cfg.Venue.AppID,
		Token:           cfg.Venue.Token,
		Symbol:          cfg.Venue.Symbol,
		PingInterval:    cfg.Session.PingInterval.Duration,
		PingJitter:      cfg.Session.PingJitter.Duration,
		ReconnectDelay:  cfg.Session.ReconnectDelay.Duration,
		ReconnectJitter: cfg.Session.ReconnectJitter.Duration,
	})

	account := domain.NewAccountState()
	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxConsecutiveErrors: cfg.Risk.MaxConsecutiveErrors,
		DailyLossLimit:       decimal.NewFromFloat(cfg.Risk.DailyLossLimit),
	})

	manager := lifecycle.NewManager(lifecycle.Config{
		Symbol:       cfg.Venue.Symbol,
		Currency:     cfg.Venue.Currency,
		Duration:     cfg.Engine.ContractDuration,
		DurationUnit: "m",
		AckTimeout:   cfg.Session.AckTimeout.Duration,
	}, client, led)

	gate := execution.NewGate(execution.Config{
		BufferSize:          cfg.Engine.BufferSize,
		ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
		BaseInterval:        cfg.Engine.BaseTradeInterval.Duration,
		MinInterval:         cfg.Engine.MinTradeInterval.Duration,
		Sizer: risk.SizerConfig{
			KellyFraction: cfg.Risk.KellyFraction,
			MinSize:       cfg.Risk.MinSize,
			MaxSize:       cfg.Risk.MaxSize,
		},
	}, features.NewCalculator(features.DefaultCalculatorConfig()), predictor,
		breaker, manager, account, store)

	// 热启动：用落地的历史 tick 回灌缓冲区
	if store != nil {
		if ticks, err := store.RecentN(cfg.Engine.BufferSize); err != nil {
			logger.Warnf("tick 回灌失败: %v", err)
		} else {
			gate.WarmStart(ticks)
		}
	}

	var state *persistence.Store
	if cfg.Storage.StateDir != "" {
		state = persistence.NewStore(cfg.Storage.StateDir, "engine:"+cfg.Venue.Symbol)
	}

	eng := engine.New(client, gate, manager, account, breaker, led, state)
	if err := eng.Restore(); err != nil {
		return err
	}

	var statusSrv *metrics.Server
	if cfg.Metrics.Listen != "" {
		statusSrv = metrics.NewServer(cfg.Metrics.Listen, eng.Status)
		statusSrv.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Start(ctx); err != nil {
		return err
	}

	// 优雅关闭编排
	sd := shutdown.NewManager()
	sd.OnShutdown(func(ctx context.Context) {
		client.Stop()
	})
	if statusSrv != nil {
		sd.OnShutdown(func(ctx context.Context) {
			statusSrv.Stop(ctx)
		})
	}
	if store != nil {
		sd.OnShutdown(func(ctx context.Context) {
			store.RunGC()
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	select {
	case sig := <-sigCh:
		logger.Infof("收到信号 %v，开始优雅关闭", sig)
		cancel()
	case err := <-runErr:
		if err != nil {
			logger.Errorf("引擎退出: %v", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	sd.Shutdown(shutdownCtx)

	// 等引擎把收尾快照落完
	select {
	case <-runErr:
	case <-time.After(3 * time.Second):
	}

	logger.Info("已退出")
	return nil
}
