package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ProvChain/internal/api"
	"ProvChain/internal/auth"
	"ProvChain/internal/chain"
	"ProvChain/internal/chain/ethereum"
	"ProvChain/internal/config"
	"ProvChain/internal/ledger"
	"ProvChain/internal/observability/alerting"
	"ProvChain/pkg/logger"
)

// main 是 provchaind 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("provchaind 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("PROVCHAIN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "provchain.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("刷新日志失败: %v", err)
		}
	}()

	// 账本存储。
	var store ledger.Store
	switch cfg.Storage.Driver {
	case "", "memory":
		store = ledger.NewMemoryStore()
	case "mysql":
		mysqlStore, err := ledger.NewMySQLStore(ctx, ledger.MySQLConfig{
			DSN:             cfg.Storage.MySQL.DSN,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.MySQL.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Storage.MySQL.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		store = mysqlStore
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}

	// 事件发布器。
	var publisher ledger.Publisher
	switch cfg.Events.Driver {
	case "", "memory":
		publisher = ledger.NewMemoryPublisher(cfg.Events.Buffer)
	case "redis":
		redisPublisher, err := ledger.NewRedisPublisher(ledger.RedisPublisherConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			List:     cfg.Events.Redis.List,
		})
		if err != nil {
			return err
		}
		publisher = redisPublisher
	case "rabbitmq":
		rabbitPublisher, err := ledger.NewRabbitMQPublisher(ledger.RabbitMQPublisherConfig{
			URL:        cfg.Events.RabbitMQ.URL,
			Queue:      cfg.Events.RabbitMQ.Queue,
			Durable:    cfg.Events.RabbitMQ.Durable,
			AutoDelete: cfg.Events.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		publisher = rabbitPublisher
	default:
		return fmt.Errorf("未知的事件驱动: %s", cfg.Events.Driver)
	}

	// 全局时钟。
	var clock ledger.Clock
	switch cfg.Chain.Driver {
	case "", "logical":
		clock = chain.NewLogicalClock(cfg.Chain.StartHeight)
	case "ethereum":
		ethClock, err := ethereum.NewClock(ctx, ethereum.Config{
			Name:   cfg.Chain.Ethereum.Name,
			RPCURL: cfg.Chain.Ethereum.RPCURL,
		})
		if err != nil {
			return err
		}
		defer ethClock.Close()
		clock = ethClock
	default:
		return fmt.Errorf("未知的时钟驱动: %s", cfg.Chain.Driver)
	}

	alerts := alerting.NewFanout(&alerting.LogNotifier{})

	service := ledger.NewService(store, clock, ledger.Principal(cfg.Ledger.Owner),
		ledger.WithPublisher(publisher),
		ledger.WithAlerts(alerts),
	)
	defer func() {
		if err := service.Close(); err != nil {
			logger.L().Warn("关闭账本服务失败", slog.Any("error", err))
		}
	}()

	authKeys := make([]auth.KeyEntry, 0, len(cfg.Auth.Keys))
	for _, entry := range cfg.Auth.Keys {
		authKeys = append(authKeys, auth.KeyEntry{Key: entry.Key, Principal: entry.Principal})
	}
	authService, err := auth.NewService(auth.Config{Enabled: cfg.Auth.Enabled, Keys: authKeys})
	if err != nil {
		return err
	}

	logger.L().Info("provchaind 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.String("chain", cfg.Chain.Driver),
	)

	server := api.NewServer(cfg.Server.Address, service, authService)
	return server.Start(ctx)
}
