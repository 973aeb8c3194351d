package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"riplimit/internal/config"
	"riplimit/internal/handler"
	"riplimit/internal/infrastructure/cache"
	"riplimit/internal/infrastructure/database"
	"riplimit/internal/infrastructure/lock"
	"riplimit/internal/infrastructure/logging"
	"riplimit/internal/infrastructure/mq"
	"riplimit/internal/job"
	"riplimit/internal/repository"
	"riplimit/internal/service"
	"riplimit/pkg/idgen"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径，留空只读环境变量")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := logging.Setup(&cfg.Log); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}

	ids, err := idgen.New(cfg.Ledger.WorkerID)
	if err != nil {
		log.Fatalf("初始化 ID 生成器失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 存储
	var (
		store  repository.Store
		outbox job.OutboxStore
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		log.Warn("使用内存存储，进程退出后数据丢失")
		mem := repository.NewMemoryStore()
		store, outbox = mem, mem
	default:
		db, err := database.NewMySQL(&cfg.MySQL)
		if err != nil {
			log.Fatalf("连接 MySQL 失败: %v", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		mysqlStore := repository.NewMySQLStore(db)
		store, outbox = mysqlStore, mysqlStore.Outbox()
	}

	// 锁与统计缓存，没有 Redis 时退化为单实例
	var (
		locker     service.Locker
		statsCache service.StatsCache
	)
	if cfg.Redis.Enabled() {
		redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			log.Fatalf("连接 Redis 失败: %v", err)
		}
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, cfg.Ledger.HoldLockTTL, cfg.Ledger.HoldLockWait)
		statsCache = cache.NewStatsCache(redisClient, cfg.Ledger.StatsCacheTTL)
	} else {
		log.Warn("未配置 Redis，冻结锁仅在本进程内生效")
		locker = lock.NewLocalLocker()
	}

	mutator := service.NewMutator(store, ids, cfg.Kafka.Topic.LedgerEvents)
	holds := service.NewHoldManager(mutator, store, locker, cfg.Ledger.MaxStoreRetries, cfg.Ledger.MaxPageSize)

	h := handler.NewHandler(handler.Services{
		Accounts: service.NewAccountService(store),
		Mutator:  mutator,
		Holds:    holds,
		History:  service.NewHistoryService(store, cfg.Ledger.DefaultPageSize, cfg.Ledger.MaxPageSize),
		Admin:    service.NewAdminService(store, statsCache, cfg.Ledger.RecentTransactions, cfg.Ledger.MaxPageSize),
	}, cfg.Ledger.DefaultPageSize, cfg.Ledger.MaxPageSize)

	router := handler.SetupRouter(h, cfg.Server.InternalToken)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	g, ctx := errgroup.WithContext(ctx)

	// 后台任务
	if cfg.Kafka.Enabled() {
		producer, err := mq.NewProducer(&cfg.Kafka)
		if err != nil {
			log.Fatalf("初始化 Kafka 生产者失败: %v", err)
		}
		defer producer.Close()

		outboxSender := job.NewOutboxSender(outbox, producer, &cfg.Jobs.Outbox)
		g.Go(func() error {
			outboxSender.Start(ctx)
			return nil
		})
	} else {
		log.Warn("未配置 Kafka，账本事件只写入 outbox 表")
	}

	if cfg.Jobs.StaleHold.Enabled {
		staleHoldJob := job.NewStaleHoldJob(holds, &cfg.Jobs.StaleHold)
		g.Go(func() error {
			staleHoldJob.Start(ctx)
			return nil
		})
	}

	if cfg.Jobs.Reconcile.Enabled {
		reconcileJob := job.NewReconcileJob(store, &cfg.Jobs.Reconcile)
		g.Go(func() error {
			reconcileJob.Start(ctx)
			return nil
		})
	}

	g.Go(func() error {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// 收到信号或任一任务出错时关闭 HTTP 服务（等待最多5秒）
	g.Go(func() error {
		<-ctx.Done()
		log.Println("正在关闭服务...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorf("服务异常退出: %v", err)
		os.Exit(1)
	}
	log.Println("服务已关闭")
}
