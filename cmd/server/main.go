package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"takeout/internal/config"
	"takeout/internal/database"
	"takeout/internal/logging"
	"takeout/internal/metrics"
	"takeout/internal/notify"
	"takeout/internal/order"
	"takeout/internal/payment"
	"takeout/internal/queue"
	"takeout/internal/report"
	"takeout/internal/router"
	rediskey "takeout/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	// 1. 数据库，自动建表
	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	if err := database.Migrate(db); err != nil {
		logger.WithError(err).Fatal("Failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// 2. Redis：订单号序列、报表缓存、限流。未启用时退化为随机订单号、不缓存、不限流。
	var (
		rdb     *rd.Client
		numbers order.NumberGenerator = order.RandomNumbers{}
		cache   *rediskey.ReportCache
	)
	if cfg.RedisEnabled {
		rdb = rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to redis")
		}
		defer rdb.Close()
		numbers = rediskey.NewOrderSequence(rdb, cfg.Location)
		cache = rediskey.NewReportCache(rdb, cfg.ReportCacheTTL)
	}

	// 3. 支付网关
	var gateway order.Gateway = payment.Mock{Logger: logger}
	if !cfg.PaymentMock {
		gateway = payment.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey, cfg.PaymentTimeout, cfg.PaymentRetries, logger)
	}

	orders := order.NewService(db, order.GormAddressBook{DB: db}, gateway, numbers, logger, order.WithMetrics(m))
	reports := report.NewAggregator(db, cfg.Location, logger)
	if cache != nil {
		reports.WithCache(cache)
	}

	// 4. 事件：outbox → (Kafka) → 推送商家端 + 报表缓存失效
	hub := notify.NewHub(logger, cfg.CORSOrigins)
	go hub.Run(ctx)

	handlers := []queue.Handler{hub.HandleOrderEvent}
	if cache != nil {
		// 催单、退款失败不影响统计
		handlers = append(handlers, func(ctx context.Context, ev queue.OrderEvent) error {
			switch ev.Type {
			case queue.EventOrderReminded, queue.EventOrderRefundFailed:
				return nil
			}
			return cache.BumpVersion(ctx)
		})
	}
	dispatcher := queue.NewDispatcher(logger, handlers...)

	var publisher queue.Publisher = queue.LocalPublisher{Dispatcher: dispatcher}
	if cfg.KafkaEnabled() {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer

		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, dispatcher, logger)
		defer consumer.Close()
		go consumer.Run(ctx)
	}
	relay := queue.NewRelay(db, publisher, cfg.RelayInterval, cfg.RelayBatchSize, logger)
	go relay.Run(ctx)

	// 5. HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Deps{
		Orders:  orders,
		Cart:    order.NewCart(db, order.GormCatalog{DB: db}),
		Reports: reports,
		Hub:     hub,
		Metrics: m,
		Redis:   rdb,
		Logger:  logger,
		Config:  cfg,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":  cfg.HTTPAddr,
			"db":    cfg.DBDriver,
			"redis": cfg.RedisEnabled,
			"kafka": cfg.KafkaEnabled(),
		}).Info("Server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP shutdown failed")
	}
}
