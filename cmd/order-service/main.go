// cmd/order-service/main.go
package main

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"flashmart/internal/lock"
	"flashmart/internal/pkg/bootstrap"
	"flashmart/internal/pkg/config"
	"flashmart/internal/pkg/database"
	"flashmart/internal/pkg/eventbus"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/monitor"
	"flashmart/internal/pkg/mq"
	"flashmart/internal/pkg/redis"
	balanceapp "flashmart/internal/service/balance/application"
	balanceinfra "flashmart/internal/service/balance/infrastructure"
	balanceiface "flashmart/internal/service/balance/interfaces"
	couponapp "flashmart/internal/service/coupon/application"
	couponinfra "flashmart/internal/service/coupon/infrastructure"
	"flashmart/internal/service/coupon/infrastructure/rule"
	couponiface "flashmart/internal/service/coupon/interfaces"
	orderapp "flashmart/internal/service/order/application"
	orderinfra "flashmart/internal/service/order/infrastructure"
	orderiface "flashmart/internal/service/order/interfaces"
	productapp "flashmart/internal/service/product/application"
	productinfra "flashmart/internal/service/product/infrastructure"
)

const serviceName = "order-service"

// main 是订单服务的组装根：装配存储、锁、总线和各应用服务，
// 对外提供下单 / 余额 / 领券的 HTTP 接口，并驱动下单 Saga。
func main() {
	cfg, err := config.Load("")
	if err != nil {
		logger.L().Fatal().Err(err).Msg("load config")
	}

	db, err := database.Open(cfg.MySQL.DSN)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("open mysql")
	}
	migrate(db)

	redisClient, err := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("connect redis")
	}

	locks := buildLockService(cfg, redisClient)
	bus := buildBus(cfg)
	tracer := otel.Tracer(serviceName)

	// 仓储
	productRepo := productinfra.NewGormProductRepository(db)
	balanceRepo := balanceinfra.NewGormBalanceRepository(db)
	couponRepo := couponinfra.NewGormCouponRepository(db)
	grantRepo := couponinfra.NewGormUserCouponRepository(db)
	orderRepo := orderinfra.NewGormOrderRepository(db)
	sagaLog := orderinfra.NewGormSagaLog(db)

	gate, err := couponinfra.NewRedisIssuanceGate(redisClient)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("build issuance gate")
	}
	requestStore := couponinfra.NewRedisIssueRequestStore(redisClient)
	ruleEngine, err := rule.NewCELRuleEngine()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("build rule engine")
	}

	// 应用服务
	stockLedger := productapp.NewStockLedger(productRepo, locks, tracer)
	balanceLedger := balanceapp.NewBalanceLedger(balanceRepo, balanceRepo, locks, tracer)
	couponService := couponapp.NewCouponService(
		couponRepo, grantRepo, gate, requestStore, ruleEngine, bus, locks, cfg.Kafka.CouponTopic, tracer)
	orderService := orderapp.NewOrderService(
		stockLedger, couponService, orderRepo, bus, cfg.Kafka.OrderSagaTopic, tracer)
	orchestrator := orderapp.NewOrchestrator(
		stockLedger, balanceLedger, couponService, orderRepo, sagaLog, bus, cfg.Kafka.OrderSagaTopic, tracer)

	hub := monitor.NewHub()
	orchestrator.SetMonitor(orderiface.NewSagaBroadcaster(hub))
	orchestrator.Register(bus)

	// 死信去向取决于总线后端：kafka 走 DLT topic，内存总线走回调
	var dlt *monitor.DltConsumer
	if cfg.Bus.Backend == "kafka" {
		dltReader := mq.NewReader(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroupID+"-dlt", cfg.Kafka.OrderSagaTopic+mq.DltSuffix)
		dlt = monitor.NewDltConsumer(dltReader, hub)
		if err := dlt.Start(context.Background()); err != nil {
			logger.L().Fatal().Err(err).Msg("start dlt consumer")
		}
	} else if mem, ok := bus.(*eventbus.MemoryBus); ok {
		mem.OnDeadLetter(func(dl eventbus.DeadLetter) {
			hub.Broadcast(monitor.Frame{
				Kind: "dead_letter",
				At:   dl.At,
				Detail: map[string]string{
					"originalTopic": dl.Topic,
					"error":         dl.Cause,
					"key":           dl.Envelope.Key,
				},
			})
		})
	}

	if err := bus.Start(context.Background()); err != nil {
		logger.L().Fatal().Err(err).Msg("start event bus")
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8080,
		Config:      cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			orderiface.NewOrderHandler(orderService, orchestrator, hub).RegisterRoutes(appCtx.Mux)
			balanceiface.NewBalanceHandler(balanceLedger).RegisterRoutes(appCtx.Mux)
			couponiface.NewCouponHandler(couponService).RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) { bus.Stop(ctx) },
			func(ctx context.Context) {
				if dlt != nil {
					dlt.Stop(ctx)
				}
			},
			func(ctx context.Context) { hub.Close(ctx) },
			func(ctx context.Context) { redisClient.Close() },
		},
	})
}

func migrate(db *gorm.DB) {
	err := db.AutoMigrate(
		&productinfra.ProductModel{},
		&balanceinfra.UserBalanceModel{},
		&balanceinfra.BalanceHistoryModel{},
		&couponinfra.CouponModel{},
		&couponinfra.UserCouponModel{},
		&orderinfra.OrderModel{},
		&orderinfra.OrderItemModel{},
		&orderinfra.PaymentModel{},
		&orderinfra.SagaEventModel{},
	)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("auto migrate")
	}
}

func buildLockService(cfg *config.Config, redisClient *redis.Client) lock.Service {
	switch cfg.Lock.Backend {
	case "zookeeper":
		svc, err := lock.NewZooKeeperLockService(cfg.Zookeeper.Hosts, 5*time.Second, cfg.Lock.WaitTimeout)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("connect zookeeper")
		}
		return svc
	case "memory":
		return lock.NewMemoryLockService(cfg.Lock.WaitTimeout)
	default:
		svc, err := lock.NewRedisLockService(redisClient, cfg.Lock.WaitTimeout, cfg.Lock.LeaseTTL)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("build redis lock service")
		}
		return svc
	}
}

func buildBus(cfg *config.Config) eventbus.Bus {
	policy := eventbus.DefaultRetryPolicy()
	if cfg.Bus.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Bus.MaxAttempts
	}
	if cfg.Bus.Backend == "memory" {
		return eventbus.NewMemoryBus(cfg.Bus.Workers, policy)
	}
	return eventbus.NewKafkaBus(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroupID, policy)
}
