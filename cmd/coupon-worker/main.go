// cmd/coupon-worker/main.go
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
	couponapp "flashmart/internal/service/coupon/application"
	couponinfra "flashmart/internal/service/coupon/infrastructure"
	"flashmart/internal/service/coupon/infrastructure/rule"
	couponiface "flashmart/internal/service/coupon/interfaces"
)

const serviceName = "coupon-worker"

// main 是发放 worker 的组装根：消费领券事件，把快路径
// 抢到的名额落成持久的发放记录。
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

	redisClient, err := redisClientFromConfig(cfg)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("connect redis")
	}

	locks := buildLockService(cfg, redisClient)
	bus := buildBus(cfg)
	tracer := otel.Tracer(serviceName)

	couponRepo := couponinfra.NewGormCouponRepository(db)
	grantRepo := couponinfra.NewGormUserCouponRepository(db)
	gate, err := couponinfra.NewRedisIssuanceGate(redisClient)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("build issuance gate")
	}
	requestStore := couponinfra.NewRedisIssueRequestStore(redisClient)
	ruleEngine, err := rule.NewCELRuleEngine()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("build rule engine")
	}

	couponService := couponapp.NewCouponService(
		couponRepo, grantRepo, gate, requestStore, ruleEngine, bus, locks, cfg.Kafka.CouponTopic, tracer)

	couponiface.NewIssueConsumer(couponService).Register(bus, cfg.Kafka.CouponTopic)

	// 发放链路的死信同样要看得见：kafka 走 DLT topic，内存总线走回调
	hub := monitor.NewHub()
	var dlt *monitor.DltConsumer
	if cfg.Bus.Backend == "kafka" {
		dltReader := mq.NewReader(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroupID+"-dlt", cfg.Kafka.CouponTopic+mq.DltSuffix)
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
		Port:        8082,
		Config:      cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			couponiface.NewCouponHandler(couponService).RegisterRoutes(appCtx.Mux)
			appCtx.Mux.HandleFunc("/ws/monitor", hub.ServeWS)
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
		&couponinfra.CouponModel{},
		&couponinfra.UserCouponModel{},
	)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("auto migrate")
	}
}

func redisClientFromConfig(cfg *config.Config) (*redis.Client, error) {
	return redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
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
