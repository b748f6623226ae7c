// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"flashmart/internal/pkg/config"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/nacos"
	"flashmart/internal/pkg/tracing"
)

// AppCtx 传给各服务的路由注册回调。
type AppCtx struct {
	Mux    *http.ServeMux
	Config *config.Config
	Nacos  *nacos.Client
}

// AppInfo 描述一个服务的启动参数。
type AppInfo struct {
	ServiceName      string
	Port             int
	Config           *config.Config
	RegisterHandlers func(appCtx AppCtx)
	// OnShutdown 在 HTTP 停止后按注册顺序执行，用于停掉消费循环等后台组件。
	OnShutdown []func(ctx context.Context)
}

// StartService 封装所有服务的通用启动和优雅关停流程：
// tracer、Nacos 注册（配置了才启用）、HTTP server、信号处理。
// 调用会阻塞到进程收到退出信号为止。
func StartService(info AppInfo) {
	logger.Init(info.ServiceName)
	cfg := info.Config
	if cfg == nil {
		cfg = config.Default()
	}

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Jaeger.Endpoint)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("initialize tracer provider")
	}

	var (
		naming *nacos.Client
		ip     string
	)
	if cfg.Nacos.ServerAddrs != "" {
		naming, err = nacos.NewClient(cfg.Nacos.ServerAddrs, cfg.Nacos.Namespace, cfg.Nacos.Group)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("initialize nacos client")
		}
		ip, err = outboundIP()
		if err != nil {
			logger.L().Fatal().Err(err).Msg("resolve outbound ip")
		}
		if err := naming.Register(info.ServiceName, ip, info.Port); err != nil {
			logger.L().Fatal().Err(err).Msg("register service with nacos")
		}
	}

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg, Nacos: naming})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		logger.L().Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("✅ http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Fatal().Err(err).Str("addr", server.Addr).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.L().Info().Str("service", info.ServiceName).Msg("🛑 shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if naming != nil {
		if err := naming.Deregister(info.ServiceName, ip, info.Port); err != nil {
			logger.L().Error().Err(err).Msg("deregister from nacos")
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.L().Error().Err(err).Msg("shutdown http server")
	}

	for _, fn := range info.OnShutdown {
		fn(ctx)
	}

	if err := tp.Shutdown(ctx); err != nil {
		logger.L().Error().Err(err).Msg("shutdown tracer provider")
	}

	logger.L().Info().Str("service", info.ServiceName).Msg("✅ gracefully shut down")
}

// outboundIP 取本机对外通信使用的地址，用于注册中心上报。
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", errors.Wrap(err, "dial to resolve outbound ip")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
