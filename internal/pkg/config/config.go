// internal/pkg/config/config.go
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 汇总了所有服务共享的基础设施配置。
// 字段通过 YAML 文件加载，少量高频项可用环境变量覆盖。
type Config struct {
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Kafka struct {
		Brokers         []string `yaml:"brokers"`
		OrderSagaTopic  string   `yaml:"order_saga_topic"`
		CouponTopic     string   `yaml:"coupon_topic"`
		ConsumerGroupID string   `yaml:"consumer_group_id"`
	} `yaml:"kafka"`

	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`

	Zookeeper struct {
		Hosts []string `yaml:"hosts"`
	} `yaml:"zookeeper"`

	Lock struct {
		// Backend 可选 redis / zookeeper / memory
		Backend     string        `yaml:"backend"`
		WaitTimeout time.Duration `yaml:"wait_timeout"`
		LeaseTTL    time.Duration `yaml:"lease_ttl"`
	} `yaml:"lock"`

	Bus struct {
		// Backend 可选 kafka / memory
		Backend     string `yaml:"backend"`
		Workers     int    `yaml:"workers"`
		MaxAttempts int    `yaml:"max_attempts"`
	} `yaml:"bus"`

	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`

	Nacos struct {
		ServerAddrs string `yaml:"server_addrs"`
		Namespace   string `yaml:"namespace"`
		Group       string `yaml:"group"`
	} `yaml:"nacos"`
}

// Load 读取 YAML 配置文件并应用默认值。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config yaml")
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		cfg.MySQL.DSN = dsn
	}
	return cfg, nil
}

// Default 返回本地开发可用的默认配置。
func Default() *Config {
	cfg := &Config{}
	cfg.Redis.Addr = "localhost:6379"
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.OrderSagaTopic = "flashmart.order.saga"
	cfg.Kafka.CouponTopic = "flashmart.coupon.issue"
	cfg.Kafka.ConsumerGroupID = "flashmart-core"
	cfg.MySQL.DSN = "root:root@tcp(localhost:3306)/flashmart?charset=utf8mb4&parseTime=True&loc=Local"
	cfg.Zookeeper.Hosts = []string{"localhost:2181"}
	cfg.Lock.Backend = "redis"
	cfg.Lock.WaitTimeout = 3 * time.Second
	cfg.Lock.LeaseTTL = 10 * time.Second
	cfg.Bus.Backend = "kafka"
	cfg.Bus.Workers = 8
	cfg.Bus.MaxAttempts = 3
	cfg.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Nacos.ServerAddrs = "localhost:8848"
	cfg.Nacos.Group = "DEFAULT_GROUP"
	return cfg
}
