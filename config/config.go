package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	OSS       OSSConfig       `mapstructure:"oss"`
	Queue     QueueConfig     `mapstructure:"queue"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Poll      PollConfig      `mapstructure:"poll"`
	Callback  CallbackConfig  `mapstructure:"callback"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"` // 控制台彩色输出，仅用于本地开发
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

// StorageConfig OSS 未配置时的本地存储
type StorageConfig struct {
	LocalDir      string `mapstructure:"local_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type QueueConfig struct {
	GenerationQueue string        `mapstructure:"generation_queue"`
	MaxWorkers      int           `mapstructure:"max_workers"`
	RequeueAfter    time.Duration `mapstructure:"requeue_after"` // pending 超过该时长视为消息丢失，重新入队
	// 派发租约，需长于一次派发的最长耗时（含歌词子任务与换供应商）
	DispatchLease time.Duration `mapstructure:"dispatch_lease"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type QuotaConfig struct {
	DailyGenerations int `mapstructure:"daily_generations"`
}

// PollConfig 轮询引擎参数
type PollConfig struct {
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Growth         float64       `mapstructure:"growth"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	Concurrency    int           `mapstructure:"concurrency"`
	BatchSize      int           `mapstructure:"batch_size"`
	Lease          time.Duration `mapstructure:"lease"`
}

type CallbackConfig struct {
	BaseURL string `mapstructure:"base_url"` // 对外可访问的地址，用于拼接 callBackUrl
	Token   string `mapstructure:"token"`    // 回调共享密钥，为空时不校验
	// 精确匹配失败后回溯查找的时间窗口
	FallbackWindow time.Duration `mapstructure:"fallback_window"`
}

type ProvidersConfig struct {
	Default             string         `mapstructure:"default"`
	FallbackEnabled     bool           `mapstructure:"fallback_enabled"`
	LongPromptThreshold int            `mapstructure:"long_prompt_threshold"`
	Suno                ProviderConfig `mapstructure:"suno"`
	Mureka              ProviderConfig `mapstructure:"mureka"`
}

type ProviderConfig struct {
	DisplayName string        `mapstructure:"display_name"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseCost    int           `mapstructure:"base_cost"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RetryCount  int           `mapstructure:"retry_count"`
	Description string        `mapstructure:"description"`
	// 允许从内网地址下载用户提供的参考音轨
	AllowPrivateReferences bool `mapstructure:"allow_private_references"`
}

// Enabled 是否配置了可用的凭据
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != "" && p.BaseURL != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("queue.generation_queue", "generation_tasks")
	v.SetDefault("queue.max_workers", 4)
	v.SetDefault("queue.requeue_after", 2*time.Minute)
	v.SetDefault("queue.dispatch_lease", 10*time.Minute)
	v.SetDefault("quota.daily_generations", 20)

	v.SetDefault("poll.initial_delay", 5*time.Second)
	v.SetDefault("poll.max_delay", 15*time.Second)
	v.SetDefault("poll.growth", 1.2)
	v.SetDefault("poll.max_attempts", 30)
	v.SetDefault("poll.rate_limit_delay", 30*time.Second)
	v.SetDefault("poll.sweep_interval", 2*time.Second)
	v.SetDefault("poll.concurrency", 8)
	v.SetDefault("poll.batch_size", 50)
	v.SetDefault("poll.lease", time.Minute)

	v.SetDefault("callback.fallback_window", 24*time.Hour)

	v.SetDefault("providers.default", "mureka")
	v.SetDefault("providers.fallback_enabled", true)
	v.SetDefault("providers.long_prompt_threshold", 200)
	v.SetDefault("providers.suno.base_url", "https://api.sunoapi.org")
	v.SetDefault("providers.suno.model", "V4_5")
	v.SetDefault("providers.suno.base_cost", 10)
	v.SetDefault("providers.suno.timeout", 60*time.Second)
	v.SetDefault("providers.suno.retry_count", 2)
	v.SetDefault("providers.mureka.base_url", "https://api.mureka.ai")
	v.SetDefault("providers.mureka.model", "auto")
	v.SetDefault("providers.mureka.base_cost", 8)
	v.SetDefault("providers.mureka.timeout", 60*time.Second)
	v.SetDefault("providers.mureka.retry_count", 2)
}

func Load(configPath string) (*Config, error) {
	// 优先读取 config.local.yaml（包含真实密钥，不提交到 git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	// 环境变量覆盖，如 PROVIDERS_SUNO_API_KEY
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SunoURL 拼接 Suno 回调地址，未配置 base_url 时返回空
func (c CallbackConfig) SunoURL() string {
	if c.BaseURL == "" {
		return ""
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/api/v1/callbacks/suno"
	if c.Token != "" {
		u += "?token=" + url.QueryEscape(c.Token)
	}
	return u
}
