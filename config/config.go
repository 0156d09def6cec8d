// Package config 服务配置, YAML 文件 + 环境变量
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀, 如 CLICKSEG_SERVER_PORT
const EnvPrefix = "CLICKSEG"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Model  ModelConfig  `mapstructure:"model"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Onnx   OnnxConfig   `mapstructure:"onnx"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size"`
}

type ModelConfig struct {
	// ID 内置模型 id 或别名, 为空时按运行环境推荐
	ID string `mapstructure:"id"`
}

type CacheConfig struct {
	// Kind 缓存类型: dir / redis / memory
	Kind string `mapstructure:"kind"`
	Dir  string `mapstructure:"dir"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OnnxConfig 字段名与 clickseg.OnnxConfig 一致, 便于直接复制
type OnnxConfig struct {
	OnnxRuntimeLibPath string `mapstructure:"lib_path"`
	UseCuda            bool   `mapstructure:"use_cuda"`
	UseCoreML          bool   `mapstructure:"use_coreml"`
	NumThreads         int    `mapstructure:"num_threads"`
}

// Load 加载配置, 优先级: 环境变量 > 配置文件 > 默认值
//
// configPath 为空或文件不存在时只使用默认值与环境变量; 当前目录的 .env 会先被载入
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_upload_size", 20*1024*1024)

	v.SetDefault("model.id", "")

	v.SetDefault("cache.kind", "dir")
	v.SetDefault("cache.dir", "./clickseg_weights")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("onnx.lib_path", "")
	v.SetDefault("onnx.use_cuda", false)
	v.SetDefault("onnx.use_coreml", false)
	v.SetDefault("onnx.num_threads", 0)
}
