package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 存储驱动名称，对应 cache 包中的三种 Storage 实现。
const (
	StorageDriverLevelDB = "leveldb"
	StorageDriverFS      = "fs"
	StorageDriverMemory  = "memory"
)

// GlobalConfig 描述进程级运行参数：监听端口、日志、缓存存储与超时。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StorageDriver   string   `mapstructure:"StorageDriver"`
	NetworkTimeout  Duration `mapstructure:"NetworkTimeout"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	UpdateInterval  Duration `mapstructure:"UpdateInterval"`
}

// WorkerConfig 决定缓存层如何识别请求、连接后端以及预缓存哪些页面。
type WorkerConfig struct {
	Origin          string   `mapstructure:"Origin"`
	OriginAliases   []string `mapstructure:"OriginAliases"`
	Upstream        string   `mapstructure:"Upstream"`
	APIPrefix       string   `mapstructure:"APIPrefix"`
	VersionEndpoint string   `mapstructure:"VersionEndpoint"`
	FallbackVersion string   `mapstructure:"FallbackVersion"`
	StaticSegment   string   `mapstructure:"StaticSegment"`
	DataSegment     string   `mapstructure:"DataSegment"`
	Precache        []string `mapstructure:"Precache"`
	PrecacheFile    string   `mapstructure:"PrecacheFile"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Worker WorkerConfig `mapstructure:"Worker"`
}

// OriginURL 返回解析后的公开源站地址（假定 Validate 已经通过）。
func (w WorkerConfig) OriginURL() *url.URL {
	parsed, err := url.Parse(strings.TrimRight(w.Origin, "/"))
	if err != nil {
		return &url.URL{}
	}
	return parsed
}

// VersionURL 拼接后端版本接口的完整地址。
func (w WorkerConfig) VersionURL() string {
	return strings.TrimRight(w.Upstream, "/") + w.VersionEndpoint
}

// PrecacheURLs 将预缓存路径解析为基于 Origin 的绝对地址，保持原有顺序。
func (w WorkerConfig) PrecacheURLs() []string {
	if len(w.Precache) == 0 {
		return nil
	}
	origin := strings.TrimRight(w.Origin, "/")
	result := make([]string, 0, len(w.Precache))
	for _, p := range w.Precache {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		result = append(result, origin+p)
	}
	return result
}
