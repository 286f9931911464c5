package config

import (
	"fmt"
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

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
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

// GlobalConfig 描述全局运行时行为：监听端口、日志、缓存存储与上游。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StorageDriver   string   `mapstructure:"StorageDriver"`
	Upstream        string   `mapstructure:"Upstream"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// WorkerConfig 对应离线缓存 worker 的可配置项。
type WorkerConfig struct {
	// CacheVersion 为空时使用构建期注入的 version.CacheName()。
	CacheVersion string   `mapstructure:"CacheVersion"`
	OfflinePage  string   `mapstructure:"OfflinePage"`
	Precache     []string `mapstructure:"Precache"`
	APIPatterns  []string `mapstructure:"APIPatterns"`
	// NotificationInbox 限制 /-/notifications 中保留的最近通知数量。
	NotificationInbox int `mapstructure:"NotificationInbox"`
}

// GeoConfig 描述定位获取与排序的默认值。
type GeoConfig struct {
	DefaultLat     float64  `mapstructure:"DefaultLat"`
	DefaultLng     float64  `mapstructure:"DefaultLng"`
	HighAccuracy   bool     `mapstructure:"HighAccuracy"`
	LocateTimeout  Duration `mapstructure:"LocateTimeout"`
	PositionMaxAge Duration `mapstructure:"PositionMaxAge"`
	BusinessesPath string   `mapstructure:"BusinessesPath"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Worker WorkerConfig `mapstructure:"Worker"`
	Geo    GeoConfig    `mapstructure:"Geo"`
}

// DataCacheName 返回 worker 附属数据仓库名称（离线购物车快照）。
func (w WorkerConfig) DataCacheName() string {
	return w.CacheVersion + "-data"
}
