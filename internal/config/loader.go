package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adrg/xdg"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/kuryecini/kuryecini-edge/internal/version"
)

// 默认定位：伊斯坦布尔市中心，所有页面共用这一个默认值。
const (
	DefaultLat = 41.0082
	DefaultLng = 28.9784
)

// DefaultPrecache 是 app shell 的预缓存清单。
var DefaultPrecache = []string{
	"/",
	"/offline.html",
	"/manifest.json",
	"/icons/icon-192x192.png",
	"/icons/icon-512x512.png",
}

// DefaultAPIPatterns 匹配未带 /api/ 前缀的业务接口与健康检查。
var DefaultAPIPatterns = []string{
	`^/businesses(/|$)`,
	`^/products(/|$)`,
	`^/(health|healthz)$`,
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch 监听配置文件变化，每次变更后重新解析并回调 onChange；解析失败时回调 onError。
// 返回的 stop 函数用于停止回调（viper 本身不支持取消 watcher）。
func Watch(path string, onChange func(*Config), onError func(error)) (func(), error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	var stopped atomic.Bool
	v.OnConfigChange(func(event fsnotify.Event) {
		if stopped.Load() || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return func() { stopped.Store(true) }, nil
}

func newViper(path string) (*viper.Viper, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyWorkerDefaults(&cfg.Worker)
	applyGeoDefaults(&cfg.Geo)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageDriver", "fs")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("Worker.OfflinePage", "/offline.html")
	v.SetDefault("Worker.NotificationInbox", 50)
	v.SetDefault("Geo.HighAccuracy", true)
	v.SetDefault("Geo.LocateTimeout", "10s")
	v.SetDefault("Geo.PositionMaxAge", "5m")
	v.SetDefault("Geo.BusinessesPath", "/api/businesses")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		g.StoragePath = filepath.Join(xdg.CacheHome, "kuryecini-edge")
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = "fs"
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.Upstream = strings.TrimRight(strings.TrimSpace(g.Upstream), "/")
}

func applyWorkerDefaults(w *WorkerConfig) {
	w.CacheVersion = strings.TrimSpace(w.CacheVersion)
	if w.CacheVersion == "" {
		w.CacheVersion = version.CacheName()
	}
	if strings.TrimSpace(w.OfflinePage) == "" {
		w.OfflinePage = "/offline.html"
	}
	if len(w.Precache) == 0 {
		w.Precache = append([]string(nil), DefaultPrecache...)
	}
	if len(w.APIPatterns) == 0 {
		w.APIPatterns = append([]string(nil), DefaultAPIPatterns...)
	}
	if w.NotificationInbox <= 0 {
		w.NotificationInbox = 50
	}
}

func applyGeoDefaults(g *GeoConfig) {
	if g.DefaultLat == 0 && g.DefaultLng == 0 {
		g.DefaultLat = DefaultLat
		g.DefaultLng = DefaultLng
	}
	if g.LocateTimeout.DurationValue() <= 0 {
		g.LocateTimeout = Duration(10 * time.Second)
	}
	if g.PositionMaxAge.DurationValue() < 0 {
		g.PositionMaxAge = Duration(5 * time.Minute)
	}
	if strings.TrimSpace(g.BusinessesPath) == "" {
		g.BusinessesPath = "/api/businesses"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
