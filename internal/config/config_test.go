package config

import (
	"errors"
	"testing"
	"time"

	"github.com/kuryecini/kuryecini-edge/internal/version"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(fixture("valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.StorageDriver != "fs" {
		t.Fatalf("StorageDriver 默认应为 fs，得到 %s", cfg.Global.StorageDriver)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Worker.CacheVersion != "kuryecini-v1" {
		t.Fatalf("CacheVersion 解析错误: %s", cfg.Worker.CacheVersion)
	}
	if cfg.Worker.DataCacheName() != "kuryecini-v1-data" {
		t.Fatalf("DataCacheName 错误: %s", cfg.Worker.DataCacheName())
	}
	if len(cfg.Worker.APIPatterns) != len(DefaultAPIPatterns) {
		t.Fatalf("APIPatterns 应填充默认值")
	}
	if cfg.Worker.OfflinePage != "/offline.html" {
		t.Fatalf("OfflinePage 默认值错误: %s", cfg.Worker.OfflinePage)
	}
	if cfg.Geo.DefaultLat != DefaultLat || cfg.Geo.DefaultLng != DefaultLng {
		t.Fatalf("默认坐标应为伊斯坦布尔: %v,%v", cfg.Geo.DefaultLat, cfg.Geo.DefaultLng)
	}
	if cfg.Geo.PositionMaxAge.DurationValue() != 5*time.Minute {
		t.Fatalf("PositionMaxAge 纯秒值解析错误: %s", cfg.Geo.PositionMaxAge.DurationValue())
	}
	if !cfg.Geo.HighAccuracy {
		t.Fatalf("HighAccuracy 默认应开启")
	}
}

func TestLoadNormalizesDriverAndUpstream(t *testing.T) {
	cfg, err := Load(fixture("sqlite.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StorageDriver != "sqlite" {
		t.Fatalf("StorageDriver 应小写化，得到 %s", cfg.Global.StorageDriver)
	}
	if cfg.Global.Upstream != "https://api.kuryecini.com" {
		t.Fatalf("Upstream 应去掉末尾斜杠，得到 %s", cfg.Global.Upstream)
	}
	if cfg.Worker.CacheVersion != version.CacheName() {
		t.Fatalf("未配置 CacheVersion 时应使用构建期名称，得到 %s", cfg.Worker.CacheVersion)
	}
	if cfg.Geo.DefaultLat != 39.9334 {
		t.Fatalf("显式默认坐标应被保留")
	}
}

func TestValidateRejectsMissingUpstream(t *testing.T) {
	if _, err := Load(fixture("missing.toml")); err == nil {
		t.Fatalf("缺少 Upstream 的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateReportsFieldErrors(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"driver", func(c *Config) { c.Global.StorageDriver = "redis" }, "Global.StorageDriver"},
		{"cache version", func(c *Config) { c.Worker.CacheVersion = "a/b" }, "Worker.CacheVersion"},
		{"offline page", func(c *Config) { c.Worker.OfflinePage = "offline.html" }, "Worker.OfflinePage"},
		{"precache", func(c *Config) { c.Worker.Precache = []string{"/", "icons/x.png"} }, "Worker.Precache[1]"},
		{"api pattern", func(c *Config) { c.Worker.APIPatterns = []string{"("} }, "Worker.APIPatterns[0]"},
		{"latitude", func(c *Config) { c.Geo.DefaultLat = 91 }, "Geo.DefaultLat"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			var fieldErr FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fieldErr.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, fieldErr.Field)
			}
		})
	}
}

func TestValidateRejectsNonHTTPUpstream(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Upstream = "ftp://backend.local"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非 http/https 上游应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StoragePath:     "./data",
			StorageDriver:   "fs",
			Upstream:        "http://localhost:8001",
			UpstreamTimeout: Duration(time.Second),
		},
		Worker: WorkerConfig{
			CacheVersion: "kuryecini-v1",
			OfflinePage:  "/offline.html",
			Precache:     []string{"/"},
			APIPatterns:  DefaultAPIPatterns,
		},
		Geo: GeoConfig{
			DefaultLat:     DefaultLat,
			DefaultLng:     DefaultLng,
			LocateTimeout:  Duration(10 * time.Second),
			BusinessesPath: "/api/businesses",
		},
	}
}
