package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var supportedStorageDrivers = map[string]struct{}{
	"fs":     {},
	"sqlite": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedStorageDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 fs|sqlite")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if err := validateUpstream(g.Upstream); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}

	if err := c.Worker.validate(); err != nil {
		return err
	}
	return c.Geo.validate()
}

func (w WorkerConfig) validate() error {
	if w.CacheVersion == "" {
		return newFieldError("Worker.CacheVersion", "不能为空")
	}
	if strings.ContainsAny(w.CacheVersion, `/\ `) || w.CacheVersion == "." || w.CacheVersion == ".." {
		return newFieldError("Worker.CacheVersion", "不能包含路径分隔符或空格")
	}
	if !strings.HasPrefix(w.OfflinePage, "/") {
		return newFieldError("Worker.OfflinePage", "必须以 / 开头")
	}
	for i, entry := range w.Precache {
		if !strings.HasPrefix(entry, "/") {
			return newFieldError(indexedField("Worker.Precache", i), "必须是以 / 开头的路径")
		}
	}
	for i, pattern := range w.APIPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return newFieldError(indexedField("Worker.APIPatterns", i), err.Error())
		}
	}
	return nil
}

func (g GeoConfig) validate() error {
	if g.DefaultLat < -90 || g.DefaultLat > 90 {
		return newFieldError("Geo.DefaultLat", "必须在 -90..90")
	}
	if g.DefaultLng < -180 || g.DefaultLng > 180 {
		return newFieldError("Geo.DefaultLng", "必须在 -180..180")
	}
	if g.LocateTimeout.DurationValue() <= 0 {
		return newFieldError("Geo.LocateTimeout", "必须大于 0")
	}
	if !strings.HasPrefix(g.BusinessesPath, "/") {
		return newFieldError("Geo.BusinessesPath", "必须以 / 开头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
