package version

import "fmt"

// Version/Commit/CacheToken 可在构建时通过 -ldflags 注入，默认使用开发占位符。
// CacheToken 决定缓存仓库名称，每次发布都应变化，激活时旧仓库会被清理。
var (
	Version    = "0.1.0"
	Commit     = "dev"
	CacheToken = "v1"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("kuryecini-edge %s (%s, cache %s)", Version, Commit, CacheToken)
}

// CacheName 返回当前构建对应的主缓存仓库名称。
func CacheName() string {
	return "kuryecini-" + CacheToken
}
