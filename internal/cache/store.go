package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Store 负责管理命名缓存仓库的读写。所有条目以完整请求 URL 精确定位，
// 不做前缀或范围匹配；同一 URL 的并发写入以最后一次为准。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将响应写入缓存，并产出新的 Entry 描述。实现需保证写入原子性，
	// 失败时不能留下半截条目。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除单个条目，不存在时不报错。
	Remove(ctx context.Context, locator Locator) error

	// Stores 列出当前存在的仓库名称，按名称排序。
	Stores(ctx context.Context) ([]string, error)

	// DropStore 删除整个仓库，返回该仓库此前是否存在。
	DropStore(ctx context.Context, name string) (bool, error)

	// Close 释放底层资源。
	Close() error
}

// PutOptions 控制写入过程中附带的响应属性。
type PutOptions struct {
	Status  int
	Header  http.Header
	ModTime time.Time
}

// Locator 唯一定位一个缓存条目（仓库名 + 完整请求 URL）。
type Locator struct {
	Store string
	Key   string
}

// Entry 表示一次缓存命中结果。
type Entry struct {
	Locator   Locator     `json:"locator"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	SizeBytes int64       `json:"size_bytes"`
	ModTime   time.Time   `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于上层直接读取正文。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// Driver 名称，对应配置中的 StorageDriver。
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
)

// Open 根据 driver 打开对应的后端，basePath 为目录（fs）或数据库所在目录（sqlite）。
func Open(driver, basePath string) (Store, error) {
	switch driver {
	case "", DriverFS:
		return NewStore(basePath)
	case DriverSQLite:
		return NewSQLiteStore(basePath)
	default:
		return nil, errors.New("unsupported storage driver: " + driver)
	}
}
