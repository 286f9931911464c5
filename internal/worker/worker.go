package worker

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kuryecini/kuryecini-edge/internal/cache"
)

// Fetcher 抽象“网络”，*http.Client 直接满足该接口，测试中可替换为离线桩。
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(req *http.Request) (*http.Response, error)

// Do makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Options 是每个 worker 实例化时创建一次的配置对象，缓存仓库名在构建期确定。
type Options struct {
	CacheName     string
	DataCacheName string
	// Origin 是上游根地址，预缓存清单与离线页都基于它解析成完整 URL。
	Origin      *url.URL
	Precache    []string
	OfflinePage string
	APIPatterns []string

	Store    cache.Store
	Network  Fetcher
	Logger   *logrus.Logger
	Notifier Notifier
}

// Worker 是一个缓存版本的运行实例。
type Worker struct {
	opts        Options
	store       cache.Store
	network     Fetcher
	logger      *logrus.Logger
	notifier    Notifier
	apiPatterns []*regexp.Regexp
	rules       []rule

	stateMu sync.RWMutex
	state   State

	clients       atomic.Int64
	skipRequested atomic.Bool
	onSkipWaiting func()
}

// ErrNoWorker 表示当前没有可处理事件的 worker 版本。
var ErrNoWorker = errors.New("no worker version available")

// New 校验依赖并构建 Worker，分类规则在此编译一次。
func New(opts Options) (*Worker, error) {
	if opts.CacheName == "" {
		return nil, errors.New("cache name is required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Network == nil {
		return nil, errors.New("network fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Origin == nil {
		return nil, errors.New("origin is required")
	}
	if opts.DataCacheName == "" {
		opts.DataCacheName = opts.CacheName + "-data"
	}
	if opts.OfflinePage == "" {
		opts.OfflinePage = "/offline.html"
	}

	patterns := make([]*regexp.Regexp, 0, len(opts.APIPatterns))
	for _, raw := range opts.APIPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid api pattern %q: %w", raw, err)
		}
		patterns = append(patterns, re)
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewInbox(0)
	}

	w := &Worker{
		opts:        opts,
		store:       opts.Store,
		network:     opts.Network,
		logger:      opts.Logger,
		notifier:    notifier,
		apiPatterns: patterns,
		state:       StateParsed,
	}
	w.rules = w.defaultRules()
	return w, nil
}

// CacheName 返回该版本的主缓存仓库名称。
func (w *Worker) CacheName() string {
	return w.opts.CacheName
}

// DataCacheName 返回附属数据仓库名称。
func (w *Worker) DataCacheName() string {
	return w.opts.DataCacheName
}

// State 返回当前生命周期状态。
func (w *Worker) State() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

// Clients 返回当前持有该版本租约的请求数。
func (w *Worker) Clients() int64 {
	return w.clients.Load()
}

func (w *Worker) setState(s State) {
	w.stateMu.Lock()
	prev := w.state
	w.state = s
	w.stateMu.Unlock()
	if prev != s {
		w.logger.WithFields(logrus.Fields{
			"action":     "worker_state",
			"cache_name": w.opts.CacheName,
			"from":       string(prev),
			"to":         string(s),
		}).Debug("worker_state_changed")
	}
}

func (w *Worker) resolve(p string) (string, error) {
	ref, err := url.Parse(p)
	if err != nil {
		return "", err
	}
	return w.opts.Origin.ResolveReference(ref).String(), nil
}

// guard 捕获 handler 中的 panic 并记录日志，转换为 error 返回给调用方。
func (w *Worker) guard(event string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	w.logger.WithFields(logrus.Fields{
		"action":     event,
		"cache_name": w.opts.CacheName,
		"panic":      fmt.Sprint(r),
	}).Error("worker_handler_panic")
	if err != nil {
		*err = fmt.Errorf("%s handler panic: %v", event, r)
	}
}
