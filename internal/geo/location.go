package geo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// 默认坐标统一使用伊斯坦布尔市中心。
var DefaultLocation = Point{Lat: 41.0082, Lng: 28.9784}

const (
	advisoryDenied      = "Konum izni verilmedi. İşletmeler İstanbul merkezine göre sıralanıyor."
	advisoryUnavailable = "Konumunuz alınamadı. İşletmeler İstanbul merkezine göre sıralanıyor."
)

var (
	// ErrPermissionDenied 表示用户拒绝提供位置。
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrPositionUnavailable 表示位置暂时无法获取。
	ErrPositionUnavailable = errors.New("position unavailable")
)

// PositionOptions 对应浏览器 geolocation 的参数。
type PositionOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// DefaultPositionOptions 高精度、10 秒超时、5 分钟位置缓存。
func DefaultPositionOptions() PositionOptions {
	return PositionOptions{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
		MaximumAge:   5 * time.Minute,
	}
}

// PositionSource 提供某个客户端的当前位置。
type PositionSource interface {
	CurrentPosition(ctx context.Context, clientID string, opts PositionOptions) (Point, error)
}

// PositionSourceFunc adapts a function to the PositionSource interface.
type PositionSourceFunc func(ctx context.Context, clientID string, opts PositionOptions) (Point, error)

// CurrentPosition makes PositionSourceFunc satisfy PositionSource.
func (f PositionSourceFunc) CurrentPosition(ctx context.Context, clientID string, opts PositionOptions) (Point, error) {
	return f(ctx, clientID, opts)
}

// Fix 是一次定位结果。Fallback 为 true 时 Point 是默认坐标，Advisory 给用户展示原因。
type Fix struct {
	Point    Point  `json:"location"`
	Fallback bool   `json:"fallback"`
	Advisory string `json:"advisory,omitempty"`
	Cached   bool   `json:"cached"`
}

const maxCachedPositions = 4096

type cachedPosition struct {
	point Point
	at    time.Time
}

// Locator 获取用户位置；失败时退回默认坐标，从不向调用方返回错误。
type Locator struct {
	source   PositionSource
	opts     PositionOptions
	fallback Point
	logger   *logrus.Logger
	now      func() time.Time

	mu           sync.Mutex
	positions    map[string]cachedPosition
	maxPositions int
}

// LocatorOption 调整 Locator 行为。
type LocatorOption func(*Locator)

// WithOptions 覆盖定位参数。
func WithOptions(opts PositionOptions) LocatorOption {
	return func(l *Locator) { l.opts = opts }
}

// WithFallback 覆盖默认坐标。
func WithFallback(p Point) LocatorOption {
	return func(l *Locator) { l.fallback = p }
}

// WithClock 替换时钟，测试用。
func WithClock(now func() time.Time) LocatorOption {
	return func(l *Locator) { l.now = now }
}

// NewLocator 创建定位器。
func NewLocator(source PositionSource, logger *logrus.Logger, options ...LocatorOption) *Locator {
	l := &Locator{
		source:    source,
		opts:      DefaultPositionOptions(),
		fallback:  DefaultLocation,
		logger:    logger,
		now:       time.Now,
		positions: make(map[string]cachedPosition),

		maxPositions: maxCachedPositions,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// Locate 优先返回 MaximumAge 内缓存的位置，否则在 Timeout 内向 source 请求。
func (l *Locator) Locate(ctx context.Context, clientID string) Fix {
	if p, ok := l.cached(clientID); ok {
		return Fix{Point: p, Cached: true}
	}

	p, err := l.query(ctx, clientID)
	if err != nil {
		advisory := advisoryUnavailable
		if errors.Is(err, ErrPermissionDenied) {
			advisory = advisoryDenied
		}
		if l.logger != nil {
			l.logger.WithError(err).WithFields(logrus.Fields{
				"action": "locate",
				"client": clientID,
			}).Warn("location_fallback")
		}
		return Fix{Point: l.fallback, Fallback: true, Advisory: advisory}
	}

	l.store(clientID, p)
	return Fix{Point: p}
}

// Report 记录客户端主动上报的位置，后续 MaximumAge 内的 Locate 直接使用。
func (l *Locator) Report(clientID string, p Point) bool {
	if !validPoint(p) {
		return false
	}
	l.store(clientID, p)
	return true
}

func (l *Locator) query(ctx context.Context, clientID string) (Point, error) {
	if l.source == nil {
		return Point{}, ErrPositionUnavailable
	}
	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}

	type result struct {
		p   Point
		err error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := l.source.CurrentPosition(ctx, clientID, l.opts)
		ch <- result{p: p, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && !validPoint(r.p) {
			return Point{}, ErrPositionUnavailable
		}
		return r.p, r.err
	case <-ctx.Done():
		return Point{}, ctx.Err()
	}
}

func (l *Locator) cached(clientID string) (Point, bool) {
	if clientID == "" || l.opts.MaximumAge <= 0 {
		return Point{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.positions[clientID]
	if !ok {
		return Point{}, false
	}
	if l.now().Sub(entry.at) > l.opts.MaximumAge {
		delete(l.positions, clientID)
		return Point{}, false
	}
	return entry.point, true
}

func (l *Locator) store(clientID string, p Point) {
	if clientID == "" || l.opts.MaximumAge <= 0 {
		return
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.positions[clientID]; !exists && len(l.positions) >= l.maxPositions {
		l.evictLocked(now)
	}
	l.positions[clientID] = cachedPosition{point: p, at: now}
}

// evictLocked 先清理过期位置；仍然满额时淘汰最早写入的一条。
func (l *Locator) evictLocked(now time.Time) {
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, entry := range l.positions {
		if now.Sub(entry.at) > l.opts.MaximumAge {
			delete(l.positions, id)
			continue
		}
		if oldestID == "" || entry.at.Before(oldestAt) {
			oldestID, oldestAt = id, entry.at
		}
	}
	if len(l.positions) >= l.maxPositions && oldestID != "" {
		delete(l.positions, oldestID)
	}
}

func validPoint(p Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
