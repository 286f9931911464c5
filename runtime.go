package main

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/kuryecini/kuryecini-edge/internal/cache"
	"github.com/kuryecini/kuryecini-edge/internal/config"
	"github.com/kuryecini/kuryecini-edge/internal/geo"
	"github.com/kuryecini/kuryecini-edge/internal/logging"
	"github.com/kuryecini/kuryecini-edge/internal/proxy"
	"github.com/kuryecini/kuryecini-edge/internal/server"
	"github.com/kuryecini/kuryecini-edge/internal/server/routes"
	"github.com/kuryecini/kuryecini-edge/internal/worker"
)

// edgeRuntime 持有进程级共享组件：缓存存储、上游 client、worker 注册表与 Fiber app。
type edgeRuntime struct {
	logger       *logrus.Logger
	store        cache.Store
	network      worker.Fetcher
	origin       *url.URL
	registration *worker.Registration
	inbox        *worker.Inbox
	app          *fiber.App

	mu      sync.Mutex
	version string
}

func newRuntime(cfg *config.Config, logger *logrus.Logger) (*edgeRuntime, error) {
	origin, err := url.Parse(cfg.Global.Upstream)
	if err != nil {
		return nil, fmt.Errorf("解析上游地址失败: %w", err)
	}

	store, err := cache.Open(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	client := server.NewUpstreamClient(cfg)
	registration := worker.NewRegistration(client, logger)
	inbox := worker.NewInbox(cfg.Worker.NotificationInbox)

	handler, err := proxy.NewHandler(registration, origin, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewForwarder(handler, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	routes.RegisterWorkerRoutes(app, routes.WorkerDeps{
		Registration: registration,
		Inbox:        inbox,
		Store:        store,
		Logger:       logger,
	})
	routes.RegisterGeoRoutes(app, routes.GeoDeps{
		Dispatcher:     registration,
		Origin:         origin,
		BusinessesPath: cfg.Geo.BusinessesPath,
		Locator:        newLocator(cfg.Geo, logger),
		Logger:         logger,
	})

	return &edgeRuntime{
		logger:       logger,
		store:        store,
		network:      client,
		origin:       origin,
		registration: registration,
		inbox:        inbox,
		app:          app,
	}, nil
}

func newLocator(cfg config.GeoConfig, logger *logrus.Logger) *geo.Locator {
	return geo.NewLocator(routes.QueryPositionSource(), logger,
		geo.WithOptions(geo.PositionOptions{
			HighAccuracy: cfg.HighAccuracy,
			Timeout:      cfg.LocateTimeout.DurationValue(),
			MaximumAge:   cfg.PositionMaxAge.DurationValue(),
		}),
		geo.WithFallback(geo.Point{Lat: cfg.DefaultLat, Lng: cfg.DefaultLng}),
	)
}

// installVersion 按配置构建并安装一个 worker 版本；与当前版本同名时跳过。
func (rt *edgeRuntime) installVersion(ctx context.Context, cfg *config.Config) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	name := cfg.Worker.CacheVersion
	if name == rt.version {
		return nil
	}

	w, err := worker.New(worker.Options{
		CacheName:     name,
		DataCacheName: cfg.Worker.DataCacheName(),
		Origin:        rt.origin,
		Precache:      cfg.Worker.Precache,
		OfflinePage:   cfg.Worker.OfflinePage,
		APIPatterns:   cfg.Worker.APIPatterns,
		Store:         rt.store,
		Network:       rt.network,
		Logger:        rt.logger,
		Notifier:      rt.inbox,
	})
	if err != nil {
		rt.logger.WithError(err).WithField("cache_name", name).Error("worker_build_failed")
		return err
	}
	if err := rt.registration.Install(ctx, w); err != nil {
		return err
	}
	rt.version = name
	return nil
}

// reload 处理配置热加载：日志级别立即生效，Worker.CacheVersion 变化时安装新版本。
func (rt *edgeRuntime) reload(cfg *config.Config) {
	rt.logger.WithFields(logrus.Fields{
		"action":     "reload",
		"cache_name": cfg.Worker.CacheVersion,
	}).Info("config_reloaded")
	if err := logging.ApplyLevel(rt.logger, cfg.Global); err != nil {
		rt.logger.WithError(err).WithField("action", "reload").Warn("log_level_unchanged")
	}
	_ = rt.installVersion(context.Background(), cfg)
}

func (rt *edgeRuntime) Close() error {
	if rt.app != nil {
		_ = rt.app.Shutdown()
	}
	return rt.store.Close()
}
