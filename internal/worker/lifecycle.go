package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/kuryecini/kuryecini-edge/internal/cache"
)

// State 描述 worker 版本的生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// ErrInstallFailed 表示预缓存清单中至少一项拉取失败，安装被中止。
var ErrInstallFailed = errors.New("worker install failed")

type precached struct {
	key  string
	resp *Response
}

// Install 预缓存 app shell 清单。任何一项失败都会中止安装且不写入任何条目。
func (w *Worker) Install(ctx context.Context) (err error) {
	defer w.guard("install", &err)

	w.setState(StateInstalling)
	fetched := make([]precached, 0, len(w.opts.Precache))
	for _, p := range w.opts.Precache {
		key, err := w.resolve(p)
		if err != nil {
			w.setState(StateRedundant)
			return fmt.Errorf("%w: %s: %v", ErrInstallFailed, p, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, http.NoBody)
		if err != nil {
			w.setState(StateRedundant)
			return fmt.Errorf("%w: %s: %v", ErrInstallFailed, p, err)
		}
		resp, err := w.fetchNetwork(ctx, req)
		if err != nil {
			w.setState(StateRedundant)
			return fmt.Errorf("%w: %s: %v", ErrInstallFailed, p, err)
		}
		if !resp.OK() {
			w.setState(StateRedundant)
			return fmt.Errorf("%w: %s: status %d", ErrInstallFailed, p, resp.Status)
		}
		fetched = append(fetched, precached{key: key, resp: resp})
	}

	written := make([]cache.Locator, 0, len(fetched))
	for _, item := range fetched {
		locator := cache.Locator{Store: w.opts.CacheName, Key: item.key}
		if _, err := w.store.Put(ctx, locator, bytes.NewReader(item.resp.Body), cache.PutOptions{
			Status: item.resp.Status,
			Header: sharedHeader(item.resp.Header),
		}); err != nil {
			w.rollback(ctx, written)
			w.setState(StateRedundant)
			return fmt.Errorf("%w: store %s: %v", ErrInstallFailed, item.key, err)
		}
		written = append(written, locator)
	}

	w.logger.WithFields(logrus.Fields{
		"action":     "install",
		"cache_name": w.opts.CacheName,
		"precached":  len(fetched),
	}).Info("worker_installed")
	return nil
}

// rollback 撤销本次安装已写入的条目，尽力而为。
func (w *Worker) rollback(ctx context.Context, written []cache.Locator) {
	for _, locator := range written {
		if err := w.store.Remove(ctx, locator); err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "install",
				"cache_name": locator.Store,
				"url":        locator.Key,
			}).Warn("install_rollback_failed")
		}
	}
}

// Activate 删除所有不属于当前版本的缓存仓库，旧版本的 -data 附属仓库一并删除。
// 当前版本自己的 -data 仓库保留，进程以同一版本重启时离线购物车不会丢失。
func (w *Worker) Activate(ctx context.Context) (err error) {
	defer w.guard("activate", &err)

	w.setState(StateActivating)
	names, err := w.store.Stores(ctx)
	if err != nil {
		return fmt.Errorf("list cache stores: %w", err)
	}

	deleted := make([]string, 0, len(names))
	for _, name := range names {
		if name == w.opts.CacheName || name == w.opts.DataCacheName {
			continue
		}
		if _, err := w.store.DropStore(ctx, name); err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "activate",
				"cache_name": name,
			}).Warn("cache_prune_failed")
			continue
		}
		deleted = append(deleted, name)
	}

	w.setState(StateActivated)
	w.logger.WithFields(logrus.Fields{
		"action":     "activate",
		"cache_name": w.opts.CacheName,
		"pruned":     deleted,
	}).Info("worker_activated")
	return nil
}
