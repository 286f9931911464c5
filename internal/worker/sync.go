package worker

import (
	"context"

	"github.com/sirupsen/logrus"
)

// 后台同步标签。
const (
	SyncCart  = "cart-sync"
	SyncOrder = "order-sync"
)

// HandleSync 处理后台同步事件。两个已知标签目前只记录日志，同步的数据格式尚未确定。
func (w *Worker) HandleSync(ctx context.Context, tag string) (handled bool, err error) {
	defer w.guard("sync", &err)

	logger := w.logger.WithFields(logrus.Fields{
		"action":     "sync",
		"cache_name": w.opts.CacheName,
		"tag":        tag,
	})
	switch tag {
	case SyncCart:
		return true, w.syncCart(ctx, logger)
	case SyncOrder:
		return true, w.syncOrders(ctx, logger)
	default:
		logger.Debug("sync_tag_ignored")
		return false, nil
	}
}

func (w *Worker) syncCart(_ context.Context, logger *logrus.Entry) error {
	logger.Info("sync_cart")
	return nil
}

func (w *Worker) syncOrders(_ context.Context, logger *logrus.Entry) error {
	logger.Info("sync_orders")
	return nil
}
