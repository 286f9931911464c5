package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/kuryecini/kuryecini-edge/internal/cache"
)

// 页面通过 postMessage 发送的消息类型。
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
	MessageCacheCart   = "CACHE_CART"
)

// CartPath 是离线购物车快照在数据仓库中的固定伪 URL。
const CartPath = "/offline/cart"

// Message 是页面发来的消息。
type Message struct {
	Type     string          `json:"type"`
	CartData json.RawMessage `json:"cartData,omitempty"`
}

// VersionReply 是 GET_VERSION 的回复。
type VersionReply struct {
	Version string `json:"version"`
}

// Port 对应 MessageChannel 的回复端口。
type Port interface {
	PostMessage(v interface{}) error
}

// PortFunc adapts a function to the Port interface.
type PortFunc func(v interface{}) error

// PostMessage makes PortFunc satisfy Port.
func (f PortFunc) PostMessage(v interface{}) error {
	return f(v)
}

var (
	// ErrNoCart 表示数据仓库中没有购物车快照。
	ErrNoCart = errors.New("no cached cart")
	// ErrInvalidCart 表示 cartData 不是合法 JSON。
	ErrInvalidCart = errors.New("cart data is not valid json")
)

// HandleMessage 处理页面消息，未知类型只记日志。
func (w *Worker) HandleMessage(ctx context.Context, msg Message, port Port) (err error) {
	defer w.guard("message", &err)

	logger := w.logger.WithFields(logrus.Fields{
		"action":     "message",
		"cache_name": w.opts.CacheName,
		"type":       msg.Type,
	})

	switch msg.Type {
	case MessageSkipWaiting:
		w.skipRequested.Store(true)
		if w.State() == StateWaiting && w.onSkipWaiting != nil {
			w.onSkipWaiting()
		}
		logger.Info("skip_waiting_requested")
		return nil
	case MessageGetVersion:
		if port == nil {
			logger.Warn("message_port_missing")
			return nil
		}
		return port.PostMessage(VersionReply{Version: w.opts.CacheName})
	case MessageCacheCart:
		return w.cacheCart(ctx, msg.CartData)
	default:
		logger.Debug("message_ignored")
		return nil
	}
}

func (w *Worker) cacheCart(ctx context.Context, data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	if !json.Valid(data) {
		return ErrInvalidCart
	}
	key, err := w.resolve(CartPath)
	if err != nil {
		return err
	}
	locator := cache.Locator{Store: w.opts.DataCacheName, Key: key}
	_, err = w.store.Put(ctx, locator, bytes.NewReader(data), cache.PutOptions{
		Status: 200,
		Header: map[string][]string{"Content-Type": {"application/json"}},
	})
	if err != nil {
		return fmt.Errorf("store cart: %w", err)
	}
	w.logger.WithFields(logrus.Fields{
		"action":     "message",
		"cache_name": w.opts.DataCacheName,
		"bytes":      len(data),
	}).Info("cart_cached")
	return nil
}

// CachedCart 读取最近一次 CACHE_CART 存下的快照。
func (w *Worker) CachedCart(ctx context.Context) (json.RawMessage, error) {
	key, err := w.resolve(CartPath)
	if err != nil {
		return nil, err
	}
	result, err := w.store.Get(ctx, cache.Locator{Store: w.opts.DataCacheName, Key: key})
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrNoCart
		}
		return nil, err
	}
	defer result.Reader.Close()
	raw, err := io.ReadAll(result.Reader)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}
