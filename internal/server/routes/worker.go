package routes

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/kuryecini/kuryecini-edge/internal/cache"
	"github.com/kuryecini/kuryecini-edge/internal/worker"
)

// WorkerDeps 汇总 /-/worker 诊断接口依赖的组件。
type WorkerDeps struct {
	Registration *worker.Registration
	Inbox        *worker.Inbox
	Store        cache.Store
	Logger       *logrus.Logger
}

// RegisterWorkerRoutes 暴露 worker 的消息、推送、同步与状态接口，页面通过这些接口与 worker 通信。
func RegisterWorkerRoutes(app *fiber.App, deps WorkerDeps) {
	if app == nil || deps.Registration == nil {
		return
	}
	reg := deps.Registration

	app.Post("/-/worker/message", func(c fiber.Ctx) error {
		var msg worker.Message
		if err := json.Unmarshal(c.Body(), &msg); err != nil || strings.TrimSpace(msg.Type) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_message"})
		}

		var reply interface{}
		port := worker.PortFunc(func(v interface{}) error {
			reply = v
			return nil
		})
		if err := reg.PostMessage(c.Context(), msg, port); err != nil {
			return workerError(c, deps.Logger, "message", err)
		}
		if reply != nil {
			return c.JSON(reply)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
	})

	app.Get("/-/worker/status", func(c fiber.Ctx) error {
		payload := fiber.Map{"registration": reg.Status()}
		if deps.Store != nil {
			names, err := deps.Store.Stores(c.Context())
			if err != nil {
				return workerError(c, deps.Logger, "status", err)
			}
			payload["stores"] = names
		}
		return c.JSON(payload)
	})

	app.Get("/-/worker/cart", func(c fiber.Ctx) error {
		active := reg.Active()
		if active == nil {
			return workerError(c, deps.Logger, "cart", worker.ErrNoWorker)
		}
		cart, err := active.CachedCart(c.Context())
		if err != nil {
			return workerError(c, deps.Logger, "cart", err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(cart)
	})

	app.Post("/-/worker/push", func(c fiber.Ctx) error {
		n, err := reg.Push(c.Context(), append([]byte(nil), c.Body()...))
		if err != nil {
			return workerError(c, deps.Logger, "push", err)
		}
		return c.JSON(n)
	})

	app.Post("/-/worker/notificationclick", func(c fiber.Ctx) error {
		var body struct {
			Action string `json:"action"`
		}
		if raw := c.Body(); len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_click"})
			}
		}
		res, err := reg.NotificationClick(c.Context(), body.Action)
		if err != nil {
			return workerError(c, deps.Logger, "notificationclick", err)
		}
		return c.JSON(res)
	})

	app.Post("/-/worker/sync/:tag", func(c fiber.Ctx) error {
		tag := strings.TrimSpace(c.Params("tag"))
		handled, err := reg.Sync(c.Context(), tag)
		if err != nil {
			return workerError(c, deps.Logger, "sync", err)
		}
		return c.JSON(fiber.Map{"tag": tag, "handled": handled})
	})

	app.Get("/-/notifications", func(c fiber.Ctx) error {
		if deps.Inbox == nil {
			return c.JSON(fiber.Map{"notifications": []worker.Notification{}})
		}
		return c.JSON(fiber.Map{"notifications": deps.Inbox.Recent()})
	})
}

func workerError(c fiber.Ctx, logger *logrus.Logger, action string, err error) error {
	status := fiber.StatusInternalServerError
	code := "worker_failed"
	switch {
	case errors.Is(err, worker.ErrNoWorker):
		status, code = fiber.StatusServiceUnavailable, "no_worker"
	case errors.Is(err, worker.ErrNoCart):
		status, code = fiber.StatusNotFound, "cart_not_found"
	case errors.Is(err, worker.ErrInvalidCart):
		status, code = fiber.StatusBadRequest, "invalid_cart"
	}
	if logger != nil && status == fiber.StatusInternalServerError {
		logger.WithError(err).WithField("action", action).Error("worker_route_failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}
