package routes

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/kuryecini/kuryecini-edge/internal/geo"
	"github.com/kuryecini/kuryecini-edge/internal/proxy"
)

// GeoDeps 汇总 /-/businesses 依赖的组件。商家列表经由 worker 拉取，离线时同样命中缓存。
type GeoDeps struct {
	Dispatcher     proxy.Dispatcher
	Origin         *url.URL
	BusinessesPath string
	Locator        *geo.Locator
	Logger         *logrus.Logger
}

type positionKey struct{}

// QueryPositionSource 从请求查询参数读取页面上报的坐标；缺失即视为用户未授权定位。
func QueryPositionSource() geo.PositionSource {
	return geo.PositionSourceFunc(func(ctx context.Context, _ string, _ geo.PositionOptions) (geo.Point, error) {
		if p, ok := ctx.Value(positionKey{}).(geo.Point); ok {
			return p, nil
		}
		return geo.Point{}, geo.ErrPermissionDenied
	})
}

type businessesPayload struct {
	Businesses []geo.Business `json:"businesses"`
	Sort       geo.Mode       `json:"sort"`
	Location   *geo.Point     `json:"location"`
	Fallback   bool           `json:"fallback"`
	Advisory   string         `json:"advisory,omitempty"`
}

// RegisterGeoRoutes 暴露按距离或评分排序的商家列表。
func RegisterGeoRoutes(app *fiber.App, deps GeoDeps) {
	if app == nil || deps.Dispatcher == nil || deps.Origin == nil {
		return
	}
	if deps.Locator == nil {
		deps.Locator = geo.NewLocator(QueryPositionSource(), deps.Logger)
	}
	listPath := deps.BusinessesPath
	if listPath == "" {
		listPath = "/api/businesses"
	}

	app.Get("/-/businesses", func(c fiber.Ctx) error {
		mode, err := geo.ParseMode(c.Query("sort"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_sort"})
		}
		reported, err := parsePosition(c.Query("lat"), c.Query("lng"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_location"})
		}

		ctx := c.Context()
		target := deps.Origin.ResolveReference(&url.URL{Path: listPath})
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "invalid_request"})
		}
		req.Header.Set("Accept", "application/json")

		resp, err := deps.Dispatcher.Fetch(ctx, req)
		if err != nil {
			if deps.Logger != nil {
				deps.Logger.WithError(err).WithFields(logrus.Fields{
					"action":   "businesses",
					"upstream": target.String(),
				}).Warn("businesses_fetch_failed")
			}
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
		}
		c.Set(proxy.CacheHeader, string(resp.Source))
		if !resp.OK() {
			if ct := resp.Header.Get("Content-Type"); ct != "" {
				c.Set(fiber.HeaderContentType, ct)
			}
			return c.Status(resp.Status).Send(resp.Body)
		}

		list, err := geo.DecodeList(resp.Body)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "invalid_payload"})
		}

		payload := businessesPayload{Sort: mode}
		view := geo.NewView(list, geo.ModeCitywide)
		if mode == geo.ModeNearest {
			id := clientID(c)
			if reported != nil {
				deps.Locator.Report(id, *reported)
				ctx = context.WithValue(ctx, positionKey{}, *reported)
			}
			fix := deps.Locator.Locate(ctx, id)
			payload.Location = &fix.Point
			payload.Fallback = fix.Fallback
			payload.Advisory = fix.Advisory
			if err := view.SetLocation(fix.Point); err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sort_failed"})
			}
			if err := view.SetMode(geo.ModeNearest); err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sort_failed"})
			}
		}
		sorted, err := view.Sorted()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sort_failed"})
		}
		payload.Businesses = sorted
		return c.JSON(payload)
	})
}

func parsePosition(rawLat, rawLng string) (*geo.Point, error) {
	rawLat, rawLng = strings.TrimSpace(rawLat), strings.TrimSpace(rawLng)
	if rawLat == "" && rawLng == "" {
		return nil, nil
	}
	if rawLat == "" || rawLng == "" {
		return nil, errors.New("lat and lng must be provided together")
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return nil, err
	}
	lng, err := strconv.ParseFloat(rawLng, 64)
	if err != nil {
		return nil, err
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, errors.New("coordinates out of range")
	}
	return &geo.Point{Lat: lat, Lng: lng}, nil
}

// clientID 优先使用页面上报的 X-Client-ID，否则按来源 IP 区分位置缓存。
func clientID(c fiber.Ctx) string {
	if id := strings.TrimSpace(c.Get("X-Client-ID")); id != "" {
		return id
	}
	return c.IP()
}
