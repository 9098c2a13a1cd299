package proxy

import (
	"context"
	"errors"
	"net/http"
	"path"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/server"
	"github.com/offline-hub/offline-hub/internal/strategy"
)

// Outcome 是一次拦截处理的完整结果，附带所用策略与版本。
type Outcome struct {
	Result
	Strategy strategy.Kind
	Version  string
}

// Dispatcher 把请求交给当前生效的 worker 代处理。
type Dispatcher interface {
	Fetch(ctx context.Context, req *strategy.Request) (Outcome, error)
}

// Handler 把 Fiber 请求转换为 strategy.Request，交给 Dispatcher 后回写响应。
type Handler struct {
	dispatcher Dispatcher
	logger     *logrus.Logger
}

// NewHandler constructs a fetch handler bound to the dispatcher.
func NewHandler(dispatcher Dispatcher, logger *logrus.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, logger: logger}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	req := buildRequest(c, route)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	outcome, err := h.dispatcher.Fetch(ctx, req)
	if err != nil {
		return h.writeFailure(c, route, req, outcome, requestID, started, err)
	}

	h.writeResponse(c, outcome, requestID)
	h.logResult(req, outcome, requestID, outcome.Response.Status, started, nil)
	return nil
}

func (h *Handler) writeFailure(
	c fiber.Ctx,
	route *server.OriginRoute,
	req *strategy.Request,
	outcome Outcome,
	requestID string,
	started time.Time,
	err error,
) error {
	switch {
	case errors.Is(err, ErrIgnored):
		return server.RenderHostUnmapped(c, h.logger, route.Host, route.ListenPort)
	case errors.Is(err, ErrNoResponse):
		h.logResult(req, outcome, requestID, fiber.StatusGatewayTimeout, started, err)
		return writeError(c, fiber.StatusGatewayTimeout, "offline_no_cache")
	default:
		h.logResult(req, outcome, requestID, fiber.StatusBadGateway, started, err)
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
}

func (h *Handler) writeResponse(c fiber.Ctx, outcome Outcome, requestID string) {
	resp := outcome.Response
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Offline-Hub-Source", string(outcome.Source))
	c.Set("X-Offline-Hub-Strategy", string(outcome.Strategy))
	if outcome.Version != "" {
		c.Set("X-Offline-Hub-Version", outcome.Version)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)
	if c.Method() == http.MethodHead {
		return
	}
	c.Response().SetBody(resp.Body)
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(req *strategy.Request, outcome Outcome, requestID string, status int, started time.Time, err error) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(
		req.Method,
		requestURL(req),
		string(outcome.Strategy),
		string(outcome.Source),
		outcome.Version,
		req.CrossOrigin,
	)
	fields["action"] = "fetch"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if outcome.Partition != "" {
		fields["partition"] = outcome.Partition
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("fetch_failed")
		return
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}

// buildRequest 根据路由把 Fiber 请求转换为绝对 URL 的请求模型。
func buildRequest(c fiber.Ctx, route *server.OriginRoute) *strategy.Request {
	method := c.Method()
	header := fiberHeadersAsHTTP(c)
	uri := c.Request().URI()
	clean := normalizeRequestPath(string(uri.Path()))
	target := route.RequestURL(clean, string(uri.QueryString()), c.Scheme())

	return &strategy.Request{
		Method:      method,
		URL:         target,
		Mode:        strategy.InferMode(method, header),
		Destination: strategy.InferDestination(header, clean),
		CrossOrigin: route.CrossOrigin,
		Header:      header,
		Body:        append([]byte(nil), c.Body()...),
	}
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	clean := path.Clean("/" + raw)
	if clean != "/" && raw[len(raw)-1] == '/' {
		clean += "/"
	}
	return clean
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
