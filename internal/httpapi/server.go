package httpapi

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-coach/internal/msgcat"
	svcchess "github.com/park285/cheese-coach/internal/service/chess"
	"github.com/park285/cheese-coach/pkg/chessdto"
)

const (
	HeaderUserID    = "X-User-Id"
	DefaultPlayerID = "guest"

	defaultMaxBodyBytes = 6 << 20
)

type Options struct {
	Messages     *msgcat.Catalog
	Logger       *zap.Logger
	MaxBodyBytes int
	// RequestTimeout bounds each handler; analysis and bot search also carry
	// their own budgets.
	RequestTimeout time.Duration
}

type Server struct {
	svc     *svcchess.Service
	msgs    *msgcat.Catalog
	logger  *zap.Logger
	timeout time.Duration
	router  *router.Router
	srv     *fasthttp.Server
}

func New(svc *svcchess.Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	msgs := opts.Messages
	if msgs == nil {
		msgs = msgcat.MustDefault()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 35 * time.Second
	}
	s := &Server{svc: svc, msgs: msgs, logger: logger, timeout: timeout}
	s.router = s.routes()
	s.srv = &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "cheese-coach",
		MaxRequestBodySize: maxBody,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       timeout + 5*time.Second,
	}
	return s
}

// Handler is the full middleware chain around the router.
func (s *Server) Handler() fasthttp.RequestHandler {
	return withRequestID(withAccessLog(s.logger, s.router.Handler))
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("http api listening", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) routes() *router.Router {
	r := router.New()
	r.NotFound = s.notFound
	r.MethodNotAllowed = s.methodNotAllowed

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	api := r.Group("/api")
	api.POST("/analysis/position", s.analyzePosition)
	api.POST("/analysis/image", s.analyzeImage)
	api.POST("/game/create", s.createGame)
	api.POST("/game/move", s.playMove)
	api.GET("/game/history", s.history)
	api.GET("/game/{id}", s.game)
	api.POST("/game/{id}/resign", s.resign)
	api.GET("/stats", s.stats)
	return r
}

// methodNotAllowed runs after the router has set the Allow header.
func (s *Server) methodNotAllowed(ctx *fasthttp.RequestCtx) {
	msg := s.msgs.Text("errors.method_not_allowed", map[string]string{"Method": string(ctx.Method()), "Path": string(ctx.Path())}, "method not allowed")
	writeJSON(ctx, fasthttp.StatusMethodNotAllowed, chessdto.NewErrorResponse(chessdto.DomainError{Code: chessdto.CodeInvalidInput, Message: msg}))
}

func (s *Server) notFound(ctx *fasthttp.RequestCtx) {
	msg := s.msgs.Text("errors.route_not_found", map[string]string{"Path": string(ctx.Path())}, "not found")
	writeJSON(ctx, fasthttp.StatusNotFound, chessdto.NewErrorResponse(chessdto.DomainError{Code: chessdto.CodeNotFound, Message: msg}))
}

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

// playerID reads X-User-Id; anonymous callers share the guest identity.
func playerID(ctx *fasthttp.RequestCtx) string {
	if v := strings.TrimSpace(string(ctx.Request.Header.Peek(HeaderUserID))); v != "" {
		return v
	}
	return DefaultPlayerID
}

func (s *Server) requestContext(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Server) fail(ctx *fasthttp.RequestCtx, err error, d errorDetail) {
	derr, status := mapError(err, s.msgs, d)
	if status >= fasthttp.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("rid", requestID(ctx)),
			zap.ByteString("path", ctx.Path()),
			zap.Error(err),
		)
	}
	writeJSON(ctx, status, chessdto.NewErrorResponse(derr))
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"success":false,"error":"InternalError"}`)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(raw)
}

func decodeBody(ctx *fasthttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return errEmptyBody
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return invalidInput("malformed json: " + err.Error())
	}
	return nil
}
