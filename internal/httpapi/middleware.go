package httpapi

import (
	"crypto/rand"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	headerRequestID = "X-Request-ID"
	requestIDKey    = "request_id"
	requestIDLength = 8
)

var alphabet = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

func newRequestID() string {
	b := make([]byte, requestIDLength)
	rnd := make([]byte, requestIDLength)
	_, _ = rand.Read(rnd)
	for i := range b {
		b[i] = alphabet[int(rnd[i])%len(alphabet)]
	}
	return string(b)
}

// withRequestID reuses a well-formed incoming X-Request-ID or mints one.
func withRequestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		rid := string(ctx.Request.Header.Peek(headerRequestID))
		if len(rid) != requestIDLength {
			rid = newRequestID()
		}
		ctx.SetUserValue(requestIDKey, rid)
		ctx.Response.Header.Set(headerRequestID, rid)
		next(ctx)
	}
}

func requestID(ctx *fasthttp.RequestCtx) string {
	if s, ok := ctx.UserValue(requestIDKey).(string); ok {
		return s
	}
	return ""
}

func withAccessLog(logger *zap.Logger, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		logger.Info("request completed",
			zap.String("rid", requestID(ctx)),
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()),
			zap.Int("status", ctx.Response.StatusCode()),
			zap.Duration("dur", time.Since(start)),
		)
	}
}
