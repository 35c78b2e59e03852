package logging

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestIDHeader is honoured on the way in and echoed on the way out.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 64

// Middleware scopes base and a request id to every request, then logs the
// outcome: debug for success, warn for 4xx, error for 5xx. newID supplies ids
// when the caller sent none or an oversized one.
func Middleware(base *slog.Logger, newID func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = newID()
		}
		ctx := WithLogger(WithRequestID(c.Request.Context(), id), base)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
		}
		level := slog.LevelDebug
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
			attrs = append(attrs, slog.String("client_ip", c.ClientIP()))
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		L(ctx).LogAttrs(ctx, level, "request completed", attrs...)
	}
}
