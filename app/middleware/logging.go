package middleware

import (
	"strings"
	"time"

	"github.com/aihub/policy-assistant/internal/services"
	"github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"
)

const requestStartKey = "request_start"

// RequestStart 记录请求开始时间，需注册在BeforeRouter
func RequestStart(ctx *context.Context) {
	ctx.Input.SetData(requestStartKey, time.Now())
}

// RequestLogger 请求完成日志与指标，需注册在FinishRouter
func RequestLogger(logger *zap.Logger, metrics *services.MetricsService) func(ctx *context.Context) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx *context.Context) {
		var elapsed time.Duration
		if start, ok := ctx.Input.GetData(requestStartKey).(time.Time); ok {
			elapsed = time.Since(start)
		}

		status := ctx.Output.Status
		if status == 0 {
			status = ctx.ResponseWriter.Status
		}
		if status == 0 {
			status = 200
		}

		route, _ := ctx.Input.GetData("RouterPattern").(string)
		if route == "" {
			route = "unmatched"
		}
		if metrics != nil {
			metrics.RecordHTTPRequest(ctx.Input.Method(), route, status, elapsed)
		}

		fields := []zap.Field{
			zap.String("method", ctx.Input.Method()),
			zap.String("path", ctx.Input.URL()),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("remote_addr", clientIP(ctx)),
			zap.String("user_agent", ctx.Input.UserAgent()),
		}
		switch {
		case status >= 500:
			logger.Error("Request completed", fields...)
		case status >= 400:
			logger.Warn("Request completed", fields...)
		default:
			logger.Info("Request completed", fields...)
		}
	}
}

// clientIP 获取客户端IP
func clientIP(ctx *context.Context) string {
	if xff := ctx.Input.Header("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := ctx.Input.Header("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return ctx.Input.IP()
}
