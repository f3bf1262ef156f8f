package middleware

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/aihub/policy-assistant/internal/errors"
	beecontext "github.com/beego/beego/v2/server/web/context"
)

// RateLimiter 滑动窗口内存限流器
type RateLimiter struct {
	requests int
	window   time.Duration

	mu      sync.Mutex
	clients map[string][]time.Time
	now     func() time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: requests,
		window:   window,
		clients:  make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := trimWindow(rl.clients[client], now.Add(-rl.window))
	if len(valid) >= rl.requests {
		rl.clients[client] = valid
		return false
	}
	rl.clients[client] = append(valid, now)
	return true
}

// Run 周期清理过期记录，ctx取消后退出
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	windowStart := rl.now().Add(-rl.window)
	for client, requests := range rl.clients {
		valid := trimWindow(requests, windowStart)
		if len(valid) == 0 {
			delete(rl.clients, client)
		} else {
			rl.clients[client] = valid
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// trimWindow 丢弃窗口开始之前的请求，requests按时间升序
func trimWindow(requests []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for i < len(requests) && !requests[i].After(windowStart) {
		i++
	}
	return requests[i:]
}

// RateLimit 对指定方法的请求按客户端IP限流
func RateLimit(rl *RateLimiter, method string) func(ctx *beecontext.Context) {
	return func(ctx *beecontext.Context) {
		if ctx.Input.Method() != method {
			return
		}
		if rl.Allow(clientIP(ctx)) {
			return
		}
		appErr := apperrors.NewBusinessError(apperrors.ErrCodeTooManyRequests, "Rate limit exceeded")
		ctx.Output.SetStatus(appErr.HTTPCode)
		_ = ctx.Output.JSON(map[string]interface{}{
			"success": false,
			"error":   appErr.Message,
			"code":    appErr.Code,
		}, false, false)
	}
}
