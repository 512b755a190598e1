package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"SpendGuard/internal/observability/metrics"
)

// Middleware 包装一个 http.Handler。
type Middleware func(http.Handler) http.Handler

// Chain 按顺序套用中间件，第一个位于最外层。
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery 捕获处理器中的 panic 并返回 500。
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						slog.Any("panic", rec),
						slog.String("path", r.URL.Path),
						slog.String("stack", string(debug.Stack())))
					writeJSON(w, http.StatusInternalServerError, errorBody("UNKNOWN", "internal server error", ""))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Observe 记录每个请求的状态码与耗时。路由标签取自 ServeMux 匹配到的模式。
func Observe(collector *metrics.Collector, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)
			collector.ObserveHTTPRequest(route, r.Method, rec.status, elapsed)
			logger.Debug("request served",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("elapsed", elapsed))
		})
	}
}

// TrustedHosts 拒绝 Host 头不在白名单内的请求。支持 "*" 与 "*.example.com"。
func TrustedHosts(hosts []string) Middleware {
	allowAll := len(hosts) == 0
	exact := make(map[string]struct{}, len(hosts))
	var suffixes []string
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "*":
			allowAll = true
		case strings.HasPrefix(h, "*."):
			suffixes = append(suffixes, h[1:])
		case h != "":
			exact[h] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		if allowAll {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := strings.ToLower(r.Host)
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			host = strings.Trim(host, "[]")
			if _, ok := exact[host]; ok {
				next.ServeHTTP(w, r)
				return
			}
			for _, suffix := range suffixes {
				if strings.HasSuffix(host, suffix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSON(w, http.StatusBadRequest, errorBody("INVALID_HOST", "Invalid host header", ""))
		})
	}
}

// CORS 只对白名单内的来源放行跨域请求，允许携带凭证。
func CORS(allowedOrigins []string) Middleware {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler
}

// RateLimiter 基于客户端 IP 的令牌桶限流，超过 3 分钟未出现的客户端会被清理。
func RateLimiter(ctx context.Context, rps float64, burst int) Middleware {
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, v := range visitors {
					if time.Since(v.lastSeen) > 3*time.Minute {
						delete(visitors, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()
	if burst <= 0 {
		burst = 1
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			mu.Lock()
			v, exists := visitors[ip]
			if !exists {
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			mu.Unlock()
			if !v.limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests, errorBody("RATE_LIMITED", "too many requests", ""))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
