package auth

import (
	"net/http"

	"ChainPilot/pkg/logger"
)

// MiddlewareConfig 配置单个路由的认证要求。
type MiddlewareConfig struct {
	// Scopes 为访问该路由需要的范围，为空时只要求令牌有效。
	Scopes []string
	// OnError 负责输出错误响应，为 nil 时使用 http.Error。
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware 返回认证中间件。认证关闭时直接放行。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !s.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.AuthenticateRequest(r.Header.Get("Authorization"))
			if err == nil {
				err = subject.Authorize(cfg.Scopes...)
			}
			if err != nil {
				name := ""
				if subject != nil {
					name = subject.Name
				}
				logger.Audit().Warn("access_denied",
					"method", r.Method,
					"path", r.URL.Path,
					"token", name,
					"error", err.Error(),
				)
				if cfg.OnError != nil {
					cfg.OnError(w, r, err)
				} else {
					http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				}
				return
			}
			ctx := WithSubject(r.Context(), subject)
			ctx = logger.WithContext(ctx, "token", subject.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
