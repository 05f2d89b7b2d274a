package auth

import (
	"net/http"
	"strings"

	loggerpkg "ProvChain/pkg/logger"

	"ProvChain/internal/ledger"
)

// devPrincipalHeader 在认证关闭时声明调用方身份，仅用于本地开发。
const devPrincipalHeader = "X-Provchain-Principal"

// Middleware 返回一个 HTTP 中间件，解析调用方身份并写入请求上下文。
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal ledger.Principal
			if s.Enabled() {
				resolved, err := s.Authenticate(r.Header.Get("Authorization"))
				if err != nil {
					status := http.StatusUnauthorized
					http.Error(w, http.StatusText(status), status)
					loggerpkg.Audit().Warn("access_denied",
						"path", r.URL.Path,
						"method", r.Method,
						"status", status,
						"error", err.Error(),
					)
					return
				}
				principal = resolved
			} else {
				principal = ledger.Principal(strings.TrimSpace(r.Header.Get(devPrincipalHeader)))
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
