package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// 需要密码保护的路径前缀
var protectedPrefixes = []string{
	"/containers",
	"/entities",
	"/refresh",
	"/ws",
}

func isProtected(path string) bool {
	for _, prefix := range protectedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// AuthMiddleware 创建认证中间件
func AuthMiddleware(password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 如果没有设置密码或路径不需要保护，直接放行
			if password == "" || !isProtected(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			// 获取Basic Auth信息
			user, pass, ok := r.BasicAuth()
			if !ok || user != "admin" || subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
