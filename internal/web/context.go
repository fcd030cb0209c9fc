package web

import (
	"net"
	"net/http"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// clientContext records the client address and User-Agent on the request
// context so commits can be attributed.
func clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := core.ContextWithClient(r.Context(), ip, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
