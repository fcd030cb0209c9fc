package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// NewMemoryStore returns a process-local rate limit store.
func NewMemoryStore() limiter.Store {
	return memory.NewStore()
}

// NewRedisStore returns a rate limit store shared by every instance using
// client. Keys are namespaced under prefix.
func NewRedisStore(client *redis.Client, prefix string) (limiter.Store, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: prefix + ":ratelimit",
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit store: %w", err)
	}
	return store, nil
}

// RateLimit allows perMinute requests per client IP. Clients over the limit
// get 429 with Retry-After. A perMinute of zero or less disables the limit.
func RateLimit(store limiter.Store, name string, perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	rate := limiter.Rate{Period: time.Minute, Limit: int64(perMinute)}
	lim := limiter.New(store, rate)

	mw := stdlib.NewMiddleware(lim,
		stdlib.WithKeyGetter(func(r *http.Request) string {
			if addr := remoteAddr(r.RemoteAddr); addr.IsValid() {
				return name + ":" + addr.String()
			}
			return name + ":" + r.RemoteAddr
		}),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			slog.Warn("rate limit exceeded",
				"limiter", name,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			w.Header().Set("Retry-After", "60")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded","message":"Too many requests","action":"Please wait a minute and try again","code":"RATE001"}`))
		}),
	)
	return mw.Handler
}
