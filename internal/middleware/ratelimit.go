package middleware

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimit caps how many requests an authenticated user may make within
// the window. Counters live in Redis; with no Redis the limiter is a
// pass-through. Must run after AuthMiddleware so userID is in context.
func RateLimit(client *redis.Client, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if client == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			userID, _ := r.Context().Value("userID").(string)
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := fmt.Sprintf("ratelimit:gen:%s", userID)
			count, err := client.Incr(r.Context(), key).Result()
			if err != nil {
				log.Printf("[RATELIMIT] Redis error, allowing request: %v", err)
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				client.Expire(r.Context(), key, window)
			}

			if count > int64(limit) {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
				http.Error(w, "Too many generation requests, slow down", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
