package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const pinAttemptPrefix = "rl:pin:"

// PINAttemptLimit caps PIN-protected requests per account number and minute
// using Redis. Without Redis, or when Redis fails, requests pass through.
func PINAttemptLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		key := pinAttemptPrefix + c.Params("number")

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("pin attempt counter unavailable", slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			ttl, _ := cache.TTL(c.UserContext(), key).Result()
			if ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())+1))
			}
			return fiber.NewError(http.StatusTooManyRequests, "too many PIN attempts, try again later")
		}
		return c.Next()
	}
}
