package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/escrow-desk/backend/internal/http/dto"
)

// RateLimitMiddleware is a fixed-window counter per path and client IP.
// The gateway fronts all deal traffic, so the limit mostly guards the
// stats endpoints and auth from abuse. Redis failures fail open: a
// degraded limiter must not stall deals in flight.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := fmt.Sprintf("escrow:rl:%s:%s", c.Path(), c.IP())

		ctx := context.Background()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Next()
		}

		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		if count > int64(limit) {
			c.Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Error: "rate limit exceeded",
			})
		}

		return c.Next()
	}
}
