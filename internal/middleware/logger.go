package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// LoggerMiddleware logs one line per request. The actor id is present
// once the auth middleware has run, so deal actions can be traced back
// to the participant who issued them.
func LoggerMiddleware(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		reqID, _ := c.Locals(CtxRequestID).(string)
		fields := []zap.Field{
			zap.String("request_id", reqID),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if actorID, ok := c.Locals(CtxActorID).(string); ok && actorID != "" {
			fields = append(fields, zap.String("actor_id", actorID))
		}
		log.Info("request", fields...)

		return err
	}
}
