package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const dependencyPingTimeout = 2 * time.Second

func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client) {
	app.Get("/livez", livenessHandler)
	app.Get("/readyz", readinessHandler(sqlDB, rdb))
}

func livenessHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"alive": true})
}

// readinessHandler pings each backing store of the dispatch engine and
// reports them individually so a degraded instance names the store that is
// down.
func readinessHandler(sqlDB *sql.DB, rdb *redis.Client) fiber.Handler {
	checks := []struct {
		name string
		ping func(ctx context.Context) error
	}{
		{"postgres", sqlDB.PingContext},
		{"redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}

	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), dependencyPingTimeout)
		defer cancel()

		dependencies := fiber.Map{}
		ready := true
		for _, check := range checks {
			if err := check.ping(ctx); err != nil {
				dependencies[check.name] = err.Error()
				ready = false
				continue
			}
			dependencies[check.name] = "ok"
		}

		code := fiber.StatusOK
		if !ready {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"ready":        ready,
			"dependencies": dependencies,
		})
	}
}
