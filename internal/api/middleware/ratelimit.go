package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitKeyPrefix = "callstats:ratelimit"

// NewRateLimiter creates a Gin middleware allowing requests per period for
// each client IP. A nil store keeps counters in process memory.
func NewRateLimiter(requests int64, period time.Duration, store limiter.Store, logger zerolog.Logger) (gin.HandlerFunc, error) {
	if requests <= 0 {
		return nil, fmt.Errorf("rate limit requests must be positive, got %d", requests)
	}
	if period <= 0 {
		return nil, errors.New("rate limit period must be positive")
	}

	if store == nil {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          rateLimitKeyPrefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		})
	}

	instance := limiter.New(store, limiter.Rate{Period: period, Limit: requests})
	log := logger.With().Str("component", "rate_limiter").Logger()

	return mgin.NewMiddleware(instance,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			log.Error().Err(err).Msg("rate limiter store failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limiter unavailable"})
		}),
	), nil
}

// NewRedisRateLimitStore shares rate-limit counters between server replicas.
func NewRedisRateLimitStore(client *redis.Client) (limiter.Store, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: rateLimitKeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("create redis rate limit store: %w", err)
	}
	return store, nil
}
