// Package ratelimit implements rate limiting logic using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/chatfabric/chatfabric/internal/config"
	"github.com/chatfabric/chatfabric/internal/logging"
	"github.com/chatfabric/chatfabric/internal/metrics"
)

// RateLimiter holds the rate limiter instances used to protect the
// WebSocket ingress endpoint. There is no authenticated-user concept in
// this system, so limits are keyed by client IP and by session id.
type RateLimiter struct {
	wsIP      *limiter.Limiter
	wsSession *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter creates a new RateLimiter instance. When redisClient is
// nil the limiter falls back to an in-process memory store, which is only
// correct for single-node deployments since it is not shared across nodes.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWSPerIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	wsSessionRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWSPerSession)
	if err != nil {
		return nil, fmt.Errorf("invalid WS session rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "chatfabric:limiter:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (not shared across nodes)")
	}

	return &RateLimiter{
		wsIP:      limiter.New(store, wsIPRate),
		wsSession: limiter.New(store, wsSessionRate),
		store:     store,
	}, nil
}

// CheckWebSocketIP checks the per-IP connection rate limit. Returns true if
// the request is allowed; otherwise writes a 429 response and returns false.
func (rl *RateLimiter) CheckWebSocketIP(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	res, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (ip)", zap.Error(err))
		return true // fail open
	}

	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_ip").Inc()
		c.Header("Retry-After", strconv.FormatInt(res.Reset-time.Now().Unix(), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this IP"})
		return false
	}

	return true
}

// CheckWebSocketSession checks the per-session message rate limit. Call this
// once a session id has been assigned, before admitting a frame for routing.
func (rl *RateLimiter) CheckWebSocketSession(ctx context.Context, sessionID string) error {
	res, err := rl.wsSession.Get(ctx, sessionID)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (session)", zap.Error(err))
		return nil // fail open
	}

	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_session").Inc()
		return fmt.Errorf("rate limit exceeded for session %s", sessionID)
	}

	return nil
}
