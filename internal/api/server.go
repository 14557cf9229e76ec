package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/0xmuggle/cc-ax-bot/internal/engine"
	"github.com/0xmuggle/cc-ax-bot/internal/filter"
	"github.com/0xmuggle/cc-ax-bot/internal/notify"
	"github.com/0xmuggle/cc-ax-bot/internal/observability"
	"github.com/0xmuggle/cc-ax-bot/internal/strategy"
)

// Config configures the HTTP listener.
type Config struct {
	Addr             string `yaml:"addr"`
	ReadTimeoutS     int    `yaml:"read_timeout_s"`
	WriteTimeoutS    int    `yaml:"write_timeout_s"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		ReadTimeoutS:     10,
		WriteTimeoutS:    10,
		RequestTimeoutMs: 5000,
	}
}

// Deps are the collaborators behind the routes. Only Engine is required.
type Deps struct {
	Engine     *engine.Engine
	Health     *observability.HealthMonitor
	Metrics    *observability.Metrics
	Feed       http.Handler // mounted at FeedPath when set
	FeedPath   string       // defaults to /ws/feed
	Dispatcher func() notify.Stats
}

type controller struct {
	engine     *engine.Engine
	health     *observability.HealthMonitor
	dispatcher func() notify.Stats
	timeout    time.Duration
}

// NewServer builds the gin router and the http.Server around it.
func NewServer(cfg Config, deps Deps) (*gin.Engine, *http.Server) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	c := &controller{
		engine:     deps.Engine,
		health:     deps.Health,
		dispatcher: deps.Dispatcher,
		timeout:    time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}

	r.GET("/health", c.handleHealth)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	if deps.Feed != nil {
		path := deps.FeedPath
		if path == "" {
			path = "/ws/feed"
		}
		r.GET(path, gin.WrapH(deps.Feed))
	}

	c.register(r.Group("/api"))

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutS) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutS) * time.Second,
	}
	return r, srv
}

func (c *controller) register(rg *gin.RouterGroup) {
	rg.GET("/tokens", c.handleListTokens)
	rg.DELETE("/tokens", c.handleClearTokens)
	rg.GET("/tokens/:address", c.handleGetToken)
	rg.DELETE("/tokens/:address", c.handleDeleteToken)
	rg.POST("/tokens/:address/buy", c.handleManualBuy)
	rg.POST("/tokens/:address/sell", c.handleManualSell)

	rg.GET("/history", c.handleHistory)
	rg.GET("/signals/:address", c.handleSignals)
	rg.GET("/stats", c.handleStats)

	rg.GET("/strategies", c.handleListStrategies)
	rg.POST("/strategies", c.handleCreateStrategy)
	rg.PUT("/strategies/:id", c.handleUpdateStrategy)
	rg.DELETE("/strategies/:id", c.handleDeleteStrategy)

	rg.GET("/bots", c.handleListBots)
	rg.POST("/bots", c.handleCreateBot)
	rg.PUT("/bots/:id", c.handleUpdateBot)
	rg.DELETE("/bots/:id", c.handleDeleteBot)

	rg.GET("/filters", c.handleGetFilters)
	rg.PUT("/filters", c.handleSetFilters)
	rg.DELETE("/filters", c.handleResetFilters)

	rg.GET("/sol-price", c.handleGetSolPrice)
	rg.PUT("/sol-price", c.handleSetSolPrice)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("api: request")
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrTokenNotFound),
		errors.Is(err, engine.ErrBotNotFound),
		errors.Is(err, strategy.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrPositionOpen),
		errors.Is(err, engine.ErrNoPosition):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoManualStrategy),
		errors.Is(err, engine.ErrNoSolPrice):
		return http.StatusUnprocessableEntity
	case errors.Is(err, strategy.ErrInvalid),
		errors.Is(err, filter.ErrBadRange),
		errors.Is(err, engine.ErrInvalidPrice):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(ctx *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", ctx.FullPath()).Msg("api: request failed")
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}
