package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/0xmuggle/cc-ax-bot/internal/engine"
	"github.com/0xmuggle/cc-ax-bot/internal/filter"
	"github.com/0xmuggle/cc-ax-bot/internal/observability"
	"github.com/0xmuggle/cc-ax-bot/internal/strategy"
)

func (c *controller) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), c.timeout)
}

func (c *controller) handleHealth(ctx *gin.Context) {
	if c.health == nil {
		ctx.JSON(http.StatusOK, gin.H{"status": observability.StatusHealthy})
		return
	}
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	h := c.health.Check(reqCtx)
	status := http.StatusOK
	if h.Status == observability.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	ctx.JSON(status, h)
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

func (c *controller) handleListTokens(ctx *gin.Context) {
	filtered, _ := strconv.ParseBool(ctx.DefaultQuery("filtered", "false"))
	ctx.JSON(http.StatusOK, c.engine.View(filtered))
}

func (c *controller) handleGetToken(ctx *gin.Context) {
	addr := ctx.Param("address")
	tok, err := c.engine.Token(addr)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"token":   tok,
		"signals": c.engine.Signals(addr),
		"history": c.engine.History().ForToken(addr),
	})
}

func (c *controller) handleDeleteToken(ctx *gin.Context) {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	if err := c.engine.RemoveToken(reqCtx, ctx.Param("address")); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *controller) handleClearTokens(ctx *gin.Context) {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	c.engine.ClearTokens(reqCtx)
	ctx.Status(http.StatusNoContent)
}

func (c *controller) handleManualBuy(ctx *gin.Context) {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	d, err := c.engine.ManualBuy(reqCtx, ctx.Param("address"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, decisionResponse(d))
}

func (c *controller) handleManualSell(ctx *gin.Context) {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	d, err := c.engine.ManualSell(reqCtx, ctx.Param("address"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, decisionResponse(d))
}

func decisionResponse(d engine.Decision) gin.H {
	resp := gin.H{
		"kind":        d.Kind,
		"description": d.Description(),
		"reason":      d.Reason(),
		"strategy":    d.Strategy.Name,
		"token":       d.Token.Address(),
	}
	if d.Command != nil {
		resp["command"] = d.Command.String()
	}
	return resp
}

// ---------------------------------------------------------------------------
// History, signals and counters
// ---------------------------------------------------------------------------

func (c *controller) handleHistory(ctx *gin.Context) {
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	if token := ctx.Query("token"); token != "" {
		ctx.JSON(http.StatusOK, c.engine.History().ForToken(token))
		return
	}
	ctx.JSON(http.StatusOK, c.engine.History().List(limit))
}

func (c *controller) handleSignals(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.engine.Signals(ctx.Param("address")))
}

func (c *controller) handleStats(ctx *gin.Context) {
	resp := gin.H{
		"strategies": c.engine.Book().Stats(),
		"history":    c.engine.History().Len(),
	}
	if c.dispatcher != nil {
		resp["notifications"] = c.dispatcher()
	}
	ctx.JSON(http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Strategies and bots
// ---------------------------------------------------------------------------

// strategyRequest accepts the typed filter or the dashboard's string form.
// The form wins when both are present.
type strategyRequest struct {
	strategy.Strategy
	Form *filter.Form `json:"form,omitempty"`
}

func (r strategyRequest) resolve() (strategy.Strategy, error) {
	s := r.Strategy
	if r.Form != nil {
		spec, err := filter.ParseForm(*r.Form)
		if err != nil {
			return strategy.Strategy{}, err
		}
		s.Filters = spec
	}
	return s, nil
}

func (c *controller) handleListStrategies(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.engine.Book().List())
}

func (c *controller) handleCreateStrategy(ctx *gin.Context) {
	var req strategyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.ID = ""
	c.saveStrategy(ctx, req, http.StatusCreated)
}

func (c *controller) handleUpdateStrategy(ctx *gin.Context) {
	id := ctx.Param("id")
	if _, err := c.engine.Book().Get(id); err != nil {
		writeError(ctx, err)
		return
	}
	var req strategyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.ID = id
	c.saveStrategy(ctx, req, http.StatusOK)
}

func (c *controller) saveStrategy(ctx *gin.Context, req strategyRequest, status int) {
	s, err := req.resolve()
	if err != nil {
		writeError(ctx, err)
		return
	}
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	stored, err := c.engine.UpsertStrategy(reqCtx, s)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(status, stored)
}

func (c *controller) handleDeleteStrategy(ctx *gin.Context) {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	if err := c.engine.DeleteStrategy(reqCtx, ctx.Param("id")); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// maskBot hides all but the tail of the API key.
func maskBot(b strategy.Bot) strategy.Bot {
	if n := len(b.APIKey); n > 4 {
		b.APIKey = "****" + b.APIKey[n-4:]
	} else if n > 0 {
		b.APIKey = "****"
	}
	return b
}

func (c *controller) handleListBots(ctx *gin.Context) {
	bots := c.engine.Book().Bots()
	for i := range bots {
		bots[i] = maskBot(bots[i])
	}
	ctx.JSON(http.StatusOK, bots)
}

func (c *controller) handleCreateBot(ctx *gin.Context) {
	var b strategy.Bot
	if err := ctx.ShouldBindJSON(&b); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	b.ID = ""
	c.saveBot(ctx, b, http.StatusCreated)
}

func (c *controller) handleUpdateBot(ctx *gin.Context) {
	id := ctx.Param("id")
	existing, ok := c.engine.Book().Bot(id)
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
		return
	}
	var b strategy.Bot
	if err := ctx.ShouldBindJSON(&b); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	b.ID = id
	// Listing masks the key, so an omitted key keeps the stored one.
	if b.APIKey == "" {
		b.APIKey = existing.APIKey
	}
	c.saveBot(ctx, b, http.StatusOK)
}

func (c *controller) saveBot(ctx *gin.Context, b strategy.Bot, status int) {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	stored, err := c.engine.UpsertBot(reqCtx, b)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(status, maskBot(stored))
}

func (c *controller) handleDeleteBot(ctx *gin.Context) {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	if err := c.engine.DeleteBot(reqCtx, ctx.Param("id")); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Main filter and SOL price
// ---------------------------------------------------------------------------

func (c *controller) handleGetFilters(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.engine.Filters())
}

func (c *controller) handleSetFilters(ctx *gin.Context) {
	var form filter.Form
	if err := ctx.ShouldBindJSON(&form); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	spec, err := filter.ParseForm(form)
	if err != nil {
		writeError(ctx, err)
		return
	}
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	c.engine.SetFilters(reqCtx, spec)
	ctx.JSON(http.StatusOK, spec)
}

func (c *controller) handleResetFilters(ctx *gin.Context) {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	ctx.JSON(http.StatusOK, c.engine.ResetFilters(reqCtx))
}

func (c *controller) handleGetSolPrice(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"sol_price_usd": c.engine.SolPrice()})
}

func (c *controller) handleSetSolPrice(ctx *gin.Context) {
	var req struct {
		Price float64 `json:"sol_price_usd"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	if err := c.engine.SetSolPrice(reqCtx, req.Price); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"sol_price_usd": req.Price})
}
