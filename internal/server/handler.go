package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatcher/internal/service"
	"pricewatcher/internal/storage"
)

// PricesAPI is the surface the HTTP layer needs from the service.
type PricesAPI interface {
	HourlyPrices(ctx context.Context, chain string) (map[string][]storage.PriceSample, error)
	QuoteEthToBtc(ctx context.Context, ethAmount decimal.Decimal) (service.SwapQuote, error)
	CreateAlertRule(ctx context.Context, chain string, dollar decimal.Decimal, email string) (storage.AlertRule, error)
	UpdateAlertRule(ctx context.Context, id int64, update storage.RuleUpdate) (storage.AlertRule, error)
	DeleteAlertRule(ctx context.Context, id int64) error
}

// Handler serves the prices routes.
type Handler struct {
	api    PricesAPI
	logger zerolog.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(api PricesAPI, logger zerolog.Logger) *Handler {
	return &Handler{api: api, logger: logger.With().Str("component", "http_handler").Logger()}
}

// RegisterRoutes binds the handler methods to the gin engine.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)

	prices := router.Group("/prices")
	{
		prices.GET("/hourly", h.HourlyPrices)
		prices.GET("/eth-to-btc", h.EthToBtc)
		prices.POST("/set-limit", h.SetLimit)
		prices.PATCH("/update-limit/:id", h.UpdateLimit)
		prices.DELETE("/delete-limit/:id", h.DeleteLimit)
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HourlyPrices returns the past 24 hours of samples grouped by chain.
func (h *Handler) HourlyPrices(c *gin.Context) {
	chain := strings.ToLower(c.Query("chain"))

	grouped, err := h.api.HourlyPrices(c.Request.Context(), chain)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list hourly prices")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to list prices"})
		return
	}

	c.JSON(http.StatusOK, grouped)
}

// EthToBtc quotes an ETH to BTC conversion after commission.
func (h *Handler) EthToBtc(c *gin.Context) {
	raw := c.Query("ethAmount")
	if raw == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "ethAmount is required"})
		return
	}

	ethAmount, err := decimal.NewFromString(raw)
	if err != nil || ethAmount.IsNegative() {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "ethAmount must be a non-negative number"})
		return
	}

	quote, err := h.api.QuoteEthToBtc(c.Request.Context(), ethAmount)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to quote swap")
		c.JSON(http.StatusBadGateway, errorResponse{Error: "failed to fetch conversion rates"})
		return
	}

	c.JSON(http.StatusOK, quote)
}

// SetLimit creates a threshold alert rule.
func (h *Handler) SetLimit(c *gin.Context) {
	var req createLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	rule, err := h.api.CreateAlertRule(c.Request.Context(), req.Chain, decimal.NewFromFloat(*req.Dollar), req.Email)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create alert rule")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to create alert rule"})
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// UpdateLimit partially updates a rule; 404 when the id does not exist.
func (h *Handler) UpdateLimit(c *gin.Context) {
	id, ok := h.ruleID(c)
	if !ok {
		return
	}

	var req updateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	update := storage.RuleUpdate{Chain: req.Chain, Email: req.Email}
	if req.Dollar != nil {
		dollar := decimal.NewFromFloat(*req.Dollar)
		update.Dollar = &dollar
	}

	rule, err := h.api.UpdateAlertRule(c.Request.Context(), id, update)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "price alert not found"})
			return
		}
		h.logger.Error().Err(err).Int64("id", id).Msg("failed to update alert rule")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to update alert rule"})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteLimit removes a rule; 404 when the id does not exist.
func (h *Handler) DeleteLimit(c *gin.Context) {
	id, ok := h.ruleID(c)
	if !ok {
		return
	}

	if err := h.api.DeleteAlertRule(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "price alert not found"})
			return
		}
		h.logger.Error().Err(err).Int64("id", id).Msg("failed to delete alert rule")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to delete alert rule"})
		return
	}

	c.JSON(http.StatusOK, deleteResponse{Success: true})
}

func (h *Handler) ruleID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "id must be an integer"})
		return 0, false
	}
	return id, true
}
