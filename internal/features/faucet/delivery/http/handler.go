package http

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"faucet-backend/internal/features/faucet/models"
)

// forbiddenBody is the uniform response for every rejected request.
// Callers learn nothing about which rule fired.
const forbiddenBody = "Forbidden"

type FaucetService interface {
	Issue(ctx context.Context, recipient, ip string) (string, error)
	Redeem(ctx context.Context, body, ip string) (float64, error)
	TopRecipients(ctx context.Context) ([]models.RankRow, error)
}

type Handler struct {
	service FaucetService
}

func NewHandler(service FaucetService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/request", h.request)
	router.POST("/", h.redeem)
	router.POST("/rank", h.rank)
	router.GET("/health", h.health)
}

type requestBody struct {
	Recipient string `json:"recipient"`
}

func (h *Handler) request(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusOK, forbiddenBody)
		return
	}

	var body requestBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Recipient == "" {
		c.String(http.StatusOK, forbiddenBody)
		return
	}

	token, err := h.service.Issue(c.Request.Context(), body.Recipient, clientIP(c))
	if err != nil {
		c.String(http.StatusOK, forbiddenBody)
		return
	}
	c.String(http.StatusOK, token)
}

func (h *Handler) redeem(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusOK, forbiddenBody)
		return
	}

	amount, err := h.service.Redeem(c.Request.Context(), string(raw), clientIP(c))
	if err != nil {
		c.String(http.StatusOK, forbiddenBody)
		return
	}
	c.String(http.StatusOK, formatAmount(amount))
}

func (h *Handler) rank(c *gin.Context) {
	rows, err := h.service.TopRecipients(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, []models.RankRow{})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// clientIP prefers the proxy-provided X-Real-IP header and strips the
// IPv4-mapped IPv6 prefix.
func clientIP(c *gin.Context) string {
	ip := c.GetHeader("X-Real-IP")
	if ip == "" {
		ip = c.ClientIP()
	}
	return strings.TrimPrefix(ip, "::ffff:")
}

// formatAmount renders the award as a decimal string truncated to six
// fractional digits with trailing zeros trimmed.
func formatAmount(amount float64) string {
	return strconv.FormatFloat(math.Round(amount*1e6)/1e6, 'f', -1, 64)
}
