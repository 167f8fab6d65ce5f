package ordersync

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/order_printer/config"
	"github.com/mmdatafocus/order_printer/utils"
	"github.com/sirupsen/logrus"
)

const (
	SignatureHeader = "X-AllValue-MD5"
	TopicHeader     = "X-AllValue-Topic"

	maxWebhookBody = 1 << 20
	sourceWebhook  = "webhook"
)

type WebhookConfig struct {
	Secret     string
	ShopDomain string
	ShopHeader string
}

type webhookBody struct {
	NodeId      string `json:"nodeId"`
	OrderNodeId string `json:"orderNodeId"`
	Topic       string `json:"topic"`
}

// WebhookHandler authenticates order webhooks and hands them to the pipeline.
type WebhookHandler struct {
	cfg      WebhookConfig
	settings SettingsReader
	pipeline Ingester
	logger   *logrus.Logger
}

func NewWebhookHandler(cfg WebhookConfig, settings SettingsReader, pipeline Ingester, logger *logrus.Logger) *WebhookHandler {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &WebhookHandler{cfg: cfg, settings: settings, pipeline: pipeline, logger: logger}
}

// Sign returns the lowercase hex MD5 of body followed by secret.
func Sign(body []byte, secret string) string {
	h := md5.New()
	h.Write(body)
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature compares the signature header in constant time. An empty secret never verifies.
func VerifySignature(body []byte, secret, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(body, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func (h *WebhookHandler) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := h.logger.WithField("module", "webhook")
		if cid, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok {
			logger = logger.WithField("correlation_id", cid)
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "msg": "unreadable body"})
			return
		}

		if !VerifySignature(body, h.cfg.Secret, c.GetHeader(SignatureHeader)) {
			logger.Warn("webhook signature rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "fail", "msg": "invalid signature"})
			return
		}
		if !h.shopMatches(c.GetHeader(h.cfg.ShopHeader)) {
			logger.WithField("shop", c.GetHeader(h.cfg.ShopHeader)).Warn("webhook shop header rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "fail", "msg": "unknown shop"})
			return
		}

		ctx := c.Request.Context()
		polling, err := PollingEnabled(ctx, h.settings)
		if err != nil {
			config.LogError(h.logger, "ordersync", "WebhookHandler", "read polling_enabled", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"status": "fail", "msg": "settings unavailable"})
			return
		}
		if polling {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		var payload webhookBody
		if err := json.Unmarshal(body, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "msg": "invalid json"})
			return
		}

		topic := strings.TrimSpace(c.GetHeader(TopicHeader))
		if topic == "" {
			topic = strings.TrimSpace(payload.Topic)
		}
		logger = logger.WithField("topic", topic)
		if !strings.HasPrefix(topic, "orders/") {
			logger.Warn("webhook topic not handled")
			c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "msg": "unknown topic: " + topic})
			return
		}

		nodeId := strings.TrimSpace(payload.NodeId)
		if nodeId == "" {
			nodeId = strings.TrimSpace(payload.OrderNodeId)
		}
		if nodeId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "msg": "no nodeId"})
			return
		}

		// a sender that hangs up must not abort the order half way; Process bounds its own time
		ctx = utils.SetSourceInContext(context.WithoutCancel(ctx), sourceWebhook)
		if !h.pipeline.Process(ctx, nodeId, true) {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "fail", "msg": "failed to process"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

func (h *WebhookHandler) shopMatches(value string) bool {
	want := strings.TrimSpace(h.cfg.ShopDomain)
	if want == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(value), want)
}
