package ordersync

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/order_printer/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "s3cret"
	testShop   = "corner.myallvalue.com"
	shopHeader = "X-AllValue-Shop-Domain"
)

type call struct {
	nodeId      string
	shouldPrint bool
}

type fakeIngester struct {
	mu     sync.Mutex
	calls  []call
	result bool
}

func (f *fakeIngester) Process(_ context.Context, nodeId string, shouldPrint bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{nodeId: nodeId, shouldPrint: shouldPrint})
	return f.result
}

func newWebhookRouter(settings SettingsReader, ingester Ingester, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewWebhookHandler(WebhookConfig{Secret: secret, ShopDomain: testShop, ShopHeader: shopHeader}, settings, ingester, quietLogger())
	r.POST("/webhook", h.Handle())
	return r
}

func postWebhook(r http.Handler, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func signedHeaders(body []byte, topic string) map[string]string {
	h := map[string]string{
		SignatureHeader: Sign(body, testSecret),
		shopHeader:      testShop,
	}
	if topic != "" {
		h[TopicHeader] = topic
	}
	return h
}

func TestSignMatchesKnownDigest(t *testing.T) {
	// md5("abc") = 900150983cd24fb0d6963f7d28e17f72
	if got := Sign([]byte("a"), "bc"); got != "900150983cd24fb0d6963f7d28e17f72" {
		t.Fatalf("Sign = %s", got)
	}
	if !VerifySignature([]byte("a"), "bc", "900150983CD24FB0D6963F7D28E17F72") {
		t.Fatal("uppercase hex signature should verify")
	}
	if VerifySignature([]byte("a"), "", Sign([]byte("a"), "")) {
		t.Fatal("empty secret must never verify")
	}
}

func TestWebhookAcceptsSignedOrder(t *testing.T) {
	ingester := &fakeIngester{result: true}
	r := newWebhookRouter(newMapSettings(models.SettingPollingEnabled, "false"), ingester, testSecret)

	body := []byte(`{"nodeId":"gid://order/1"}`)
	w := postWebhook(r, body, signedHeaders(body, "orders/paid"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"success"}`, w.Body.String())
	assert.Equal(t, []call{{nodeId: "gid://order/1", shouldPrint: true}}, ingester.calls)
}

func TestWebhookRejectsSingleByteFlip(t *testing.T) {
	ingester := &fakeIngester{result: true}
	r := newWebhookRouter(newMapSettings(), ingester, testSecret)

	body := []byte(`{"nodeId":"gid://order/1"}`)
	headers := signedHeaders(body, "orders/paid")
	for i := range body {
		flipped := append([]byte(nil), body...)
		flipped[i] ^= 0x01
		w := postWebhook(r, flipped, headers)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("byte %d flipped: status %d, want 401", i, w.Code)
		}
	}
	assert.Empty(t, ingester.calls)
}

func TestWebhookRejections(t *testing.T) {
	body := []byte(`{"nodeId":"n1"}`)
	tests := []struct {
		name    string
		secret  string
		headers map[string]string
	}{
		{name: "no secret configured", secret: "", headers: signedHeaders(body, "orders/paid")},
		{name: "missing signature", secret: testSecret, headers: map[string]string{shopHeader: testShop, TopicHeader: "orders/paid"}},
		{name: "missing shop header", secret: testSecret, headers: map[string]string{SignatureHeader: Sign(body, testSecret), TopicHeader: "orders/paid"}},
		{name: "other shop", secret: testSecret, headers: map[string]string{SignatureHeader: Sign(body, testSecret), shopHeader: "other.myallvalue.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingester := &fakeIngester{result: true}
			r := newWebhookRouter(newMapSettings(), ingester, tt.secret)
			w := postWebhook(r, body, tt.headers)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Empty(t, ingester.calls)
		})
	}
}

func TestWebhookIgnoredWhilePolling(t *testing.T) {
	ingester := &fakeIngester{result: true}
	r := newWebhookRouter(newMapSettings(models.SettingPollingEnabled, "true"), ingester, testSecret)

	body := []byte(`{"nodeId":"n1"}`)
	w := postWebhook(r, body, signedHeaders(body, "orders/paid"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, w.Body.String())
	assert.Empty(t, ingester.calls)
}

func TestWebhookBadRequests(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		topic string
	}{
		{name: "invalid json", body: `{not json`, topic: "orders/paid"},
		{name: "missing node id", body: `{"id":1}`, topic: "orders/paid"},
		{name: "unknown topic", body: `{"nodeId":"n1"}`, topic: "goods/create"},
		{name: "no topic at all", body: `{"nodeId":"n1"}`, topic: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingester := &fakeIngester{result: true}
			r := newWebhookRouter(newMapSettings(), ingester, testSecret)
			body := []byte(tt.body)
			w := postWebhook(r, body, signedHeaders(body, tt.topic))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, ingester.calls)
		})
	}
}

func TestWebhookTopicAndNodeFallbacks(t *testing.T) {
	ingester := &fakeIngester{result: true}
	r := newWebhookRouter(newMapSettings(), ingester, testSecret)

	body := []byte(`{"orderNodeId":"n2","topic":"orders/payment_confirmed"}`)
	w := postWebhook(r, body, signedHeaders(body, ""))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []call{{nodeId: "n2", shouldPrint: true}}, ingester.calls)
}

func TestWebhookPipelineFailure(t *testing.T) {
	ingester := &fakeIngester{result: false}
	r := newWebhookRouter(newMapSettings(), ingester, testSecret)

	body := []byte(`{"nodeId":"n1"}`)
	w := postWebhook(r, body, signedHeaders(body, "orders/create"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookSettingsFailure(t *testing.T) {
	settings := newMapSettings()
	settings.err = errBoom
	r := newWebhookRouter(settings, &fakeIngester{result: true}, testSecret)

	body := []byte(`{"nodeId":"n1"}`)
	w := postWebhook(r, body, signedHeaders(body, "orders/paid"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
