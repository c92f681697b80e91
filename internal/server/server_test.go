package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mbd888/dealdesk/internal/auth"
	"github.com/mbd888/dealdesk/internal/broker"
	"github.com/mbd888/dealdesk/internal/config"
	"github.com/mbd888/dealdesk/internal/logging"
	"github.com/mbd888/dealdesk/internal/store"
)

const testSecret = "whsec_test"

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                  "0",
		Env:                   "development",
		LogLevel:              "error",
		LogFormat:             "text",
		AdminID:               "admin",
		CommissionRecipientID: "admin",
		CommissionRate:        decimal.RequireFromString("0.08"),
		StripeWebhookSecret:   testSecret,
		ReconcileInterval:     time.Minute,
	}
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{
		WithLogger(logging.NewWithWriter(io.Discard, "error", "text")),
		WithStore(store.NewMemory()),
	}, opts...)
	s, err := New(testConfig(), opts...)
	require.NoError(t, err)
	s.drainDelay = 0
	t.Cleanup(s.rateLimiter.Stop)
	return s
}

func call(t *testing.T, s *Server, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(auth.HeaderActorID, actor)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type accountBody struct {
	Account struct {
		ID      string `json:"id"`
		Balance string `json:"balance"`
	} `json:"account"`
}

func balance(t *testing.T, s *Server, id string) string {
	t.Helper()
	w := call(t, s, http.MethodGet, "/v1/accounts/"+id, id, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[accountBody](t, w).Account.Balance
}

func fundViaStripe(t *testing.T, s *Server, sessionID, accountID string, cents int64) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + sessionID,
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": "2024-06-20",
		"data": map[string]any{
			"object": map[string]any{
				"id":                  sessionID,
				"object":              "checkout.session",
				"amount_total":        cents,
				"client_reference_id": accountID,
				"payment_status":      "paid",
			},
		},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/stripe/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := call(t, s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, Version, resp.Version)
	names := make([]string, 0, len(resp.Checks))
	for _, c := range resp.Checks {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"store", "reconciliation"}, names)
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := call(t, s, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := call(t, s, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "not ready before Run")
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	s := newTestServer(t)
	w := call(t, s, http.MethodGet, "/v1/info", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Len(t, w.Header().Get("X-Request-ID"), 32)

	info := decode[map[string]any](t, w)
	assert.Equal(t, "0.08", info["commissionRate"])
	assert.Contains(t, info, "realtime")
}

func TestMaskDSN(t *testing.T) {
	masked := maskDSN("postgres://market:hunter2@db:5432/dealdesk")
	assert.NotContains(t, masked, "hunter2")
	assert.Contains(t, masked, "market:")
	assert.Contains(t, masked, "@db:5432/dealdesk")
	assert.Equal(t, "***", maskDSN("://bad"))
}

// ---------------------------------------------------------------------------
// Routing tests
// ---------------------------------------------------------------------------

func TestBootstrapOpensAdmin(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, "0", balance(t, s, "admin"))
}

func TestActorRequired(t *testing.T) {
	s := newTestServer(t)
	w := call(t, s, http.MethodPost, "/v1/accounts", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIKeyRequiredWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.APIKeys = "k1"
	s, err := New(cfg, WithLogger(logging.NewWithWriter(io.Discard, "error", "text")), WithStore(store.NewMemory()))
	require.NoError(t, err)
	t.Cleanup(s.rateLimiter.Stop)

	w := call(t, s, http.MethodPost, "/v1/accounts", "A", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/accounts", nil)
	req.Header.Set(auth.HeaderActorID, "A")
	req.Header.Set("X-API-Key", "k1")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// TestMarketplaceFlow drives the purchase, delivery and confirmation path
// end to end over HTTP.
func TestMarketplaceFlow(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusCreated, call(t, s, http.MethodPost, "/v1/accounts", "A", nil).Code)
	require.Equal(t, http.StatusCreated, call(t, s, http.MethodPost, "/v1/accounts", "B", nil).Code)
	fundViaStripe(t, s, "cs_1", "A", 10000)
	fundViaStripe(t, s, "cs_1", "A", 10000) // redelivery
	assert.Equal(t, "100", balance(t, s, "A"))

	w := call(t, s, http.MethodPost, "/v1/listings", "B", map[string]string{
		"title": "Vintage lamp", "price": "50", "category": "home",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	listing := decode[struct {
		Listing struct {
			ID string `json:"id"`
		} `json:"listing"`
	}](t, w).Listing

	w = call(t, s, http.MethodPost, "/v1/deals", "A", map[string]string{"listingId": listing.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	type dealBody struct {
		Deal struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			Commission string `json:"commission"`
		} `json:"deal"`
	}
	deal := decode[dealBody](t, w).Deal
	assert.Equal(t, "4", deal.Commission)
	assert.Equal(t, "50", balance(t, s, "A"))

	assert.Equal(t, http.StatusForbidden, call(t, s, http.MethodPost, "/v1/deals/"+deal.ID+"/sent", "A", nil).Code)
	require.Equal(t, http.StatusOK, call(t, s, http.MethodPost, "/v1/deals/"+deal.ID+"/sent", "B", nil).Code)
	w = call(t, s, http.MethodPost, "/v1/deals/"+deal.ID+"/confirm", "A", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", decode[dealBody](t, w).Deal.Status)

	assert.Equal(t, "46", balance(t, s, "B"))
	assert.Equal(t, "4", balance(t, s, "admin"))

	w = call(t, s, http.MethodPost, "/v1/deals/"+deal.ID+"/confirm", "A", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "release happens once")

	w = call(t, s, http.MethodPost, "/v1/admin/reconcile", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[struct {
		Report struct {
			Balanced bool `json:"balanced"`
		} `json:"report"`
	}](t, w)
	assert.True(t, rec.Report.Balanced)
}

func TestDisputeFlow(t *testing.T) {
	s := newTestServer(t)
	call(t, s, http.MethodPost, "/v1/accounts", "B", nil)
	call(t, s, http.MethodPost, "/v1/accounts", "A", nil)
	fundViaStripe(t, s, "cs_2", "A", 5000)

	w := call(t, s, http.MethodPost, "/v1/listings", "B", map[string]string{
		"title": "Headphones", "price": "50", "category": "audio",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	listingID := decode[struct {
		Listing struct {
			ID string `json:"id"`
		} `json:"listing"`
	}](t, w).Listing.ID

	w = call(t, s, http.MethodPost, "/v1/deals", "A", map[string]string{"listingId": listingID})
	require.Equal(t, http.StatusCreated, w.Code)
	dealID := decode[struct {
		Deal struct {
			ID string `json:"id"`
		} `json:"deal"`
	}](t, w).Deal.ID

	require.Equal(t, http.StatusOK, call(t, s, http.MethodPost, "/v1/deals/"+dealID+"/dispute", "A", nil).Code)
	w = call(t, s, http.MethodPost, "/v1/deals/"+dealID+"/messages", "A", map[string]string{"text": "never arrived"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = call(t, s, http.MethodGet, "/v1/admin/disputes", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = call(t, s, http.MethodPost, "/v1/admin/deals/"+dealID+"/resolve", "admin", map[string]string{"decision": "refund"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "50", balance(t, s, "A"))
	assert.Equal(t, "0", balance(t, s, "admin"))
}

// ---------------------------------------------------------------------------
// Lifecycle tests
// ---------------------------------------------------------------------------

type recordingBroker struct {
	mu   sync.Mutex
	keys []string
}

func (b *recordingBroker) dial(context.Context) (broker.Channel, error) {
	return &recordingChannel{b: b}, nil
}

func (b *recordingBroker) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.keys...)
}

type recordingChannel struct{ b *recordingBroker }

func (c *recordingChannel) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp.Table) error {
	return nil
}

func (c *recordingChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, _ amqp.Publishing) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.keys = append(c.b.keys, key)
	return nil
}

func (c *recordingChannel) Close() error { return nil }

func TestRun_PublishesEventsAndShutsDown(t *testing.T) {
	b := &recordingBroker{}
	s := newTestServer(t, WithBrokerDialer(b.dial))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return call(t, s, http.MethodGet, "/health/ready", "", nil).Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	call(t, s, http.MethodPost, "/v1/accounts", "A", nil)
	fundViaStripe(t, s, "cs_3", "A", 1000)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"balance.adjusted"}, b.published())
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.False(t, s.ready.Load())
}
