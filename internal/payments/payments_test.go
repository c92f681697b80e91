package payments_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/events"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/payments"
	"github.com/mbd888/dealdesk/internal/testutil"
)

const testSecret = "whsec_test_secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCredit_ExactlyOnce(t *testing.T) {
	m := testutil.NewMarket(t)
	ctx := context.Background()
	m.Open(t, "A")
	amount := decimal.RequireFromString("25.50")

	credited, err := m.Payments.Credit(ctx, "stripe", "cs_1", "A", amount)
	require.NoError(t, err)
	assert.True(t, credited)

	credited, err = m.Payments.Credit(ctx, "stripe", "cs_1", "A", amount)
	require.NoError(t, err)
	assert.False(t, credited, "redelivery is a no-op")

	assert.True(t, amount.Equal(m.Balance(t, "A")))
	ev, ok := m.Events.Last(events.BalanceAdjusted)
	require.True(t, ok)
	assert.Equal(t, "cs_1", ev.Data["paymentId"])

	entries, err := m.Ledger.Entries(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryDeposit, entries[0].Kind)
	assert.Equal(t, "cs_1", entries[0].Reference)
	m.RequireBalanced(t)
}

func TestCredit_ConcurrentRedelivery(t *testing.T) {
	m := testutil.NewMarket(t)
	m.Open(t, "A")
	amount := decimal.RequireFromString("10")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Payments.Credit(context.Background(), "stripe", "cs_dup", "A", amount)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, credited)
	assert.True(t, amount.Equal(m.Balance(t, "A")))
}

func TestCredit_Rejections(t *testing.T) {
	m := testutil.NewMarket(t)
	ctx := context.Background()
	m.Open(t, "A")

	_, err := m.Payments.Credit(ctx, "stripe", "", "A", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, payments.ErrPaymentIDRequired)
	_, err = m.Payments.Credit(ctx, "stripe", "cs_0", "A", decimal.Zero)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = m.Payments.Credit(ctx, "stripe", "cs_x", "ghost", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	// A rejected credit does not consume the payment id.
	m.Open(t, "ghost")
	ok, err := m.Payments.Credit(ctx, "stripe", "cs_x", "ghost", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, ok)
}

func newWebhookRouter(m *testutil.Market) *gin.Engine {
	r := gin.New()
	payments.NewStripeHandler(m.Payments, testSecret).RegisterRoutes(r.Group("/v1"))
	return r
}

func checkoutEvent(t *testing.T, typ, sessionID, accountID, status string, cents int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          "evt_" + sessionID,
		"object":      "event",
		"type":        typ,
		"api_version": "2024-06-20",
		"data": map[string]any{
			"object": map[string]any{
				"id":                  sessionID,
				"object":              "checkout.session",
				"amount_total":        cents,
				"client_reference_id": accountID,
				"payment_status":      status,
			},
		},
	})
	require.NoError(t, err)
	return body
}

func deliver(r http.Handler, payload []byte, secret string) *httptest.ResponseRecorder {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/stripe/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Credited bool   `json:"credited"`
	Ignored  string `json:"ignored"`
	Error    string `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) webhookResponse {
	t.Helper()
	var resp webhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestStripeWebhook_CreditsOnce(t *testing.T) {
	m := testutil.NewMarket(t)
	m.Open(t, "A")
	r := newWebhookRouter(m)
	payload := checkoutEvent(t, "checkout.session.completed", "cs_live_1", "A", "paid", 4990)

	w := deliver(r, payload, testSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode(t, w).Credited)
	assert.Equal(t, "49.9", m.Balance(t, "A").String())

	w = deliver(r, payload, testSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode(t, w).Credited)
	assert.Equal(t, "49.9", m.Balance(t, "A").String())
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	m := testutil.NewMarket(t)
	m.Open(t, "A")
	r := newWebhookRouter(m)

	w := deliver(r, checkoutEvent(t, "checkout.session.completed", "cs_1", "A", "paid", 100), "whsec_wrong")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_signature", decode(t, w).Error)
	assert.True(t, m.Balance(t, "A").IsZero())
}

func TestStripeWebhook_IgnoredEvents(t *testing.T) {
	m := testutil.NewMarket(t)
	m.Open(t, "A")
	r := newWebhookRouter(m)

	w := deliver(r, checkoutEvent(t, "checkout.session.expired", "cs_1", "A", "unpaid", 100), testSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "checkout.session.expired", decode(t, w).Ignored)

	w = deliver(r, checkoutEvent(t, "checkout.session.completed", "cs_2", "A", "unpaid", 100), testSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unpaid", decode(t, w).Ignored)

	assert.True(t, m.Balance(t, "A").IsZero())
}

func TestStripeWebhook_UnknownAccountAcknowledged(t *testing.T) {
	m := testutil.NewMarket(t)
	r := newWebhookRouter(m)

	w := deliver(r, checkoutEvent(t, "checkout.session.completed", "cs_1", "ghost", "paid", 100), testSecret)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.False(t, resp.Credited)
	assert.Equal(t, "not_found", resp.Error)
}

func TestStripeWebhook_BalanceOverflowAcknowledged(t *testing.T) {
	m := testutil.NewMarket(t)
	m.Fund(t, "A", "99999999999999.50")
	r := newWebhookRouter(m)

	w := deliver(r, checkoutEvent(t, "checkout.session.completed", "cs_big", "A", "paid", 100), testSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.False(t, resp.Credited)
	assert.Equal(t, apperr.Code(apperr.ErrValidation), resp.Error)
	assert.Equal(t, "99999999999999.5", m.Balance(t, "A").String())
}
