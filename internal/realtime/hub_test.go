package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/dealdesk/internal/events"
)

func testHub() *Hub {
	return NewHub(slog.Default(), "admin")
}

func dealEvent(t events.Type, dealID string, recipients ...string) *events.Event {
	ev := events.New(t, time.Now(), recipients...)
	ev.DealID = dealID
	return &ev
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_OnlyRecipients(t *testing.T) {
	h := testHub()
	buyer := &Client{accountID: "buyer"}
	stranger := &Client{accountID: "stranger"}

	ev := dealEvent(events.DealCreated, "d1", "buyer", "seller")
	if !h.shouldSend(buyer, ev) {
		t.Error("recipient should receive the event")
	}
	if h.shouldSend(stranger, ev) {
		t.Error("non-recipient should NOT receive the event")
	}
}

func TestShouldSend_AdminSeesEverything(t *testing.T) {
	h := testHub()
	admin := &Client{accountID: "admin"}

	if !h.shouldSend(admin, dealEvent(events.ItemSent, "d1", "buyer")) {
		t.Error("admin should receive events addressed to others")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()
	client := &Client{accountID: "buyer", sub: Subscription{
		EventTypes: []events.Type{events.DisputeOpened, events.DisputeResolved},
	}}

	if !h.shouldSend(client, dealEvent(events.DisputeOpened, "d1", "buyer")) {
		t.Error("Should receive dispute.opened")
	}
	if h.shouldSend(client, dealEvent(events.ItemSent, "d1", "buyer")) {
		t.Error("Should NOT receive deal.item_sent")
	}
}

func TestShouldSend_DealFilter(t *testing.T) {
	h := testHub()
	client := &Client{accountID: "admin", sub: Subscription{DealIDs: []string{"d2"}}}

	if h.shouldSend(client, dealEvent(events.DealCompleted, "d1", "buyer")) {
		t.Error("Should NOT receive events for other deals")
	}
	if !h.shouldSend(client, dealEvent(events.DealCompleted, "d2", "buyer")) {
		t.Error("Should receive events for the watched deal")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, accountID: "buyer", send: make(chan []byte, 256)}
	h.register <- client
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) == 1 }, time.Second, 5*time.Millisecond)

	h.unregister <- client
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats()["peakClients"].(int64), "peak survives disconnects")
}

func TestHub_NotifyDeliversToRecipientOnly(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	buyer := &Client{hub: h, accountID: "buyer", send: make(chan []byte, 256)}
	other := &Client{hub: h, accountID: "other", send: make(chan []byte, 256)}
	h.register <- buyer
	h.register <- other

	h.Notify(ctx, []events.Event{*dealEvent(events.DealCreated, "d1", "buyer", "seller")})

	select {
	case msg := <-buyer.send:
		var got events.Event
		require.NoError(t, json.Unmarshal(msg, &got))
		assert.Equal(t, events.DealCreated, got.Type)
		assert.Equal(t, "d1", got.DealID)
	case <-time.After(time.Second):
		t.Fatal("buyer did not receive the event")
	}

	select {
	case <-other.send:
		t.Error("other account should NOT receive the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/ws", nil), "buyer")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleWebSocket(w, r, r.URL.Query().Get("account"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?account=seller"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Subscription{EventTypes: []events.Type{events.DealCompleted}}))
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) == 1 }, time.Second, 5*time.Millisecond)
	// Give the read pump a moment to apply the subscription.
	time.Sleep(50 * time.Millisecond)

	h.Notify(ctx, []events.Event{
		*dealEvent(events.ItemSent, "d1", "buyer", "seller"),
		*dealEvent(events.DealCompleted, "d1", "buyer", "seller"),
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.DealCompleted, got.Type)
}

func TestHub_RejectsAnonymous(t *testing.T) {
	h := testHub()
	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/ws", nil), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
