package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/dealdesk/internal/events"
	"github.com/mbd888/dealdesk/internal/retry"
)

type fakeBroker struct {
	mu        sync.Mutex
	dials     int
	closed    int
	failNext  int
	published []amqp.Publishing
	keys      []string
	exchanges []string
}

func (b *fakeBroker) dial(context.Context) (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	return &fakeChannel{b: b}, nil
}

func (b *fakeBroker) snapshot() ([]amqp.Publishing, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]amqp.Publishing(nil), b.published...), append([]string(nil), b.keys...)
}

type fakeChannel struct{ b *fakeBroker }

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if kind != amqp.ExchangeTopic || !durable {
		return errors.New("unexpected exchange settings")
	}
	c.b.exchanges = append(c.b.exchanges, name)
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.failNext > 0 {
		c.b.failNext--
		return amqp.ErrClosed
	}
	c.b.published = append(c.b.published, msg)
	c.b.keys = append(c.b.keys, key)
	return nil
}

func (c *fakeChannel) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.closed++
	return nil
}

func fastRetry() retry.Policy {
	return retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}
}

func TestPublisher_PublishesWithTypeAsRoutingKey(t *testing.T) {
	b := &fakeBroker{}
	p := NewPublisher(b.dial, "", nil).WithRetry(fastRetry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	ev := events.New(events.DealCompleted, time.Now(), "buyer", "seller")
	ev.DealID = "d1"
	p.Notify(ctx, []events.Event{ev})

	require.Eventually(t, func() bool { msgs, _ := b.snapshot(); return len(msgs) == 1 }, time.Second, time.Millisecond)
	msgs, keys := b.snapshot()
	assert.Equal(t, []string{"deal.completed"}, keys)
	assert.Equal(t, ev.ID, msgs[0].MessageId)
	assert.Equal(t, amqp.Persistent, msgs[0].DeliveryMode)
	assert.Equal(t, "application/json", msgs[0].ContentType)

	var got events.Event
	require.NoError(t, json.Unmarshal(msgs[0].Body, &got))
	assert.Equal(t, "d1", got.DealID)
	assert.Equal(t, []string{"buyer", "seller"}, got.Recipients)

	b.mu.Lock()
	assert.Equal(t, []string{DefaultExchange}, b.exchanges)
	assert.Equal(t, 1, b.dials, "channel is reused")
	b.mu.Unlock()
}

func TestPublisher_ReconnectsAfterFailure(t *testing.T) {
	b := &fakeBroker{failNext: 2}
	p := NewPublisher(b.dial, "market", nil).WithRetry(fastRetry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Notify(ctx, []events.Event{events.New(events.DisputeOpened, time.Now(), "admin")})

	require.Eventually(t, func() bool { msgs, _ := b.snapshot(); return len(msgs) == 1 }, time.Second, time.Millisecond)
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 3, b.dials)
	assert.Equal(t, 2, b.closed)
}

func TestPublisher_GivesUpAfterRetries(t *testing.T) {
	b := &fakeBroker{failNext: 3}
	p := NewPublisher(b.dial, "", nil).WithRetry(fastRetry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	first := events.New(events.ItemSent, time.Now(), "buyer")
	second := events.New(events.DealCompleted, time.Now(), "buyer")
	p.Notify(ctx, []events.Event{first, second})

	// The first event exhausts its attempts; the second still goes out.
	require.Eventually(t, func() bool { msgs, _ := b.snapshot(); return len(msgs) == 1 }, time.Second, time.Millisecond)
	msgs, _ := b.snapshot()
	assert.Equal(t, second.ID, msgs[0].MessageId)
}

func TestPublisher_NotifyNeverBlocks(t *testing.T) {
	b := &fakeBroker{}
	p := NewPublisher(b.dial, "", nil).WithBuffer(2)

	evs := make([]events.Event, 5)
	for i := range evs {
		evs[i] = events.New(events.BalanceAdjusted, time.Now(), "a")
	}

	done := make(chan struct{})
	go func() {
		p.Notify(context.Background(), evs)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full buffer")
	}
	assert.Equal(t, 2, p.Pending())
}

func TestPublisher_StopsOnCancel(t *testing.T) {
	b := &fakeBroker{}
	p := NewPublisher(b.dial, "", nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	p.Notify(ctx, []events.Event{events.New(events.AccountBanned, time.Now(), "a")})
	require.Eventually(t, func() bool { msgs, _ := b.snapshot(); return len(msgs) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
	b.mu.Lock()
	assert.Equal(t, 1, b.closed, "channel closed on shutdown")
	b.mu.Unlock()
}
