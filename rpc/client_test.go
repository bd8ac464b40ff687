package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange  string
	key       string
	mandatory bool
	msg       amqp.Publishing
}

// fakeChannel stands in for a broker channel. Deliveries and returns are
// pushed by the test or by onPublish.
type fakeChannel struct {
	mu         sync.Mutex
	deliveries chan amqp.Delivery
	returns    chan amqp.Return
	published  []published
	boundKey   string
	closed     bool
	closeOnce  sync.Once
	onPublish  func(f *fakeChannel, msg amqp.Publishing)
	publishErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (f *fakeChannel) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp.Table) error {
	return nil
}

func (f *fakeChannel) QueueDeclare(string, bool, bool, bool, bool, amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: "amq.gen-1"}, nil
}

func (f *fakeChannel) QueueBind(_, key, _ string, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	f.boundKey = key
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	if f.publishErr != nil {
		f.mu.Unlock()
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, mandatory: mandatory, msg: msg})
	onPublish := f.onPublish
	f.mu.Unlock()

	if onPublish != nil {
		onPublish(f, msg)
	}
	return nil
}

func (f *fakeChannel) NotifyReturn(c chan amqp.Return) chan amqp.Return {
	f.mu.Lock()
	f.returns = c
	f.mu.Unlock()
	return c
}

// Close mimics the broker shutting a channel down: consumers and return
// listeners are closed.
func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		returns := f.returns
		f.mu.Unlock()

		close(f.deliveries)
		if returns != nil {
			close(returns)
		}
	})
	return nil
}

func (f *fakeChannel) publishes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func echo(f *fakeChannel, msg amqp.Publishing) {
	f.deliveries <- amqp.Delivery{CorrelationId: msg.CorrelationId, Body: msg.Body}
}

type opener struct {
	mu       sync.Mutex
	channels []*fakeChannel
	errs     []error
	opened   int
}

func (o *opener) open() (Channel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	i := o.opened
	o.opened++
	if i < len(o.errs) && o.errs[i] != nil {
		return nil, o.errs[i]
	}
	return o.channels[i], nil
}

func (o *opener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

func newClient(o *opener) *Client {
	return &Client{
		Logger:             zerolog.Nop(),
		Exchange:           "mailrelay",
		RequestRoutingKey:  "rpc",
		ResponseRoutingKey: "rpc.response",
		OpenChannel:        o.open,
	}
}

func pending(c *Client) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.callers)
}

type result struct {
	body []byte
	err  error
}

func TestCallRoutesRepliesByCorrelationID(t *testing.T) {
	ch := newFakeChannel()
	c := newClient(&opener{channels: []*fakeChannel{ch}})

	first := make(chan result, 1)
	second := make(chan result, 1)
	go func() {
		body, err := c.Call(context.Background(), "deliver", []byte("first"))
		first <- result{body, err}
	}()
	require.Eventually(t, func() bool { return len(ch.publishes()) == 1 }, time.Second, time.Millisecond)
	go func() {
		body, err := c.Call(context.Background(), "deliver", []byte("second"))
		second <- result{body, err}
	}()
	require.Eventually(t, func() bool { return len(ch.publishes()) == 2 }, time.Second, time.Millisecond)

	requests := ch.publishes()
	for _, p := range requests {
		assert.Equal(t, "mailrelay", p.exchange)
		assert.Equal(t, "rpc.deliver", p.key)
		assert.True(t, p.mandatory)
		assert.Equal(t, "application/json", p.msg.ContentType)
		assert.Equal(t, "rpc.response.amq.gen-1", p.msg.ReplyTo)
		assert.NotEmpty(t, p.msg.CorrelationId)
	}
	assert.Equal(t, "rpc.response.amq.gen-1", ch.boundKey)
	assert.NotEqual(t, requests[0].msg.CorrelationId, requests[1].msg.CorrelationId)

	// answer out of order
	ch.deliveries <- amqp.Delivery{CorrelationId: requests[1].msg.CorrelationId, Body: []byte("reply to second")}
	ch.deliveries <- amqp.Delivery{CorrelationId: requests[0].msg.CorrelationId, Body: []byte("reply to first")}

	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, "reply to first", string(r.body))
	r = <-second
	require.NoError(t, r.err)
	assert.Equal(t, "reply to second", string(r.body))
	assert.Zero(t, pending(c))
}

func TestCallConcurrent(t *testing.T) {
	ch := newFakeChannel()
	ch.onPublish = echo
	c := newClient(&opener{channels: []*fakeChannel{ch}})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf("call-%d", i)
			resp, err := c.Call(context.Background(), "deliver", []byte(body))
			assert.NoError(t, err)
			assert.Equal(t, body, string(resp))
		}(i)
	}
	wg.Wait()

	assert.Len(t, ch.publishes(), 20)
	assert.Zero(t, pending(c))
}

func TestCallDeadlineForgetsCaller(t *testing.T) {
	ch := newFakeChannel()
	c := newClient(&opener{channels: []*fakeChannel{ch}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, "deliver", []byte("{}"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, pending(c))

	// a late reply is dropped, the client keeps working
	late := ch.publishes()[0].msg.CorrelationId
	ch.deliveries <- amqp.Delivery{CorrelationId: late, Body: []byte("late")}
	ch.onPublish = echo
	resp, err := c.Call(context.Background(), "deliver", []byte("next"))
	require.NoError(t, err)
	assert.Equal(t, "next", string(resp))
}

func TestChannelLossFailsPendingAndReconnects(t *testing.T) {
	lost := newFakeChannel()
	fresh := newFakeChannel()
	fresh.onPublish = echo
	o := &opener{channels: []*fakeChannel{lost, fresh}}
	c := newClient(o)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "deliver", []byte("{}"))
		done <- err
	}()
	require.Eventually(t, func() bool { return len(lost.publishes()) == 1 }, time.Second, time.Millisecond)

	// broker closes the channel, e.g. after a channel exception
	require.NoError(t, lost.Close())
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Zero(t, pending(c))

	resp, err := c.Call(context.Background(), "deliver", []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, "again", string(resp))
	assert.Equal(t, 2, o.count())

	require.NoError(t, c.Close())
	assert.True(t, fresh.isClosed())

	_, err = c.Call(context.Background(), "deliver", []byte("{}"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 2, o.count())
}

func TestCloseFailsPendingCalls(t *testing.T) {
	ch := newFakeChannel()
	c := newClient(&opener{channels: []*fakeChannel{ch}})

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "deliver", []byte("{}"))
		done <- err
	}()
	require.Eventually(t, func() bool { return len(ch.publishes()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.True(t, ch.isClosed())
	assert.NoError(t, c.Close())
}

func TestCloseBeforeUse(t *testing.T) {
	o := &opener{}
	c := newClient(o)

	require.NoError(t, c.Close())
	_, err := c.Call(context.Background(), "deliver", []byte("{}"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, o.count())
}

func TestCallUnroutable(t *testing.T) {
	ch := newFakeChannel()
	ch.onPublish = func(f *fakeChannel, msg amqp.Publishing) {
		f.returns <- amqp.Return{ReplyCode: 312, ReplyText: "NO_ROUTE", CorrelationId: msg.CorrelationId}
	}
	c := newClient(&opener{channels: []*fakeChannel{ch}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Call(ctx, "deliver", []byte("{}"))
	assert.ErrorIs(t, err, ErrUnroutable)
	assert.ErrorContains(t, err, "NO_ROUTE")
	assert.Zero(t, pending(c))
}

func TestCallOpenFailureRetries(t *testing.T) {
	ch := newFakeChannel()
	ch.onPublish = echo
	refused := errors.New("channel refused")
	o := &opener{channels: []*fakeChannel{nil, ch}, errs: []error{refused}}
	c := newClient(o)

	_, err := c.Call(context.Background(), "deliver", []byte("{}"))
	assert.ErrorIs(t, err, refused)

	resp, err := c.Call(context.Background(), "deliver", []byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp))
	assert.Equal(t, 2, o.count())
}

func TestCallPublishFailure(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = amqp.ErrClosed
	c := newClient(&opener{channels: []*fakeChannel{ch}})

	_, err := c.Call(context.Background(), "deliver", []byte("{}"))
	assert.ErrorIs(t, err, amqp.ErrClosed)
	assert.Zero(t, pending(c))
}
