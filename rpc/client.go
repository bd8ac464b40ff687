package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

var (
	// ErrClosed is returned by Call after Close, and to calls pending when
	// the channel went away.
	ErrClosed = errors.New("rpc client closed")
	// ErrUnroutable is returned when the broker hands a request back because
	// no queue is bound for it.
	ErrUnroutable = errors.New("rpc request unroutable")
)

// Channel is the subset of *amqp.Channel the client uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	Close() error
}

type reply struct {
	body []byte
	err  error
}

// Client describes an RPC client with the ability to call remote RPC servers.
// It is safe for concurrent use. The channel is opened on first use and
// reopened by the next call after the broker closes it.
type Client struct {
	Logger zerolog.Logger

	// Connection configuration.
	Connection         *amqp.Connection
	Exchange           string // Exchange to register our response queues against. Declared as a durable topic exchange.
	RequestRoutingKey  string // Routing key prefix for requests (e.g. "rpc").
	ResponseRoutingKey string // Routing key prefix for responses (e.g. "rpc.response").

	// OpenChannel opens a channel. Defaults to Connection.Channel.
	OpenChannel func() (Channel, error)

	mu       sync.Mutex
	channel  Channel
	replyTo  string // assembled routing key for responses
	callers  map[string]chan reply
	shutdown bool
}

func (c *Client) open() (Channel, error) {
	if c.OpenChannel != nil {
		return c.OpenChannel()
	}
	channel, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return channel, nil
}

// connect sets up a channel, its reply queue and consumer. c.mu must be held.
func (c *Client) connect() error {
	if c.callers == nil {
		c.callers = make(map[string]chan reply)
	}

	channel, err := c.open()
	if err != nil {
		return err
	}

	// register the exchange
	err = channel.ExchangeDeclare(c.Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		_ = channel.Close()
		return err
	}

	// set up queue
	queue, err := channel.QueueDeclare(
		"",    // name, let server pick
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		_ = channel.Close()
		return err
	}
	replyTo := c.ResponseRoutingKey + "." + queue.Name
	err = channel.QueueBind(
		queue.Name,
		replyTo, // routing key
		c.Exchange,
		false, // noWait
		nil,   // args
	)
	if err != nil {
		_ = channel.Close()
		return err
	}

	// create delivery channel
	deliveries, err := channel.Consume(
		queue.Name,
		"",
		true,  // autoAck
		true,  // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		_ = channel.Close()
		return err
	}

	// mandatory publishes come back here when nothing is bound
	returns := channel.NotifyReturn(make(chan amqp.Return, 1))

	c.channel = channel
	c.replyTo = replyTo

	// spawn queue consumer
	go c.consume(channel, deliveries, returns)

	return nil
}

func (c *Client) consume(channel Channel, deliveries <-chan amqp.Delivery, returns <-chan amqp.Return) {
	logger := c.Logger.With().Str("module", "rpc-consumer").Logger()

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				c.drop(channel)
				logger.Info().Msg("Reply consumer stopped")
				return
			}
			if !c.resolve(delivery.CorrelationId, reply{body: delivery.Body}) {
				logger.Error().Str("correlation_id", delivery.CorrelationId).Msg("Received response with no caller?")
			}
		case ret, ok := <-returns:
			if !ok {
				returns = nil
				continue
			}
			logger.Warn().Str("correlation_id", ret.CorrelationId).Uint16("code", ret.ReplyCode).
				Str("reason", ret.ReplyText).Msg("Request returned by broker")
			c.resolve(ret.CorrelationId, reply{err: fmt.Errorf("%w: %s", ErrUnroutable, ret.ReplyText)})
		}
	}
}

// resolve hands r to the caller waiting on correlationID.
func (c *Client) resolve(correlationID string, r reply) bool {
	c.mu.Lock()
	callback, ok := c.callers[correlationID]
	delete(c.callers, correlationID)
	c.mu.Unlock()

	if ok {
		// buffered, never blocks
		callback <- r
	}
	return ok
}

// drop forgets a channel the broker closed and fails every pending call.
// The next call reconnects.
func (c *Client) drop(channel Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != channel {
		return
	}
	c.channel = nil
	c.failPending()
}

// failPending fails every registered call with ErrClosed. c.mu must be held.
func (c *Client) failPending() {
	for id, callback := range c.callers {
		callback <- reply{err: ErrClosed}
		delete(c.callers, id)
	}
}

// register reserves correlationID, connecting first if needed.
func (c *Client) register(correlationID string, callback chan reply) (Channel, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return nil, "", ErrClosed
	}
	if c.channel == nil {
		if err := c.connect(); err != nil {
			return nil, "", err
		}
	}
	c.callers[correlationID] = callback
	return c.channel, c.replyTo, nil
}

// Call makes a RPC call with a JSON encoded body and returns the raw
// response body.
func (c *Client) Call(ctx context.Context, callName string, body []byte) ([]byte, error) {
	correlationID := uuid.NewString()

	// create correlation channel
	callback := make(chan reply, 1)
	channel, replyTo, err := c.register(correlationID, callback)
	if err != nil {
		return nil, err
	}
	defer func() {
		// prevent a memory leak on timeout
		c.mu.Lock()
		delete(c.callers, correlationID)
		c.mu.Unlock()
	}()

	// send our request
	err = channel.Publish(
		c.Exchange,
		c.RequestRoutingKey+"."+callName,
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: correlationID,
			ReplyTo:       replyTo,
			Body:          body,
		},
	)
	if err != nil {
		return nil, err
	}

	// wait for the callback
	select {
	case result := <-callback:
		return result.body, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the client's channel. Pending and later calls fail with
// ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	channel := c.channel
	c.channel = nil
	c.shutdown = true
	c.failPending()
	c.mu.Unlock()

	if channel == nil {
		return nil
	}
	return channel.Close()
}
