// Package amqp hands mail to a delivery node over an AMQP request/reply call.
// The call is synchronous: Send returns once the delivery node has answered.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Pandentia/mailrelay/mailrelay"
	"github.com/Pandentia/mailrelay/rpc"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// Caller performs a request/reply call. *rpc.Client implements it.
type Caller interface {
	Call(ctx context.Context, callName string, body []byte) ([]byte, error)
}

// Reply is the delivery node's answer to a deliver call.
type Reply struct {
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Transport implements dispatch.Transport on top of an RPC caller.
type Transport struct {
	RPC    Caller
	Logger zerolog.Logger

	conn io.Closer
}

// New creates a Transport publishing on the mailrelay exchange over conn.
func New(conn *amqp.Connection, logger zerolog.Logger) *Transport {
	return &Transport{
		RPC: &rpc.Client{
			Logger:             logger,
			Connection:         conn,
			Exchange:           mailrelay.Exchange,
			RequestRoutingKey:  mailrelay.RPCRoutingKey,
			ResponseRoutingKey: mailrelay.RPCResponseRoutingKey,
		},
		Logger: logger,
		conn:   conn,
	}
}

// Close releases the RPC caller, then the broker connection.
func (t *Transport) Close() error {
	var errs []error
	if closer, ok := t.RPC.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if t.conn != nil {
		errs = append(errs, t.conn.Close())
	}
	return errors.Join(errs...)
}

// Send implements dispatch.Transport.
func (t *Transport) Send(ctx context.Context, msg mailrelay.Message) (string, error) {
	logger := t.Logger.With().Str("module", "amqp").Logger()

	data, err := mailrelay.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding message: %w", err)
	}

	logger.Debug().Int("bytes", len(data)).Msg("Publishing deliver call")
	resp, err := t.RPC.Call(ctx, mailrelay.DeliverCall, data)
	if err != nil {
		return "", err
	}
	return DecodeReply(resp)
}

// DecodeReply interprets a delivery node's reply.
func DecodeReply(data []byte) (string, error) {
	var reply Reply
	if err := mailrelay.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("decoding delivery reply: %w", err)
	}
	if reply.Error != "" {
		return "", errors.New(reply.Error)
	}
	if reply.MessageID == "" {
		return "", errors.New("delivery reply carries no message id")
	}
	return reply.MessageID, nil
}
