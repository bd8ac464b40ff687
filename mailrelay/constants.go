package mailrelay

import "time"

// Exchange describes the RabbitMQ exchange name used by the AMQP transport.
const Exchange = "mailrelay"

// Routing key prefixes.
const (
	RPCRoutingKey         = "rpc"
	RPCResponseRoutingKey = RPCRoutingKey + ".response"
)

// RPC call names.
const (
	DeliverCall = "deliver"
)

// DefaultTransportTimeout bounds a single delivery attempt.
const DefaultTransportTimeout = 30 * time.Second

// Route paths served by the relay.
const (
	RouteMail       = "/"
	RouteNewsletter = "/newsletter"
	RouteOrder      = "/order"
	RouteInvoicing  = "/invoicing"
	RouteShipping   = "/shipping"
	RouteUser       = "/user"
)
