package templates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Pandentia/mailrelay/mailrelay"
)

// Value is a scalar taken from an order payload. Strings, numbers and
// booleans are all kept exactly as the caller wrote them.
type Value string

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Value(s)
	case '{', '[':
		return errors.New("expected a scalar value")
	default:
		*v = Value(data)
	}
	return nil
}

// Order is the payload of an order confirmation.
type Order struct {
	OrderID         Value      `json:"orderId"`
	Timestamp       Value      `json:"timestamp"`
	OrderPrice      Value      `json:"orderPrice"`
	ShippingAddress Value      `json:"shipping_address"`
	CustomerName    Value      `json:"customer_name"`
	Items           []LineItem `json:"orderItems"`
}

// LineItem is a single row of an order.
type LineItem struct {
	ItemID      Value `json:"order_item_id"`
	OrderID     Value `json:"order_id"`
	ProductID   Value `json:"product_id"`
	Name        Value `json:"product_name"`
	Description Value `json:"product_description"`
	Country     Value `json:"product_country"`
	Category    Value `json:"product_category"`
	Price       Value `json:"product_price"`
	Quantity    Value `json:"quantity"`
	TotalPrice  Value `json:"total_price"`
	Image       Value `json:"product_image"`
}

// DecodeOrder decodes an order payload. Both a bare object and a list
// whose first element is the order are accepted. The line item list may
// be empty but must be present.
func DecodeOrder(raw json.RawMessage) (Order, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Order{}, &mailrelay.TemplateError{Reason: "order payload is absent"}
	}

	var order Order
	switch raw[0] {
	case '[':
		var orders []Order
		if err := json.Unmarshal(raw, &orders); err != nil {
			return Order{}, &mailrelay.TemplateError{Reason: fmt.Sprintf("decoding order payload: %v", err)}
		}
		if len(orders) == 0 {
			return Order{}, &mailrelay.TemplateError{Reason: "order payload list is empty"}
		}
		order = orders[0]
	case '{':
		if err := json.Unmarshal(raw, &order); err != nil {
			return Order{}, &mailrelay.TemplateError{Reason: fmt.Sprintf("decoding order payload: %v", err)}
		}
	default:
		return Order{}, &mailrelay.TemplateError{Reason: "order payload must be an object or a list"}
	}

	if order.Items == nil {
		return Order{}, &mailrelay.TemplateError{Reason: "order items are absent"}
	}
	return order, nil
}
