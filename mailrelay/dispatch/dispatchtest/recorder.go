// Package dispatchtest provides a recording transport for tests.
package dispatchtest

import (
	"context"
	"strconv"
	"sync"

	"github.com/Pandentia/mailrelay/mailrelay"
)

// Recorder is a transport that records every message it is asked to send.
// When Err is set, Send fails with it instead.
type Recorder struct {
	Err error

	mu       sync.Mutex
	messages []mailrelay.Message
}

// Send records msg.
func (r *Recorder) Send(_ context.Context, msg mailrelay.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return "", r.Err
	}
	r.messages = append(r.messages, msg)
	return "<" + strconv.Itoa(len(r.messages)) + "@dispatchtest>", nil
}

// Messages returns the recorded messages in send order.
func (r *Recorder) Messages() []mailrelay.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]mailrelay.Message(nil), r.messages...)
}
