package hdfproxy

import (
	"context"
	"errors"
	"sync"
	"time"
)

type sentMessage struct {
	msg     Message
	hdr     Header
	handled bool
}

// fakeChannel records every message and answers handled requests with
// respond. A nil respond, or respond returning false, leaves the request in
// flight forever.
type fakeChannel struct {
	mu       sync.Mutex
	open     bool
	opens    int
	nextID   int64
	sent     []sentMessage
	inflight map[int64]ResponseHandler
	timeout  time.Duration
	sendErr  error
	openErr  error

	respond func(Message) (Message, bool)

	// inline delivers the response before SendWithHandler returns.
	inline bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{open: true, inflight: make(map[int64]ResponseHandler)}
}

// ackAll answers every request with a successful response of the matching type.
func ackAll(m Message) (Message, bool) {
	switch m.(type) {
	case PutUninitializedDataArrays:
		return PutUninitializedDataArraysResponse{Success: true}, true
	case PutDataArrays:
		return PutDataArraysResponse{Success: true}, true
	case PutDataSubarrays:
		return PutDataSubarraysResponse{Success: true}, true
	default:
		return nil, false
	}
}

func (c *fakeChannel) Open(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.openErr != nil {
		return c.openErr
	}
	c.open = true
	return nil
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) Send(_ context.Context, msg Message, hdr Header) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentMessage{msg: msg, hdr: hdr})
	return nil
}

func (c *fakeChannel) SendWithHandler(_ context.Context, msg Message, hdr Header, h ResponseHandler) (int64, error) {
	c.mu.Lock()
	if c.sendErr != nil {
		c.mu.Unlock()
		return 0, c.sendErr
	}
	c.nextID++
	id := c.nextID
	c.sent = append(c.sent, sentMessage{msg: msg, hdr: hdr, handled: true})
	respond := c.respond
	c.mu.Unlock()

	var resp Message
	ok := false
	if respond != nil {
		resp, ok = respond(msg)
	}
	switch {
	case !ok:
		c.mu.Lock()
		c.inflight[id] = h
		c.mu.Unlock()
	case c.inline:
		h(resp, nil)
	default:
		go h(resp, nil)
	}
	return id, nil
}

func (c *fakeChannel) IsStillProcessing(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[id]
	return ok
}

func (c *fakeChannel) Timeout() time.Duration { return c.timeout }

// deliver answers an in-flight request, as a late response would.
func (c *fakeChannel) deliver(id int64, msg Message) error {
	c.mu.Lock()
	h, ok := c.inflight[id]
	delete(c.inflight, id)
	c.mu.Unlock()
	if !ok {
		return errors.New("no such request")
	}
	h(msg, nil)
	return nil
}

func (c *fakeChannel) messages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeChannel) subarrays() []PutDataSubarrays {
	var out []PutDataSubarrays
	for _, s := range c.messages() {
		if m, ok := s.msg.(PutDataSubarrays); ok {
			out = append(out, m)
		}
	}
	return out
}
