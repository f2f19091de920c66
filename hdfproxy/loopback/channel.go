// Package loopback provides an in-process hdfproxy.Channel.
//
// Every message is framed with MessagePack, checked against a frame size
// limit, and decoded again on a worker goroutine before it reaches the
// Server. Responses travel back the same way. Frames are served one at a
// time in send order.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
)

// ErrClosed indicates a send on a closed channel, or a request that was
// still in flight when the channel closed.
var ErrClosed = errors.New("loopback: channel closed")

// Server answers the requests delivered by a loopback channel.
// Failures are answered with a hdfproxy.ProtocolException.
type Server interface {
	Serve(ctx context.Context, msg hdfproxy.Message) hdfproxy.Message
}

// ServerFunc adapts a function to Server.
type ServerFunc func(ctx context.Context, msg hdfproxy.Message) hdfproxy.Message

func (f ServerFunc) Serve(ctx context.Context, msg hdfproxy.Message) hdfproxy.Message {
	return f(ctx, msg)
}

// Record describes one frame accepted by Send or SendWithHandler.
type Record struct {
	ID        int64
	Header    hdfproxy.Header
	Message   hdfproxy.Message
	FrameSize int
}

type envelope struct {
	id    int64
	frame []byte
}

// Channel is an in-process hdfproxy.Channel backed by a Server.
type Channel struct {
	server Server
	cfg    channelConfig
	nextID atomic.Int64

	mu       sync.Mutex
	open     bool
	queue    chan envelope
	closed   <-chan struct{}
	stop     context.CancelFunc
	wg       sync.WaitGroup
	handlers map[int64]hdfproxy.ResponseHandler
	sent     []Record
}

var _ hdfproxy.Channel = (*Channel)(nil)

// New creates a closed channel serving requests with server.
func New(server Server, opts ...Option) (*Channel, error) {
	if server == nil {
		return nil, errors.New("loopback: server is required")
	}
	cfg := channelConfig{
		maxFrameSize: DefaultMaxFrameSize,
		timeout:      hdfproxy.DefaultTimeout,
		queueSize:    DefaultQueueSize,
	}
	for _, opt := range opts {
		if err := opt.applyChannel(&cfg); err != nil {
			return nil, fmt.Errorf("loopback: %w", err)
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Channel{
		server:   server,
		cfg:      cfg,
		handlers: make(map[int64]hdfproxy.ResponseHandler),
	}, nil
}

// Open starts the worker. Opening an open channel does nothing.
func (c *Channel) Open(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.queue = make(chan envelope, c.cfg.queueSize)
	c.closed = ctx.Done()
	c.stop = cancel
	c.open = true
	c.wg.Add(1)
	go c.run(ctx, c.queue)
	return nil
}

// IsOpen reports whether the channel accepts sends.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close stops the worker. Frames still queued are discarded and their
// handlers receive ErrClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	c.stop()
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	pending := c.handlers
	c.handlers = make(map[int64]hdfproxy.ResponseHandler)
	c.mu.Unlock()
	for _, h := range pending {
		h(nil, ErrClosed)
	}
	return nil
}

// Send frames msg and queues it without awaiting a response.
func (c *Channel) Send(ctx context.Context, msg hdfproxy.Message, hdr hdfproxy.Header) error {
	_, err := c.enqueue(ctx, msg, hdr, nil)
	return err
}

// SendWithHandler frames msg, registers h for its response and queues it.
func (c *Channel) SendWithHandler(ctx context.Context, msg hdfproxy.Message, hdr hdfproxy.Header, h hdfproxy.ResponseHandler) (int64, error) {
	if h == nil {
		return 0, errors.New("loopback: nil response handler")
	}
	return c.enqueue(ctx, msg, hdr, h)
}

// IsStillProcessing reports whether a handled request awaits its response.
func (c *Channel) IsStillProcessing(requestID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[requestID]
	return ok
}

// Timeout returns the configured wait budget.
func (c *Channel) Timeout() time.Duration { return c.cfg.timeout }

// Sent returns every frame accepted so far, in send order.
func (c *Channel) Sent() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *Channel) enqueue(ctx context.Context, msg hdfproxy.Message, hdr hdfproxy.Header, h hdfproxy.ResponseHandler) (int64, error) {
	id := c.nextID.Add(1)
	data, err := EncodeFrame(hdr, id, msg)
	if err != nil {
		return 0, err
	}
	if len(data) > c.cfg.maxFrameSize {
		return 0, fmt.Errorf("loopback: %s frame of %d bytes exceeds %d: %w",
			hdr.MessageType, len(data), c.cfg.maxFrameSize, hdfproxy.ErrProtocol)
	}

	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	queue, closed := c.queue, c.closed
	if h != nil {
		c.handlers[id] = h
	}
	c.sent = append(c.sent, Record{ID: id, Header: hdr, Message: msg, FrameSize: len(data)})
	c.mu.Unlock()

	select {
	case queue <- envelope{id: id, frame: data}:
		return id, nil
	case <-closed:
		c.forget(id)
		return 0, ErrClosed
	case <-ctx.Done():
		c.forget(id)
		return 0, ctx.Err()
	}
}

func (c *Channel) forget(id int64) hdfproxy.ResponseHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handlers[id]
	delete(c.handlers, id)
	return h
}

func (c *Channel) run(ctx context.Context, queue <-chan envelope) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-queue:
			if c.cfg.latency > 0 {
				select {
				case <-time.After(c.cfg.latency):
				case <-ctx.Done():
					return
				}
			}
			c.deliver(ctx, env)
		}
	}
}

func (c *Channel) deliver(ctx context.Context, env envelope) {
	hdr, _, msg, err := DecodeFrame(env.frame)
	if err != nil {
		if h := c.forget(env.id); h != nil {
			h(nil, err)
		}
		return
	}

	resp := c.server.Serve(ctx, msg)
	if c.cfg.dropResponses {
		c.cfg.logger.Debug("dropping response", "request_id", env.id, "request", hdr.MessageType.String())
		return
	}

	h := c.forget(env.id)
	if h == nil {
		if exc, ok := resp.(hdfproxy.ProtocolException); ok {
			c.cfg.logger.Warn("exception for unhandled message",
				"request_id", env.id,
				"request", hdr.MessageType.String(),
				"code", exc.Code,
				"message", exc.Message)
		}
		return
	}
	if resp == nil {
		h(nil, fmt.Errorf("loopback: no response to %s: %w", hdr.MessageType, hdfproxy.ErrProtocol))
		return
	}

	respHdr := hdfproxy.HeaderFor(resp)
	respHdr.CorrelationID = env.id
	data, err := EncodeFrame(respHdr, c.nextID.Add(1), resp)
	if err != nil {
		h(nil, err)
		return
	}
	_, _, decoded, err := DecodeFrame(data)
	if err != nil {
		h(nil, err)
		return
	}
	h(decoded, nil)
}
