package hdfproxy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a wait when neither the caller nor the channel
// supplies a budget.
const DefaultTimeout = 30 * time.Second

// pendingRequest lives from SendWithHandler until its response, its
// timeout or its cancellation, whichever happens first.
type pendingRequest struct {
	id    atomic.Int64
	op    MessageType
	start time.Time

	once sync.Once
	done chan struct{}
	msg  Message
	err  error
}

// complete stores the outcome. Only the first call wins; it reports
// whether this call was the one.
func (p *pendingRequest) complete(msg Message, err error) bool {
	won := false
	p.once.Do(func() {
		p.msg, p.err = msg, err
		close(p.done)
		won = true
	})
	return won
}

// Correlator turns the channel's asynchronous responses into blocking calls.
//
// Each request gets exactly one outcome: the first of its response, its
// timeout, or its context cancellation. Responses arriving after that are
// dropped.
type Correlator struct {
	ch      Channel
	logger  *slog.Logger
	metrics Metrics

	mu      sync.Mutex
	pending map[int64]*pendingRequest
}

// NewCorrelator creates a correlator over ch. A nil logger uses
// slog.Default(); nil metrics are discarded.
func NewCorrelator(ch Channel, logger *slog.Logger, metrics Metrics) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Correlator{
		ch:      ch,
		logger:  logger,
		metrics: metrics,
		pending: make(map[int64]*pendingRequest),
	}
}

// Send sends msg with a single-shot response handler and returns the
// request ID to pass to AwaitResponse.
func (c *Correlator) Send(ctx context.Context, msg Message) (int64, error) {
	p := &pendingRequest{
		op:    msg.MessageType(),
		start: time.Now(),
		done:  make(chan struct{}),
	}

	// The handler may run before SendWithHandler returns.
	handler := func(resp Message, err error) {
		if err != nil {
			err = &ProtocolError{Op: p.op.String(), Err: err}
		}
		if !p.complete(resp, err) {
			c.logger.Warn("dropping late response",
				"request_id", p.id.Load(),
				"request", p.op.String(),
				"elapsed", time.Since(p.start))
		}
	}

	id, err := c.ch.SendWithHandler(ctx, msg, HeaderFor(msg), handler)
	if err != nil {
		return 0, &ProtocolError{Op: p.op.String(), Err: err}
	}
	p.id.Store(id)
	c.metrics.RecordSend(p.op, 0)

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	return id, nil
}

// AwaitResponse blocks until the response to requestID arrives or budget
// elapses. A budget <= 0 uses the channel's Timeout, then DefaultTimeout.
//
// On elapse it returns a *TimeoutError. The pending request is released in
// every case.
func (c *Correlator) AwaitResponse(ctx context.Context, requestID int64, budget time.Duration) (Message, error) {
	c.mu.Lock()
	p, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("hdfproxy: no pending request with id %d: %w", requestID, ErrInvalidArgument)
	}
	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	budget = c.budget(budget)
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		p.complete(nil, &TimeoutError{
			RequestID:       requestID,
			Budget:          budget,
			StillProcessing: c.ch.IsStillProcessing(requestID),
		})
	case <-ctx.Done():
		p.complete(nil, ctx.Err())
	}
	<-p.done

	c.metrics.ObserveWait(p.op, time.Since(p.start), p.err)
	if p.err != nil {
		return nil, p.err
	}
	return p.msg, nil
}

// Call sends msg and waits for its response. A ProtocolException answer
// is returned as a *ProtocolError.
func (c *Correlator) Call(ctx context.Context, msg Message, budget time.Duration) (Message, error) {
	id, err := c.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	resp, err := c.AwaitResponse(ctx, id, budget)
	if err != nil {
		return nil, err
	}
	if exc, ok := asException(resp); ok {
		return nil, &ProtocolError{Op: msg.MessageType().String(), Code: exc.Code, Message: exc.Message}
	}
	return resp, nil
}

func asException(msg Message) (ProtocolException, bool) {
	switch m := msg.(type) {
	case ProtocolException:
		return m, true
	case *ProtocolException:
		return *m, true
	default:
		return ProtocolException{}, false
	}
}

// Pending returns the number of requests still awaiting a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) budget(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	if d = c.ch.Timeout(); d > 0 {
		return d
	}
	return DefaultTimeout
}
