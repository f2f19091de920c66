package loopback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingServer acknowledges every put and remembers what it served.
type recordingServer struct {
	mu     sync.Mutex
	served []hdfproxy.Message
}

func (s *recordingServer) Serve(_ context.Context, msg hdfproxy.Message) hdfproxy.Message {
	s.mu.Lock()
	s.served = append(s.served, msg)
	s.mu.Unlock()
	switch m := msg.(type) {
	case hdfproxy.GetDataArrayMetadata:
		return hdfproxy.GetDataArrayMetadataResponse{Metadata: hdfproxy.ArrayMetadata{
			Dimensions:    []int64{int64(len(m.ID.PathInResource))},
			TransportType: hdfproxy.TransportInt64,
		}}
	case hdfproxy.PutDataSubarrays:
		return hdfproxy.PutDataSubarraysResponse{Success: true}
	case hdfproxy.PutDataArrays:
		return hdfproxy.PutDataArraysResponse{Success: true}
	default:
		return hdfproxy.ProtocolException{Code: hdfproxy.ExceptionInvalidArgument, Message: "unsupported"}
	}
}

func (s *recordingServer) messages() []hdfproxy.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]hdfproxy.Message, len(s.served))
	copy(out, s.served)
	return out
}

func newOpenChannel(t *testing.T, srv Server, opts ...Option) *Channel {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	ch, err := New(srv, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ch.Open(t.Context()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestFrame_RoundTrip(t *testing.T) {
	msg := hdfproxy.PutDataSubarrays{
		ID:     hdfproxy.BuildIdentifier("eml:///r", "/g/a"),
		Starts: []int64{0, 4},
		Counts: []int64{2, 2},
		Data:   hdfproxy.AnyArray{Type: hdfproxy.TransportFloat, Floats: []float32{1, 2, 3, 4}},
	}
	hdr := hdfproxy.HeaderFor(msg)

	data, err := EncodeFrame(hdr, 7, msg)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	gotHdr, id, got, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if gotHdr != hdr || id != 7 {
		t.Errorf("header = %+v id %d, want %+v id 7", gotHdr, id, hdr)
	}
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("message = %+v, want %+v", got, msg)
	}
}

func TestDecodeFrame_Errors(t *testing.T) {
	if _, _, _, err := DecodeFrame(nil); err == nil {
		t.Error("expected error for empty frame")
	}
	if _, _, _, err := DecodeFrame([]byte{0xc1}); err == nil {
		t.Error("expected error for garbage frame")
	}

	data, err := EncodeFrame(hdfproxy.Header{MessageType: 99}, 1, hdfproxy.PutDataArraysResponse{})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if _, _, _, err := DecodeFrame(data); !errors.Is(err, hdfproxy.ErrProtocol) {
		t.Errorf("expected ErrProtocol for unknown type, got %v", err)
	}
}

func TestChannel_SendWithHandler_DeliversResponse(t *testing.T) {
	srv := &recordingServer{}
	ch := newOpenChannel(t, srv)

	got := make(chan hdfproxy.Message, 1)
	msg := hdfproxy.GetDataArrayMetadata{ID: hdfproxy.BuildIdentifier("eml:///r", "/abc")}
	id, err := ch.SendWithHandler(t.Context(), msg, hdfproxy.HeaderFor(msg), func(m hdfproxy.Message, err error) {
		if err != nil {
			t.Errorf("handler error: %v", err)
		}
		got <- m
	})
	if err != nil {
		t.Fatalf("SendWithHandler: %v", err)
	}
	if id <= 0 {
		t.Errorf("request id = %d", id)
	}

	select {
	case m := <-got:
		resp, ok := m.(hdfproxy.GetDataArrayMetadataResponse)
		if !ok {
			t.Fatalf("response type %T", m)
		}
		if resp.Metadata.Dimensions[0] != 4 {
			t.Errorf("dimensions = %v", resp.Metadata.Dimensions)
		}
	case <-time.After(time.Second):
		t.Fatal("no response")
	}
	if ch.IsStillProcessing(id) {
		t.Error("answered request still processing")
	}
}

func TestChannel_ServesInSendOrder(t *testing.T) {
	srv := &recordingServer{}
	ch := newOpenChannel(t, srv)

	for i := range 20 {
		msg := hdfproxy.PutDataSubarrays{Starts: []int64{int64(i)}, Counts: []int64{1}}
		if err := ch.Send(t.Context(), msg, hdfproxy.HeaderFor(msg)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	// A handled request queued last completes after everything before it.
	done := make(chan struct{})
	last := hdfproxy.PutDataArrays{}
	if _, err := ch.SendWithHandler(t.Context(), last, hdfproxy.HeaderFor(last), func(hdfproxy.Message, error) {
		close(done)
	}); err != nil {
		t.Fatalf("SendWithHandler: %v", err)
	}
	<-done

	served := srv.messages()
	if len(served) != 21 {
		t.Fatalf("served %d messages, want 21", len(served))
	}
	for i, m := range served[:20] {
		if m.(hdfproxy.PutDataSubarrays).Starts[0] != int64(i) {
			t.Fatalf("message %d served out of order", i)
		}
	}
	if n := len(ch.Sent()); n != 21 {
		t.Errorf("Sent() has %d records, want 21", n)
	}
}

func TestChannel_MaxFrameSize(t *testing.T) {
	ch := newOpenChannel(t, &recordingServer{}, WithMaxFrameSize(64))

	msg := hdfproxy.PutDataArrays{
		Dimensions: []int64{100},
		Data:       hdfproxy.AnyArray{Type: hdfproxy.TransportDouble, Doubles: make([]float64, 100)},
	}
	if err := ch.Send(t.Context(), msg, hdfproxy.HeaderFor(msg)); !errors.Is(err, hdfproxy.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if n := len(ch.Sent()); n != 0 {
		t.Errorf("oversized frame recorded (%d records)", n)
	}
}

func TestChannel_DropResponses_CloseFailsHandlers(t *testing.T) {
	ch, err := New(&recordingServer{}, WithDropResponses(), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ch.Open(t.Context()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	errs := make(chan error, 1)
	msg := hdfproxy.GetDataArrayMetadata{}
	id, err := ch.SendWithHandler(t.Context(), msg, hdfproxy.HeaderFor(msg), func(_ hdfproxy.Message, err error) {
		errs <- err
	})
	if err != nil {
		t.Fatalf("SendWithHandler: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if !ch.IsStillProcessing(id) {
		t.Error("dropped request must stay in flight")
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not called on close")
	}
}

func TestChannel_SendOnClosed(t *testing.T) {
	ch, err := New(&recordingServer{}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ch.IsOpen() {
		t.Fatal("new channel must start closed")
	}
	msg := hdfproxy.PutDataArrays{}
	if err := ch.Send(t.Context(), msg, hdfproxy.HeaderFor(msg)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	// Open, close, reopen.
	for range 2 {
		if err := ch.Open(t.Context()); err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := ch.Send(t.Context(), msg, hdfproxy.HeaderFor(msg)); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if err := ch.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestChannel_WithCorrelator(t *testing.T) {
	ch := newOpenChannel(t, &recordingServer{}, WithLatency(time.Millisecond))
	c := hdfproxy.NewCorrelator(ch, quietLogger(), nil)

	_, err := c.Call(t.Context(), hdfproxy.PutUninitializedDataArrays{}, time.Second)
	var pe *hdfproxy.ProtocolError
	if !errors.As(err, &pe) || pe.Code != hdfproxy.ExceptionInvalidArgument {
		t.Fatalf("expected remote exception, got %v", err)
	}
}

func TestChannel_TimeoutWithDroppedResponses(t *testing.T) {
	ch := newOpenChannel(t, &recordingServer{}, WithDropResponses(), WithTimeout(30*time.Millisecond))
	c := hdfproxy.NewCorrelator(ch, quietLogger(), nil)

	_, err := c.Call(t.Context(), hdfproxy.GetDataArrayMetadata{}, 0)
	var te *hdfproxy.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if te.Budget != 30*time.Millisecond || !te.StillProcessing {
		t.Errorf("timeout error = %+v", te)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil server")
	}
	for _, opt := range []Option{WithMaxFrameSize(0), WithQueueSize(-1), WithTimeout(0), WithLatency(-time.Second), WithLogger(nil)} {
		if _, err := New(&recordingServer{}, opt); err == nil {
			t.Error("expected option error")
		}
	}
}
