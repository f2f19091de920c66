package loopback

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxFrameSize is the largest frame accepted when WithMaxFrameSize
// is not given.
const DefaultMaxFrameSize = 16 << 20

// DefaultQueueSize is the number of frames that may wait for the worker.
const DefaultQueueSize = 256

type channelConfig struct {
	maxFrameSize  int
	latency       time.Duration
	dropResponses bool
	timeout       time.Duration
	queueSize     int
	logger        *slog.Logger
}

// Option configures a loopback channel.
type Option interface {
	applyChannel(*channelConfig) error
}

type optionFunc func(*channelConfig) error

func (f optionFunc) applyChannel(cfg *channelConfig) error { return f(cfg) }

// WithMaxFrameSize rejects frames larger than n bytes with an error
// matching hdfproxy.ErrProtocol.
// Default: DefaultMaxFrameSize.
func WithMaxFrameSize(n int) Option {
	return optionFunc(func(cfg *channelConfig) error {
		if n <= 0 {
			return fmt.Errorf("WithMaxFrameSize(%d): must be positive", n)
		}
		cfg.maxFrameSize = n
		return nil
	})
}

// WithLatency delays the delivery of every frame to the server.
func WithLatency(d time.Duration) Option {
	return optionFunc(func(cfg *channelConfig) error {
		if d < 0 {
			return fmt.Errorf("WithLatency(%s): must not be negative", d)
		}
		cfg.latency = d
		return nil
	})
}

// WithDropResponses serves requests but never answers them. Handlers stay
// in flight until the channel is closed.
func WithDropResponses() Option {
	return optionFunc(func(cfg *channelConfig) error {
		cfg.dropResponses = true
		return nil
	})
}

// WithTimeout sets the wait budget reported by Timeout.
// Default: hdfproxy.DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(cfg *channelConfig) error {
		if d <= 0 {
			return fmt.Errorf("WithTimeout(%s): must be positive", d)
		}
		cfg.timeout = d
		return nil
	})
}

// WithQueueSize sets how many frames may wait for the worker before Send
// blocks.
// Default: DefaultQueueSize.
func WithQueueSize(n int) Option {
	return optionFunc(func(cfg *channelConfig) error {
		if n <= 0 {
			return fmt.Errorf("WithQueueSize(%d): must be positive", n)
		}
		cfg.queueSize = n
		return nil
	})
}

// WithLogger sets the channel logger.
// Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(cfg *channelConfig) error {
		if l == nil {
			return errors.New("WithLogger: logger must not be nil")
		}
		cfg.logger = l
		return nil
	})
}
