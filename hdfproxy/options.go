package hdfproxy

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxArraySize is the payload ceiling used when WithMaxArraySize is
// not given: 4 MB of source bytes per message.
const DefaultMaxArraySize int64 = 4_000_000

// -----------------------------------------------------------------------------
// Proxy Configuration
// -----------------------------------------------------------------------------

// proxyConfig holds the resolved configuration for a proxy.
type proxyConfig struct {
	maxArraySize int64
	timeout      time.Duration
	policy       SplitPolicy
	logger       *slog.Logger
	metrics      Metrics
}

// Option configures proxy construction.
type Option interface {
	applyProxy(*proxyConfig) error
}

// maxArraySizeOption implements Option for WithMaxArraySize.
type maxArraySizeOption struct {
	size int64
}

// WithMaxArraySize sets the payload ceiling, in source bytes, above which
// arrays are declared first and then written as sub-arrays.
// Default: DefaultMaxArraySize.
func WithMaxArraySize(size int64) Option {
	return &maxArraySizeOption{size: size}
}

func (o *maxArraySizeOption) applyProxy(cfg *proxyConfig) error {
	if o.size <= 0 {
		return fmt.Errorf("WithMaxArraySize(%d): %w", o.size, ErrInvalidArgument)
	}
	cfg.maxArraySize = o.size
	return nil
}

// timeoutOption implements Option for WithTimeout.
type timeoutOption struct {
	timeout time.Duration
}

// WithTimeout sets the wait budget for blocking calls.
// Default: the channel's Timeout(), then DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return &timeoutOption{timeout: d}
}

func (o *timeoutOption) applyProxy(cfg *proxyConfig) error {
	if o.timeout <= 0 {
		return fmt.Errorf("WithTimeout(%s): %w", o.timeout, ErrInvalidArgument)
	}
	cfg.timeout = o.timeout
	return nil
}

// splitPolicyOption implements Option for WithSplitPolicy.
type splitPolicyOption struct {
	policy SplitPolicy
}

// WithSplitPolicy selects how oversized arrays are cut.
// Default: SplitHalve.
//
// The policies differ in leaf count. 1000 doubles under a 100 byte ceiling
// become 128 leaves of 7 or 8 elements with SplitHalve, and 84 leaves of at
// most 12 with SplitPack.
func WithSplitPolicy(p SplitPolicy) Option {
	return &splitPolicyOption{policy: p}
}

func (o *splitPolicyOption) applyProxy(cfg *proxyConfig) error {
	if o.policy != SplitHalve && o.policy != SplitPack {
		return fmt.Errorf("WithSplitPolicy(%d): %w", o.policy, ErrInvalidArgument)
	}
	cfg.policy = o.policy
	return nil
}

// loggerOption implements Option for WithLogger.
type loggerOption struct {
	logger *slog.Logger
}

// WithLogger sets the proxy logger.
// Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return &loggerOption{logger: l}
}

func (o *loggerOption) applyProxy(cfg *proxyConfig) error {
	if o.logger == nil {
		return errors.New("WithLogger: logger must not be nil")
	}
	cfg.logger = o.logger
	return nil
}

// metricsOption implements Option for WithMetrics.
type metricsOption struct {
	metrics Metrics
}

// WithMetrics sets the metrics sink.
// Default: none.
func WithMetrics(m Metrics) Option {
	return &metricsOption{metrics: m}
}

func (o *metricsOption) applyProxy(cfg *proxyConfig) error {
	if o.metrics == nil {
		return errors.New("WithMetrics: metrics must not be nil")
	}
	cfg.metrics = o.metrics
	return nil
}
