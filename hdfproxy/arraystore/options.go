package arraystore

import (
	"errors"
	"log/slog"
)

type serviceConfig struct {
	codec      BlockCodec
	compressor Compressor
	logger     *slog.Logger
}

// Option configures a Service.
type Option interface {
	applyService(*serviceConfig) error
}

type optionFunc func(*serviceConfig) error

func (f optionFunc) applyService(cfg *serviceConfig) error { return f(cfg) }

// WithBlockCodec sets the codec new arrays store their blocks with.
// Arrays keep the codec recorded in their manifest.
// Default: msgpack.
func WithBlockCodec(c BlockCodec) Option {
	return optionFunc(func(cfg *serviceConfig) error {
		if c == nil {
			return errors.New("WithBlockCodec: codec must not be nil")
		}
		cfg.codec = c
		return nil
	})
}

// WithCompressor sets the compressor new arrays store their blocks with.
// Default: no compression.
func WithCompressor(c Compressor) Option {
	return optionFunc(func(cfg *serviceConfig) error {
		if c == nil {
			return errors.New("WithCompressor: compressor must not be nil")
		}
		cfg.compressor = c
		return nil
	})
}

// WithLogger sets the service logger.
// Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(cfg *serviceConfig) error {
		if l == nil {
			return errors.New("WithLogger: logger must not be nil")
		}
		cfg.logger = l
		return nil
	})
}
