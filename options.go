// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package drainloop

import (
	"github.com/joeycumines/logiface"
)

// options holds configuration for Executor creation.
type options struct {
	logger         *logiface.Logger[logiface.Event]
	metricsEnabled bool
}

// Option configures an Executor instance.
type Option interface {
	apply(*options) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*options) error
}

func (o *optionImpl) apply(opts *options) error {
	return o.applyFunc(opts)
}

// WithLogger attaches a structured logger to the executor. Acquire and
// state-change events are logged at trace level, drain passes and
// handle finalization at debug level. A nil logger disables logging
// (the default).
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Executor.
// When enabled, metrics can be accessed via Executor.Metrics().
// This adds minimal overhead (a latency sample per executed task and a
// depth observation per enqueue). Disabled by default.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *options) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to options.
func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
