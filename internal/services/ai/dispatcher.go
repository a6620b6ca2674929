package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fabell4/marion/internal/middleware"
	"github.com/fabell4/marion/internal/models"
	"github.com/sirupsen/logrus"
)

// Dispatch errors the HTTP layer maps to status codes
var (
	ErrNoProvider           = errors.New("no provider configured")
	ErrStreamingUnavailable = errors.New("streaming not available with the configured providers")
)

// Dispatcher sends a shaped conversation to an ordered list of providers
// and stops at the first success. With the usual two-provider setup this
// is exactly one fallback attempt; there are no retries beyond that.
type Dispatcher struct {
	providers []Provider
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewDispatcher creates a dispatcher over the configured providers,
// ordered by priority.
func NewDispatcher(providers []Provider, metrics *middleware.Metrics, logger *logrus.Logger) *Dispatcher {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	logger.WithField("providers", names).Info("Provider dispatcher initialized")

	return &Dispatcher{
		providers: providers,
		metrics:   metrics,
		logger:    logger,
	}
}

// Dispatch tries each provider in order and returns the first reply.
// The returned error wraps the most recent provider failure.
func (d *Dispatcher) Dispatch(ctx context.Context, messages []models.Message, opts Options) (*models.ChatReply, error) {
	if len(d.providers) == 0 {
		return nil, ErrNoProvider
	}

	var lastErr error
	for _, provider := range d.providers {
		start := time.Now()
		reply, err := provider.Send(ctx, messages, opts)
		if err != nil {
			d.metrics.RecordProviderRequest(provider.Name(), "error", time.Since(start))
			d.logger.WithError(err).WithField("provider", provider.Name()).Warn("Provider request failed")
			lastErr = err
			if ctx.Err() != nil {
				// The caller is gone or out of time; a fallback attempt
				// would fail the same way.
				break
			}
			continue
		}

		d.metrics.RecordProviderRequest(provider.Name(), "success", time.Since(start))
		return reply, nil
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// Stream dispatches to the first provider that supports streaming.
// Providers without streaming support are skipped rather than attempted.
func (d *Dispatcher) Stream(ctx context.Context, messages []models.Message, opts Options) (<-chan StreamEvent, error) {
	if len(d.providers) == 0 {
		return nil, ErrNoProvider
	}

	for _, provider := range d.providers {
		streamer, ok := provider.(Streamer)
		if !ok {
			continue
		}

		events, err := streamer.Stream(ctx, messages, opts)
		if err != nil {
			d.metrics.RecordProviderRequest(streamer.Name(), "error", 0)
			return nil, fmt.Errorf("stream dispatch failed: %w", err)
		}
		return events, nil
	}

	return nil, ErrStreamingUnavailable
}
