// Package notify fans lifecycle transitions out to every interested sink.
package notify

import (
	"context"
	"errors"

	"ms-eventchain/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, evt models.DomainEvent) error
}

// Fanout delivers to each publisher in order. A failing sink does not stop
// the others; all errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt models.DomainEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type PublisherFunc func(ctx context.Context, evt models.DomainEvent) error

func (fn PublisherFunc) Publish(ctx context.Context, evt models.DomainEvent) error {
	return fn(ctx, evt)
}

// Nop discards events.
var Nop Publisher = PublisherFunc(func(context.Context, models.DomainEvent) error { return nil })
