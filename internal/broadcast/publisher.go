// Package broadcast pushes refreshed dashboard state to live listeners.
package broadcast

import (
	"context"
	"errors"
	"fmt"
)

// TopicLatest carries the serialized latest-state view.
const TopicLatest = "latest"

// Publisher delivers a payload to whoever listens on topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, topic string, payload []byte) error

func (f PublisherFunc) Publish(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}

// Fanout publishes to every member and joins their errors. One failing member
// does not stop the others.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for i, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
