// Package jobs publishes asynchronous work and analytics events to Pub/Sub.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
)

// SearchEventPublisher publishes search.completed events.
type SearchEventPublisher struct {
	topic *pubsub.Topic
}

func NewSearchEventPublisher(topic *pubsub.Topic) (*SearchEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("jobs: search event topic is required")
	}
	return &SearchEventPublisher{topic: topic}, nil
}

// PublishSearchCompleted blocks until Pub/Sub acknowledges the event and returns the
// server-assigned message ID.
func (p *SearchEventPublisher) PublishSearchCompleted(ctx context.Context, event domain.SearchEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("jobs: marshal search event: %w", err)
	}
	attrs := map[string]string{
		"eventType":     "search.completed",
		"eventId":       event.ID,
		"source":        string(event.Source),
		"wasSuccessful": strconv.FormatBool(event.WasSuccessful),
	}
	if event.SafetyLevel != "" {
		attrs["safetyLevel"] = string(event.SafetyLevel)
	}
	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("jobs: publish search event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *SearchEventPublisher) Stop() {
	p.topic.Stop()
}
