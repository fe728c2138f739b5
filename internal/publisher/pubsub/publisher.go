// Package pubsub publishes completion notices to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// ContentTypeAttr is the message attribute carrying the payload encoding.
const ContentTypeAttr = "content-type"

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	Stop()
}

type topicAdapter struct {
	topic *pubsub.Topic
}

func (a topicAdapter) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return a.topic.Publish(ctx, msg)
}

func (a topicAdapter) Stop() { a.topic.Stop() }

// Publisher sends JSON payloads to a single topic.
type Publisher struct {
	client *pubsub.Client
	topic  topicPublisher
	name   string
}

// New dials Pub/Sub and binds the publisher to topicID. The topic must exist.
func New(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	return &Publisher{client: client, topic: topicAdapter{topic: topic}, name: topicID}, nil
}

func newWithTopic(name string, topic topicPublisher) *Publisher {
	return &Publisher{topic: topic, name: name}
}

// Publish marshals payload to JSON and waits for the server-assigned ID. The
// topic argument is recorded as an attribute; the bound topic is always used.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{ContentTypeAttr: "application/json"},
	}
	if topic != "" && topic != p.name {
		msg.Attributes["requested-topic"] = topic
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
