package channels

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

// PubSubSender publishes alert text to a Pub/Sub topic with the target as an
// attribute.
type PubSubSender struct {
	publisher publisher
}

func NewPubSubSender(p *gcppubsub.Publisher) (*PubSubSender, error) {
	if p == nil {
		return nil, errors.New("pubsub publisher is required")
	}
	return &PubSubSender{publisher: &gcpPublisher{Publisher: p}}, nil
}

func (s *PubSubSender) Send(ctx context.Context, target, text string) error {
	res := s.publisher.Publish(ctx, &gcppubsub.Message{
		Data: []byte(text),
		Attributes: map[string]string{
			"target": target,
		},
	})
	if res == nil {
		return errors.New("publish result is nil")
	}
	_, err := res.Get(ctx)
	return err
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
