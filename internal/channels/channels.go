// Package channels delivers alert text through the configured transports.
package channels

import (
	"context"
	"fmt"

	"github.com/angelmondragon/kiosk-backend/pkg/config"
	"github.com/angelmondragon/kiosk-backend/pkg/enums"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
	"github.com/angelmondragon/kiosk-backend/pkg/pubsub"
)

// Sender delivers text to a single transport.
type Sender interface {
	Send(ctx context.Context, target, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, target, text string) error

func (f SenderFunc) Send(ctx context.Context, target, text string) error {
	return f(ctx, target, text)
}

// Mux routes a send to the sender registered for the alert channel.
type Mux struct {
	senders map[enums.AlertChannel]Sender
}

func NewMux() *Mux {
	return &Mux{senders: map[enums.AlertChannel]Sender{}}
}

// Register binds sender to channel, replacing any previous binding.
func (m *Mux) Register(channel enums.AlertChannel, sender Sender) *Mux {
	if sender != nil {
		m.senders[channel] = sender
	}
	return m
}

// Has reports whether channel has a sender.
func (m *Mux) Has(channel enums.AlertChannel) bool {
	_, ok := m.senders[channel]
	return ok
}

func (m *Mux) Send(ctx context.Context, channel enums.AlertChannel, target, text string) error {
	sender, ok := m.senders[channel]
	if !ok {
		return fmt.Errorf("no sender registered for channel %q", channel)
	}
	return sender.Send(ctx, target, text)
}

// FromConfig registers the log sender plus every transport that has
// configuration. ps may be nil when Pub/Sub is not configured.
func FromConfig(cfg config.ChannelsConfig, logg *logger.Logger, ps *pubsub.Client) (*Mux, error) {
	mux := NewMux().Register(enums.ChannelLog, NewLogSender(logg))
	if cfg.WebhookURL != "" {
		webhook, err := NewWebhookSender(cfg.WebhookURL, cfg.WebhookTimeout)
		if err != nil {
			return nil, err
		}
		mux.Register(enums.ChannelWebhook, webhook)
	}
	if ps != nil && cfg.PubSubTopic != "" {
		sender, err := NewPubSubSender(ps.Publisher(cfg.PubSubTopic))
		if err != nil {
			return nil, err
		}
		mux.Register(enums.ChannelPubSub, sender)
	}
	return mux, nil
}
