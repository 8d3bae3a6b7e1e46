package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

type nopBroker struct{}

// NopBroker drops every message. Used when no broker is configured.
func NopBroker() Broker { return nopBroker{} }

func (nopBroker) Publish(context.Context, string, interface{}) error { return nil }

func (nopBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (nopBroker) Close() error { return nil }
