// Package cmd provides shared initialization for the command-line
// entrypoints: event bus and persistence wiring from configuration.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/nivio/flowd/pkg/channels/gochannel"
	"github.com/nivio/flowd/pkg/channels/kafka"
	"github.com/nivio/flowd/pkg/eventbus"
)

// NewEventBus wires the event bus for the given provider. "kafka" requires
// KAFKA_BROKERS; "gochannel" is the in-process bus for development and
// single-node deployments.
func NewEventBus(provider string, logger *slog.Logger) (eventbus.EventBus, error) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "flowd")
		if err != nil {
			return nil, fmt.Errorf("create kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create gochannel pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
