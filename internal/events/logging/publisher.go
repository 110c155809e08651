// Package logging publishes engine events to the log when no broker is
// configured.
package logging

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-engine/internal/logger"
)

type Publisher struct {
	log zerolog.Logger
}

func NewPublisher(log zerolog.Logger) *Publisher {
	return &Publisher{log: logger.Component(log, "events")}
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.log.Debug().Str("topic", topic).RawJSON("event", data).Msg("event published")
	return nil
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
