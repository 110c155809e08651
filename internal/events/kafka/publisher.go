package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces"
)

const DefaultTopicPrefix = "card_ledger"

// keyed events choose their partition key.
type keyed interface {
	Key() string
}

type Publisher struct {
	writer *kafka.Writer
	prefix string
}

// NewPublisher writes to <prefix>.<topic> on brokers. The topic is set per
// message, so the writer itself carries none.
func NewPublisher(brokers []string, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		prefix: prefix,
	}
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	msg, err := p.message(topic, event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) message(topic string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Topic: p.Topic(topic),
		Value: data,
	}
	if k, ok := event.(keyed); ok {
		msg.Key = []byte(k.Key())
	}
	return msg, nil
}

// Topic returns the full topic name an event is written to.
func (p *Publisher) Topic(topic string) string {
	return p.prefix + "." + strings.TrimPrefix(topic, p.prefix+".")
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
