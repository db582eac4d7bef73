package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/wagslane/go-rabbitmq"
)

const contentTypeMsgpack = "application/msgpack"

// amqpPublisher is the subset of *rabbitmq.Publisher used here.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, data []byte, routingKeys []string, optionFuncs ...func(*rabbitmq.PublishOptions)) error
	Close()
}

// RabbitPublisher sends msgpack-encoded events to a topic exchange, routed by event type.
type RabbitPublisher struct {
	conn      *rabbitmq.Conn
	publisher amqpPublisher
	exchange  string
}

// NewRabbitPublisher dials the broker and declares the exchange.
func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("events: amqp url is required")
	}
	if exchange == "" {
		exchange = "veo3.events"
	}
	conn, err := rabbitmq.NewConn(url, rabbitmq.WithConnectionOptionsLogging)
	if err != nil {
		return nil, fmt.Errorf("events: amqp connect: %w", err)
	}
	pub, err := rabbitmq.NewPublisher(conn,
		rabbitmq.WithPublisherOptionsLogging,
		rabbitmq.WithPublisherOptionsExchangeName(exchange),
		rabbitmq.WithPublisherOptionsExchangeKind("topic"),
		rabbitmq.WithPublisherOptionsExchangeDurable,
		rabbitmq.WithPublisherOptionsExchangeDeclare,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: amqp publisher: %w", err)
	}
	return &RabbitPublisher{conn: conn, publisher: pub, exchange: exchange}, nil
}

// Encode serializes an event body.
func Encode(event Event) ([]byte, error) {
	return msgpack.Marshal(event)
}

// Decode parses an event body produced by Encode.
func Decode(data []byte) (Event, error) {
	var event Event
	err := msgpack.Unmarshal(data, &event)
	return event, err
}

func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	body, err := Encode(event)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", event.Type, err)
	}
	return p.publisher.PublishWithContext(ctx, body, []string{event.Type},
		rabbitmq.WithPublishOptionsExchange(p.exchange),
		rabbitmq.WithPublishOptionsContentType(contentTypeMsgpack),
		rabbitmq.WithPublishOptionsPersistentDelivery,
	)
}

func (p *RabbitPublisher) Close() error {
	if p.publisher != nil {
		p.publisher.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
