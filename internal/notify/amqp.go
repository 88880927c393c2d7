package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSink publishes notifications to a durable topic exchange with routing
// keys of the form notify.<kind>, so consumers can bind to warnings and
// received-messages independently.
type AMQPSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPSink dials the broker and declares the exchange.
func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPSink{conn: conn, ch: ch, exchange: exchange}, nil
}

// Deliver implements Sink.
func (s *AMQPSink) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = s.ch.PublishWithContext(ctx,
		s.exchange,
		fmt.Sprintf("notify.%s", n.Kind),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    n.JobID,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() error {
	if s.ch != nil {
		s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
