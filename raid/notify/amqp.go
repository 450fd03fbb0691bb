package notify

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSink republishes events to a fanout exchange.
type AMQPSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// DialAMQP connects to the broker and declares a durable fanout exchange.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange}, nil
}

// Deliver is only called from the notifier worker, so the channel is never
// used concurrently.
func (s *AMQPSink) Deliver(ctx context.Context, e Event, payload []byte) error {
	return s.ch.PublishWithContext(ctx,
		s.exchange,     // exchange
		string(e.Kind), // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Type:         string(e.Kind),
			Timestamp:    e.At,
			Body:         payload,
		},
	)
}

func (s *AMQPSink) Close() error {
	if err := s.ch.Close(); err != nil {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}
