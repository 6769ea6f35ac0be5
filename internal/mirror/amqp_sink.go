package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"stream-bridge/internal/common/errors"
)

// AMQPChannel is the subset of *amqp.Channel the sink uses.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes messages to a durable topic exchange with routing key
// "tweet.<username>".
type AMQPSink struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       AMQPChannel
	exchange string
}

// DialAMQP connects to url and declares exchange.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.ConnectionError("failed to connect to AMQP broker", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.ConnectionError("failed to open AMQP channel", err)
	}

	sink, err := NewAMQPSink(ch, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}
	sink.conn = conn
	return sink, nil
}

// NewAMQPSink declares exchange on ch and returns a sink publishing to it.
func NewAMQPSink(ch AMQPChannel, exchange string) (*AMQPSink, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, errors.ConnectionError(fmt.Sprintf("failed to declare exchange %s", exchange), err)
	}
	return &AMQPSink{ch: ch, exchange: exchange}, nil
}

func (s *AMQPSink) Name() string {
	return "amqp"
}

func (s *AMQPSink) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.InternalError("failed to encode mirror message", err)
	}

	key := "tweet.unknown"
	if msg.Username != "" {
		key = "tweet." + msg.Username
	}

	// amqp.Channel is not safe for concurrent publishing.
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.ch.Publish(s.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.TweetID,
		Timestamp:    msg.ReceivedAt,
		Body:         body,
	})
	if err != nil {
		return errors.ConnectionError("failed to publish to AMQP exchange", err)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.ch.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
