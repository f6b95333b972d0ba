package queue

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// AMQPQueue publishes to and consumes from one durable RabbitMQ queue per
// topic, so separate processes can share notifications.
type AMQPQueue struct {
	conn *amqp.Connection

	mu      sync.Mutex
	pubChan *amqp.Channel
	subs    []*amqp.Channel
}

func NewAMQPQueue(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPQueue{conn: conn, pubChan: ch}, nil
}

func declare(ch *amqp.Channel, topic string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

func (q *AMQPQueue) Publish(topic string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := declare(q.pubChan, topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return q.pubChan.Publish(
		"",    // exchange
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         payload,
		},
	)
}

// Subscribe consumes the topic on its own channel. A failed message is
// requeued once and dropped on its second failure.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := declare(ch, topic); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("register consumer on %s: %w", topic, err)
	}

	q.mu.Lock()
	q.subs = append(q.subs, ch)
	q.mu.Unlock()

	go func() {
		for d := range msgs {
			if err := handler(d.Body); err != nil {
				log.Warn().Err(err).Str("topic", topic).Bool("redelivered", d.Redelivered).Msg("AMQP handler failed")
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
		log.Info().Str("topic", topic).Msg("AMQP consumer stopped")
	}()
	return nil
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subs {
		_ = ch.Close()
	}
	q.subs = nil
	_ = q.pubChan.Close()
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
