package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"walkin-queue/internal/models"
)

const publishTimeout = 5 * time.Second

// Publisher is the subset of *amqp.Channel the gateway uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPGateway hands messages to a broker; a mailer or SMS worker consumes
// them. Routing key is "<base>.<channel>".
type AMQPGateway struct {
	mu          sync.Mutex
	conn        *amqp.Connection
	pub         Publisher
	exchange    string
	routingBase string
	fromEmail   string
	fromPhone   string
}

// DialAMQP connects and declares a durable topic exchange.
func DialAMQP(url, exchange, routingBase, fromEmail, fromPhone string) (*AMQPGateway, error) {
	const op = "gateway.DialAMQP"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	err = ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: declare exchange: %w", op, err)
	}

	gw := NewAMQPGateway(ch, exchange, routingBase, fromEmail, fromPhone)
	gw.conn = conn
	return gw, nil
}

// NewAMQPGateway wraps an existing channel.
func NewAMQPGateway(pub Publisher, exchange, routingBase, fromEmail, fromPhone string) *AMQPGateway {
	if routingBase == "" {
		routingBase = "notify"
	}
	return &AMQPGateway{
		pub:         pub,
		exchange:    exchange,
		routingBase: routingBase,
		fromEmail:   fromEmail,
		fromPhone:   fromPhone,
	}
}

func (g *AMQPGateway) Send(ctx context.Context, msg models.Message) error {
	const op = "gateway.AMQPGateway.Send"

	if msg.From == "" {
		msg.From = senderFor(msg.Channel, g.fromEmail, g.fromPhone)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// amqp channels are not safe for concurrent publishes.
	g.mu.Lock()
	defer g.mu.Unlock()

	err = g.pub.PublishWithContext(ctx, g.exchange, g.routingBase+"."+string(msg.Channel), false, false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close closes the broker connection, if the gateway owns one.
func (g *AMQPGateway) Close() error {
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}
