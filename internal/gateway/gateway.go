// Package gateway delivers a single notification message to an outbound
// provider.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"walkin-queue/internal/models"
)

// Gateway sends one message. Implementations are safe for concurrent use.
type Gateway interface {
	Send(ctx context.Context, msg models.Message) error
}

// Providers
const (
	ProviderLog  = "log"
	ProviderAMQP = "amqp"
)

// Config selects and configures a provider.
type Config struct {
	Provider    string
	FromEmail   string
	FromPhone   string
	AMQPURL     string
	Exchange    string
	RoutingBase string
}

// New resolves the configured provider. The returned close function
// releases provider resources.
func New(cfg Config, log *slog.Logger) (Gateway, func() error, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderLog:
		return NewLogGateway(log, cfg.FromEmail, cfg.FromPhone), func() error { return nil }, nil
	case ProviderAMQP:
		gw, err := DialAMQP(cfg.AMQPURL, cfg.Exchange, cfg.RoutingBase, cfg.FromEmail, cfg.FromPhone)
		if err != nil {
			return nil, nil, err
		}
		return gw, gw.Close, nil
	default:
		return nil, nil, fmt.Errorf("gateway: unknown provider %q", cfg.Provider)
	}
}

// LogGateway simulates delivery by logging each message.
type LogGateway struct {
	log       *slog.Logger
	fromEmail string
	fromPhone string
}

func NewLogGateway(log *slog.Logger, fromEmail, fromPhone string) *LogGateway {
	if log == nil {
		log = slog.Default()
	}
	return &LogGateway{log: log.With("component", "gateway"), fromEmail: fromEmail, fromPhone: fromPhone}
}

func (g *LogGateway) Send(_ context.Context, msg models.Message) error {
	from := msg.From
	if from == "" {
		from = senderFor(msg.Channel, g.fromEmail, g.fromPhone)
	}
	g.log.Info("[SIMULATED] message delivered",
		"channel", msg.Channel,
		"from", from,
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
	)
	return nil
}

func senderFor(ch models.Channel, email, phone string) string {
	if ch == models.ChannelSMS {
		return phone
	}
	return email
}
