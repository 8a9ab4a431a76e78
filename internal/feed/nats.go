package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSSubscriber applies ticks published on a NATS subject such as
// "prices.>" (one subject per symbol, e.g. prices.AAPL).
type NATSSubscriber struct {
	nc      *nats.Conn
	subject string
	sink    Sink
	logger  *slog.Logger
}

// NewNATSSubscriber connects to the NATS server at url.
func NewNATSSubscriber(url, subject string, sink Sink, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(url,
		nats.Name("trade-engine"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSSubscriber{nc: nc, subject: subject, sink: sink, logger: logger}, nil
}

// Run consumes ticks until ctx is cancelled.
func (s *NATSSubscriber) Run(ctx context.Context) error {
	ch := make(chan *nats.Msg, 256)
	sub, err := s.nc.ChanSubscribe(s.subject, ch)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	defer sub.Unsubscribe() //nolint:errcheck

	s.logger.Info("nats tick subscriber started", "subject", s.subject)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-ch:
			apply(ctx, s.sink, s.logger, "nats", m.Data)
		}
	}
}

// Close drains and closes the connection.
func (s *NATSSubscriber) Close() {
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
	}
}
