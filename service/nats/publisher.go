package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tokenburn/service/burn"
	"github.com/brojonat/tokenburn/service/metrics"
	"github.com/nats-io/nats.go"
)

// Publisher defines the interface for publishing burn outcomes to NATS.
type Publisher interface {
	// PublishBurn publishes a single burn event.
	// The event is published to the subject "{prefix}.{state}".
	PublishBurn(ctx context.Context, event *BurnEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// CorePublisher publishes burn events with core NATS. Outcomes are notifications
// for live subscribers, so nothing is retained server side.
type CorePublisher struct {
	nc      *nats.Conn
	prefix  string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// flushTimeout bounds how long a publish waits for the server to acknowledge the flush.
const flushTimeout = 5 * time.Second

// NewPublisher connects to NATS. Events go to subjects under prefix.
// If metrics is nil, no metrics will be recorded.
func NewPublisher(natsURL, prefix string, m *metrics.Metrics, logger *slog.Logger) (*CorePublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("tokenburn-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"subject_prefix", prefix,
	)

	return &CorePublisher{
		nc:      nc,
		prefix:  prefix,
		logger:  logger,
		metrics: m,
	}, nil
}

// Subject returns the subject a burn event with the given state is published to.
func Subject(prefix, state string) string {
	return prefix + "." + state
}

// PublishBurn publishes a single burn event and flushes it to the server.
func (p *CorePublisher) PublishBurn(ctx context.Context, event *BurnEvent) error {
	subject := Subject(p.prefix, event.State)
	start := time.Now()

	err := p.publish(ctx, subject, event)

	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published burn event",
		"subject", subject,
		"burn_id", event.ID,
		"signature", event.Signature,
	)
	return nil
}

func (p *CorePublisher) publish(ctx context.Context, subject string, event *BurnEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal burn event: %w", err)
	}

	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish burn event: %w", err)
	}

	// FlushWithContext requires a deadline.
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush burn event: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection to NATS.
func (p *CorePublisher) Close() error {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
			return fmt.Errorf("failed to drain NATS connection: %w", err)
		}
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

// Notifier returns an engine finish hook that publishes every terminal result.
// Publish failures are logged and never change the burn's outcome.
func Notifier(p Publisher, logger *slog.Logger) func(context.Context, *burn.Result) {
	return func(ctx context.Context, res *burn.Result) {
		if res == nil {
			return
		}
		event := FromResult(res)
		if err := p.PublishBurn(ctx, event); err != nil {
			logger.ErrorContext(ctx, "failed to publish burn outcome",
				"burn_id", res.ID,
				"state", event.State,
				"signature", res.Signature,
				"error", err,
			)
		}
	}
}
