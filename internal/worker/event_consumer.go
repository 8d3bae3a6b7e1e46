package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jwalitptl/secure-auth/internal/model"
	"github.com/jwalitptl/secure-auth/pkg/logger"
	"github.com/jwalitptl/secure-auth/pkg/messaging"
)

// EventConsumer turns lockout events from the broker into audit log lines.
type EventConsumer struct {
	broker   messaging.Broker
	channel  string
	logger   *logger.Logger
	consumed *prometheus.CounterVec
}

func NewEventConsumer(broker messaging.Broker, channel string, log *logger.Logger, reg prometheus.Registerer) *EventConsumer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if log == nil {
		log = logger.Nop()
	}
	return &EventConsumer{
		broker:  broker,
		channel: channel,
		logger:  log.WithFields(map[string]interface{}{"channel": channel}),
		consumed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auth_events_consumed_total",
			Help: "Lockout events read from the broker",
		}, []string{"event_type", "status"}),
	}
}

// Run blocks until ctx is cancelled or the subscription closes.
func (c *EventConsumer) Run(ctx context.Context) error {
	msgs, err := c.broker.Subscribe(ctx, c.channel)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	c.logger.Info("event consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("event consumer stopping")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handle(msg)
		}
	}
}

func (c *EventConsumer) handle(payload []byte) {
	var evt model.LockoutEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		c.consumed.WithLabelValues("unknown", "malformed").Inc()
		c.logger.Error(err, "discarding malformed event")
		return
	}

	switch evt.Type {
	case model.EventAccountLocked:
		e := c.logger.ZL.Warn().
			Str("event_type", evt.Type).
			Str("record_id", evt.RecordID).
			Str("email", evt.Email).
			Int("failed_login_attempts", evt.Attempts).
			Time("occurred_at", evt.OccurredAt)
		if evt.LockedUntil != nil {
			e = e.Time("locked_until", *evt.LockedUntil)
		}
		e.Msg("audit: account locked")
	case model.EventPasswordChanged:
		c.logger.ZL.Info().
			Str("event_type", evt.Type).
			Str("record_id", evt.RecordID).
			Str("email", evt.Email).
			Time("occurred_at", evt.OccurredAt).
			Msg("audit: password changed")
	default:
		c.consumed.WithLabelValues(evt.Type, "ignored").Inc()
		c.logger.Debug("ignoring event", "event_type", evt.Type)
		return
	}
	c.consumed.WithLabelValues(evt.Type, "ok").Inc()
}
