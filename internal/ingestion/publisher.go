package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"curveledger/internal/engine"
	"curveledger/internal/observability"
)

// OutboundPublisher drains engine notifications and publishes them for
// downstream consumers (feeds, indexers, the launchpad UI backend).
// Subjects follow the pattern launch.ledger.{kind}.{token_id}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan engine.Notification
	metrics   *observability.Metrics
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan engine.Notification, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, n); err != nil {
				// Non-fatal: consumers that miss a notification
				// recover by querying.
				log.Printf("WARN: outbound publish failed token=%s seq=%d: %v", n.TokenID, n.Seq, err)
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, n engine.Notification) error {
	subject, ok := subjectFor(n.Kind)
	if !ok {
		return fmt.Errorf("no outbound subject for kind %s", n.Kind)
	}

	data, err := json.Marshal(outboundJSON{
		Kind:         n.Kind.String(),
		TokenID:      n.TokenID,
		UserID:       n.UserID,
		Seq:          n.Seq,
		Notification: n,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if _, err := op.js.Publish(ctx, fmt.Sprintf("%s.%s", subject, n.TokenID), data); err != nil {
		return err
	}
	if op.metrics != nil {
		op.metrics.FeedBroadcasts.WithLabelValues(n.Kind.String()).Inc()
	}
	return nil
}

type outboundJSON struct {
	Kind         string              `json:"kind"`
	TokenID      string              `json:"token_id"`
	UserID       string              `json:"user_id,omitempty"`
	Seq          int64               `json:"seq"`
	Notification engine.Notification `json:"notification"`
}

func subjectFor(kind engine.NotificationKind) (string, bool) {
	switch kind {
	case engine.NotifyCurveUpdate, engine.NotifyGraduation, engine.NotifyBandChange:
		return "launch.ledger.curve", true
	case engine.NotifyTrade, engine.NotifyTokenCreated:
		return "launch.ledger.trades", true
	case engine.NotifyCandleBucket:
		return "launch.ledger.candles", true
	case engine.NotifyPnLUpdate:
		return "launch.ledger.pnl", true
	default:
		return "", false
	}
}

// EnsureOutboundStream creates the outbound notifications stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LAUNCH_LEDGER_EVENTS",
		Subjects:  []string{"launch.ledger.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream LAUNCH_LEDGER_EVENTS")
	return nil
}
