package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to the launchpad JetStream subjects and feeds
// raw messages into the engine loop via rawChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawMessage
	consumers []jetstream.ConsumeContext
}

// RawMessage is a parsed-but-untyped message from NATS. The engine loop
// parses and applies it, then ACKs on success or NAKs for redelivery.
type RawMessage struct {
	Subject   string
	Kind      string // "TradeExecuted" or "TokenCreated"
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
}

// SubjectConfig maps a NATS subject to a message kind.
type SubjectConfig struct {
	Subject      string
	Kind         string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard inbound subject configuration.
// Token creations and trades ride separate streams so trade volume never
// delays creation delivery.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "launch.tokens.created.>", Kind: "TokenCreated", ConsumerName: "curve-tokens", StreamName: "LAUNCH_TOKENS"},
		{Subject: "launch.trades.executed.>", Kind: "TradeExecuted", ConsumerName: "curve-trades", StreamName: "LAUNCH_TRADES"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawMessage) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		kind := cfg.Kind
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawMessage{
				Subject:   msg.Subject(),
				Kind:      kind,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required inbound JetStream streams if they
// don't exist. FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "LAUNCH_TOKENS",
			Subjects:  []string{"launch.tokens.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LAUNCH_TRADES",
			Subjects:  []string{"launch.trades.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
