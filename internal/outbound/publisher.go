package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/Ithil-protocol/liquidation-bot/internal/observability"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	DefaultStream = "LIQUIDATOR"

	intentSubjectPrefix  = "liquidator.intents."
	outcomeSubjectPrefix = "liquidator.outcomes."
)

// IntentMessage is published when the dispatcher receives an intent.
type IntentMessage struct {
	IntentID   string    `json:"intent_id"`
	Strategy   string    `json:"strategy"`
	PositionID string    `json:"position_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// OutcomeMessage is published once an intent has a terminal status.
type OutcomeMessage struct {
	IntentID    string    `json:"intent_id"`
	Strategy    string    `json:"strategy"`
	PositionID  string    `json:"position_id"`
	Status      string    `json:"status"`
	TxHash      string    `json:"tx_hash,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Publisher publishes intents and outcomes to JetStream for downstream
// consumers. The intent id is the JetStream message id, so a republished
// message is dropped by the server's duplicate window.
type Publisher struct {
	js jetstream.Publisher
}

func NewPublisher(js jetstream.Publisher) *Publisher {
	return &Publisher{js: js}
}

func (p *Publisher) Name() string { return "nats" }

// RecordIntent publishes to liquidator.intents.{strategy}.
func (p *Publisher) RecordIntent(ctx context.Context, l event.Liquidation) error {
	msg := IntentMessage{
		IntentID:   l.IntentID.String(),
		Strategy:   l.StrategyAddress.Hex(),
		PositionID: l.PositionID.Dec(),
		ReceivedAt: time.Now().UTC(),
	}
	subject := IntentSubject(l)
	return p.publish(ctx, subject, msg.IntentID, msg)
}

// Record publishes to liquidator.outcomes.{status}.
func (p *Publisher) Record(ctx context.Context, o event.LiquidationOutcome) error {
	msg := OutcomeMessage{
		IntentID:    o.Intent.IntentID.String(),
		Strategy:    o.Intent.StrategyAddress.Hex(),
		PositionID:  o.Intent.PositionID.Dec(),
		Status:      o.Status.String(),
		BlockNumber: o.BlockNumber,
		Error:       o.Error,
		CompletedAt: o.CompletedAt,
	}
	if o.TxHash != ([32]byte{}) {
		msg.TxHash = o.TxHash.Hex()
	}
	return p.publish(ctx, OutcomeSubject(o.Status), msg.IntentID+"."+msg.Status, msg)
}

func (p *Publisher) publish(ctx context.Context, subject, msgID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func IntentSubject(l event.Liquidation) string {
	return intentSubjectPrefix + strings.ToLower(l.StrategyAddress.Hex())
}

func OutcomeSubject(s event.OutcomeStatus) string {
	return outcomeSubjectPrefix + s.String()
}

// Connect establishes a NATS connection that reconnects forever and
// returns a JetStream context.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name("liquidation-bot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("reconnected")
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

// EnsureStream creates or updates the stream holding every liquidator
// subject.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name string) error {
	if name == "" {
		name = DefaultStream
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{"liquidator.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 24 * time.Hour,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	logger := observability.NewLogger("nats")
	logger.Info().Str("stream", name).Msg("ensured stream")
	return nil
}
