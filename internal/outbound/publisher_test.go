package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/Ithil-protocol/liquidation-bot/internal/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go/jetstream"
)

type published struct {
	subject string
	msgID   string
	data    []byte
}

// fakeJS records publishes. Publisher only calls Publish.
type fakeJS struct {
	jetstream.Publisher
	msgs []published
	err  error
}

func (f *fakeJS) Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	msgID := ""
	if len(opts) > 0 {
		msgID = "set"
	}
	f.msgs = append(f.msgs, published{subject: subject, msgID: msgID, data: data})
	return &jetstream.PubAck{Stream: DefaultStream}, nil
}

func TestRecordIntentSubjectAndPayload(t *testing.T) {
	js := &fakeJS{}
	p := NewPublisher(js)
	l := event.NewLiquidation(testutil.Strategy, *uint256.NewInt(42))

	if err := p.RecordIntent(context.Background(), l); err != nil {
		t.Fatalf("RecordIntent: %v", err)
	}
	if len(js.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(js.msgs))
	}
	got := js.msgs[0]
	if got.subject != "liquidator.intents.0x643969a6ad1638e646eda63961e1b54c198d15e3" {
		t.Errorf("subject = %s", got.subject)
	}
	if got.msgID == "" {
		t.Error("intent published without a message id")
	}

	var msg IntentMessage
	if err := json.Unmarshal(got.data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.IntentID != l.IntentID.String() || msg.PositionID != "42" {
		t.Errorf("unexpected payload: %+v", msg)
	}
}

func TestRecordOutcome(t *testing.T) {
	js := &fakeJS{}
	p := NewPublisher(js)
	o := event.LiquidationOutcome{
		Intent:      event.NewLiquidation(testutil.Strategy, *uint256.NewInt(7)),
		Status:      event.OutcomeConfirmed,
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 1234,
		CompletedAt: time.Now().UTC(),
	}

	if err := p.Record(context.Background(), o); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got := js.msgs[0]
	if got.subject != "liquidator.outcomes.confirmed" {
		t.Errorf("subject = %s", got.subject)
	}
	var msg OutcomeMessage
	if err := json.Unmarshal(got.data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != "confirmed" || msg.BlockNumber != 1234 || msg.TxHash == "" {
		t.Errorf("unexpected payload: %+v", msg)
	}
}

func TestPublishErrorIsReturned(t *testing.T) {
	js := &fakeJS{err: errors.New("no responders")}
	p := NewPublisher(js)
	err := p.Record(context.Background(), event.LiquidationOutcome{Status: event.OutcomeDryRun})
	if err == nil {
		t.Fatal("expected publish error")
	}
}

func TestOutcomeSubjects(t *testing.T) {
	tests := map[event.OutcomeStatus]string{
		event.OutcomeConfirmed: "liquidator.outcomes.confirmed",
		event.OutcomeReverted:  "liquidator.outcomes.reverted",
		event.OutcomeFailed:    "liquidator.outcomes.failed",
		event.OutcomeDryRun:    "liquidator.outcomes.dry_run",
	}
	for status, want := range tests {
		if got := OutcomeSubject(status); got != want {
			t.Errorf("OutcomeSubject(%s) = %s, want %s", status, got, want)
		}
	}
}

func TestPublisherIntegration(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := Connect(testutil.TestNATSURL())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := EnsureStream(ctx, js, "LIQUIDATOR_TEST"); err != nil {
		t.Fatalf("EnsureStream: %v", err)
	}

	stream, err := js.Stream(ctx, "LIQUIDATOR_TEST")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	before, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}

	p := NewPublisher(js)
	l := event.NewLiquidation(testutil.Strategy, *uint256.NewInt(uint64(time.Now().UnixNano())))
	for i := 0; i < 2; i++ {
		if err := p.RecordIntent(ctx, l); err != nil {
			t.Fatalf("RecordIntent: %v", err)
		}
	}

	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if got := info.State.Msgs - before.State.Msgs; got != 1 {
		t.Errorf("duplicate intent stored: %d new messages", got)
	}
}
