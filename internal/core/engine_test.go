package core_test

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/Ithil-protocol/liquidation-bot/internal/core"
	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/Ithil-protocol/liquidation-bot/internal/market"
	"github.com/Ithil-protocol/liquidation-bot/internal/state"
	tu "github.com/Ithil-protocol/liquidation-bot/internal/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	openedAt = 1_000_000
	oneDay   = 86_400
)

// --- Test helpers ---

func newTestEngine(t *testing.T) *core.Engine {
	t.Helper()
	return core.NewEngine(tu.Strategy, tu.Registry(t), tu.U(openedAt), nil)
}

// wbtcLong borrows 900 DAI against 100 DAI of collateral and holds 0.05 WBTC.
func wbtcLong(id uint64) *event.PositionOpened {
	return &event.PositionOpened{
		ID:              tu.U(id),
		Owner:           tu.Owner,
		OwedToken:       tu.DAI.Address,
		HeldToken:       tu.WBTC.Address,
		CollateralToken: tu.DAI.Address,
		Collateral:      tu.Units(100, 18),
		Principal:       tu.Units(900, 18),
		Allowance:       tu.U(5_000_000), // 0.05 WBTC
		Fees:            tu.U(100),       // 1% per day
		CreatedAt:       tu.U(openedAt),
	}
}

// wethLongHeldCollateral borrows 900 DAI, posts 0.1 WETH of collateral and
// holds 1 WETH in total.
func wethLongHeldCollateral(id uint64) *event.PositionOpened {
	return &event.PositionOpened{
		ID:              tu.U(id),
		Owner:           tu.Owner,
		OwedToken:       tu.DAI.Address,
		HeldToken:       tu.WETH.Address,
		CollateralToken: tu.WETH.Address,
		Collateral:      tu.Units(1, 17),
		Principal:       tu.Units(900, 18),
		Allowance:       tu.Units(1, 18),
		Fees:            tu.U(0),
		CreatedAt:       tu.U(openedAt),
	}
}

func setupEvents(t *testing.T) []event.Event {
	return []event.Event{
		tu.RiskFactor(tu.WETH, 3000),
		tu.RiskFactor(tu.WBTC, 2000),
		tu.RiskFactor(tu.DAI, 1000),
		tu.Tick(t, "WBTC-USD", 20000),
		tu.Tick(t, "WETH-USD", 1000),
		tu.Tick(t, "DAI-USD", 1.0),
	}
}

func applyAll(t *testing.T, e *core.Engine, events ...event.Event) []event.Liquidation {
	t.Helper()
	var out []event.Liquidation
	for _, evt := range events {
		intents, err := e.Apply(evt)
		if err != nil {
			t.Fatalf("Apply(%s): %v", evt.EventType(), err)
		}
		out = append(out, intents...)
	}
	return out
}

// ===========================================================================
// Scenarios
// ===========================================================================

func TestScenario_WBTCDropTriggersOneIntent(t *testing.T) {
	e := newTestEngine(t)
	applyAll(t, e, setupEvents(t)...)
	applyAll(t, e, wbtcLong(1), tu.Block(100, openedAt+oneDay))

	intents := applyAll(t, e, tu.Tick(t, "WBTC-USD", 18300))

	if len(intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(intents))
	}
	if intents[0].PositionID.Uint64() != 1 {
		t.Errorf("intent position = %s, want 1", intents[0].PositionID.Dec())
	}
	if intents[0].StrategyAddress != tu.Strategy {
		t.Errorf("intent strategy = %s, want %s", intents[0].StrategyAddress.Hex(), tu.Strategy.Hex())
	}
	if got := e.Position(tu.U(1)).Status; got != state.PositionStatusLiquidationRequested {
		t.Errorf("status = %s, want LiquidationRequested", got)
	}
}

func TestScenario_NoPriceDropNoIntent(t *testing.T) {
	e := newTestEngine(t)
	applyAll(t, e, setupEvents(t)...)
	applyAll(t, e, wbtcLong(1), tu.Block(100, openedAt+oneDay))

	intents := applyAll(t, e, tu.Tick(t, "WBTC-USD", 20000))

	if len(intents) != 0 {
		t.Fatalf("expected 0 intents, got %d", len(intents))
	}
	if got := e.Position(tu.U(1)).Status; got != state.PositionStatusOpened {
		t.Errorf("status = %s, want Opened", got)
	}
}

func TestScenario_CollateralInHeldToken(t *testing.T) {
	e := newTestEngine(t)
	applyAll(t, e, setupEvents(t)...)
	applyAll(t, e, wethLongHeldCollateral(2))

	if intents := applyAll(t, e, tu.Tick(t, "WETH-USD", 1000)); len(intents) != 0 {
		t.Fatalf("healthy position: expected 0 intents, got %d", len(intents))
	}
	intents := applyAll(t, e, tu.Tick(t, "WETH-USD", 915))
	if len(intents) != 1 {
		t.Fatalf("after drop: expected 1 intent, got %d", len(intents))
	}
}

// ===========================================================================
// Properties
// ===========================================================================

func TestNoSecondIntentForRequestedPosition(t *testing.T) {
	e := newTestEngine(t)
	applyAll(t, e, setupEvents(t)...)
	applyAll(t, e, wbtcLong(1), tu.Block(100, openedAt+oneDay))

	first := applyAll(t, e, tu.Tick(t, "WBTC-USD", 18300))
	if len(first) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(first))
	}

	later := applyAll(t, e,
		tu.Tick(t, "WBTC-USD", 15000),
		tu.Tick(t, "DAI-USD", 1.01),
		tu.Block(101, openedAt+2*oneDay),
		tu.Tick(t, "WBTC-USD", 10000),
	)
	if len(later) != 0 {
		t.Fatalf("expected no further intents, got %d", len(later))
	}
}

func TestTickForUnrelatedBaseEmitsNothing(t *testing.T) {
	e := newTestEngine(t)
	applyAll(t, e, setupEvents(t)...)
	applyAll(t, e, wbtcLong(1))

	// 100 days of fees leave the position underwater at unchanged prices.
	applyAll(t, e, tu.Block(100, openedAt+100*oneDay))

	intents := applyAll(t, e, tu.Tick(t, "WETH-USD", 500), tu.Tick(t, "ETH-USD", 500))
	if len(intents) != 0 {
		t.Fatalf("ticks on WETH/ETH must not touch a WBTC/DAI position, got %d intents", len(intents))
	}

	intents = applyAll(t, e, tu.Tick(t, "DAI-USD", 1.0))
	if len(intents) != 1 {
		t.Fatalf("a tick on the owed token should score the position, got %d intents", len(intents))
	}
}

func TestWrappedTokenMatchesUnderlyingTick(t *testing.T) {
	e := newTestEngine(t)
	applyAll(t, e,
		tu.RiskFactor(tu.WBTC, 2000),
		tu.RiskFactor(tu.DAI, 1000),
		tu.Tick(t, "BTC-USD", 20000),
		tu.Tick(t, "DAI-USD", 1.0),
		wbtcLong(1),
		tu.Block(100, openedAt+oneDay),
	)

	intents := applyAll(t, e, tu.Tick(t, "BTC-USD", 18300))
	if len(intents) != 1 {
		t.Fatalf("BTC-USD tick should score WBTC positions, got %d intents", len(intents))
	}
}

func TestMissingRiskFactorIsIndeterminate(t *testing.T) {
	e := newTestEngine(t)
	applyAll(t, e,
		tu.RiskFactor(tu.DAI, 1000),
		tu.Tick(t, "DAI-USD", 1.0),
		wbtcLong(1),
		tu.Block(100, openedAt+oneDay),
	)

	intents := applyAll(t, e, tu.Tick(t, "WBTC-USD", 1))
	if len(intents) != 0 {
		t.Fatalf("missing WBTC risk factor must not liquidate, got %d", len(intents))
	}
}

func TestMissingPriceIsIndeterminate(t *testing.T) {
	e := newTestEngine(t)
	applyAll(t, e,
		tu.RiskFactor(tu.WBTC, 2000),
		tu.RiskFactor(tu.DAI, 1000),
		wbtcLong(1),
		tu.Block(100, openedAt+oneDay),
	)

	// No DAI price cached.
	intents := applyAll(t, e, tu.Tick(t, "WBTC-USD", 1))
	if len(intents) != 0 {
		t.Fatalf("missing DAI price must not liquidate, got %d", len(intents))
	}
}

func TestRiskFactorForUnknownTokenIsHardError(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Apply(&event.RiskFactorUpdated{Token: tu.Unregistered, NewRiskFactor: tu.U(1000)})
	if !errors.Is(err, core.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if !errors.Is(err, market.ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestPositionWithUnknownTokenIsInvariantViolation(t *testing.T) {
	e := newTestEngine(t)
	applyAll(t, e, setupEvents(t)...)

	bad := wbtcLong(9)
	bad.HeldToken = tu.Unregistered
	applyAll(t, e, bad)

	_, err := e.Apply(tu.Tick(t, "WBTC-USD", 18300))
	if !errors.Is(err, core.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestDuplicateOpenKeepsRequestedStatus(t *testing.T) {
	e := newTestEngine(t)
	applyAll(t, e, setupEvents(t)...)
	applyAll(t, e, wbtcLong(1), tu.Block(100, openedAt+oneDay))
	applyAll(t, e, tu.Tick(t, "WBTC-USD", 18300))

	applyAll(t, e, wbtcLong(1))
	if intents := applyAll(t, e, tu.Tick(t, "WBTC-USD", 18000)); len(intents) != 0 {
		t.Fatalf("duplicate open must not resurrect an Opened position, got %d intents", len(intents))
	}
}

func TestCloseThenNewPositionCanBeLiquidated(t *testing.T) {
	e := newTestEngine(t)
	applyAll(t, e, setupEvents(t)...)
	applyAll(t, e, wbtcLong(1), tu.Block(100, openedAt+oneDay))
	applyAll(t, e, tu.Tick(t, "WBTC-USD", 18300))
	applyAll(t, e, tu.Liquidated(1), tu.Tick(t, "WBTC-USD", 20000))

	if e.Position(tu.U(1)) != nil {
		t.Fatal("liquidated position should be removed")
	}

	applyAll(t, e, wbtcLong(2))
	intents := applyAll(t, e, tu.Tick(t, "WBTC-USD", 18300))
	if len(intents) != 1 || intents[0].PositionID.Uint64() != 2 {
		t.Fatalf("expected one intent for position 2, got %+v", intents)
	}
}

func TestRemovalIsIdempotentUnderInterleaving(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		e := newTestEngine(t)
		applyAll(t, e, setupEvents(t)...)

		live := make(map[uint64]bool)
		nextID := uint64(1)

		for step := 0; step < 200; step++ {
			var evt event.Event
			switch rng.Intn(6) {
			case 0, 1:
				evt = wbtcLong(nextID)
				live[nextID] = true
				nextID++
			case 2:
				id := uint64(rng.Int63n(int64(nextID) + 3))
				evt = tu.Closed(id)
				delete(live, id)
			case 3:
				id := uint64(rng.Int63n(int64(nextID) + 3))
				evt = tu.Liquidated(id)
				delete(live, id)
			case 4:
				evt = tu.Tick(t, "WBTC-USD", 15000+rng.Float64()*10000)
			case 5:
				evt = tu.RiskFactor(tu.WBTC, uint64(1000+rng.Intn(3000)))
			}
			applyAll(t, e, evt)
		}

		if e.PositionCount() != len(live) {
			t.Fatalf("round %d: engine has %d positions, want %d", round, e.PositionCount(), len(live))
		}
		for id := range live {
			if e.Position(tu.U(id)) == nil {
				t.Fatalf("round %d: position %d missing", round, id)
			}
		}
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	events := setupEvents(t)
	clock := uint64(openedAt)
	for i := uint64(1); i <= 50; i++ {
		events = append(events, wbtcLong(i))
		if i%5 == 0 {
			clock += uint64(rng.Intn(oneDay))
			events = append(events, tu.Block(i, clock))
		}
		events = append(events, tu.Tick(t, "WBTC-USD", 17000+rng.Float64()*4000))
		if i%7 == 0 {
			events = append(events, tu.Closed(i-3))
		}
	}

	run := func() ([]event.Liquidation, *core.Snapshot) {
		e := newTestEngine(t)
		intents, err := e.Replay(events)
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		return intents, e.Snapshot()
	}

	intentsA, snapA := run()
	intentsB, snapB := run()

	if len(intentsA) == 0 {
		t.Fatal("fixture should produce at least one intent")
	}
	if !reflect.DeepEqual(intentsA, intentsB) {
		t.Fatal("intent sequences differ between identical replays")
	}
	if !reflect.DeepEqual(snapA.Positions, snapB.Positions) {
		t.Fatal("final position sets differ between identical replays")
	}
}

func TestIntentIDIsStable(t *testing.T) {
	a := event.NewLiquidation(tu.Strategy, tu.U(1))
	b := event.NewLiquidation(tu.Strategy, tu.U(1))
	c := event.NewLiquidation(common.HexToAddress("0x01"), tu.U(1))
	if a.IntentID != b.IntentID {
		t.Error("same strategy and position must give the same intent id")
	}
	if a.IntentID == c.IntentID {
		t.Error("different strategies must give different intent ids")
	}
}

func TestBlockHeaderReplacesClock(t *testing.T) {
	e := newTestEngine(t)
	applyAll(t, e, tu.Block(1, 5), tu.Block(2, 3))
	want := tu.U(3)
	got := e.Clock()
	if got.Cmp(&want) != 0 {
		t.Errorf("clock = %s, want 3", got.Dec())
	}
}

// ===========================================================================
// Runner
// ===========================================================================

func TestRunner_ForwardsIntentsAndPublishesSnapshot(t *testing.T) {
	e := newTestEngine(t)
	in := make(chan event.Event, 16)
	out := make(chan event.Liquidation, 4)
	r := core.NewRunner(e, in, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	for _, evt := range setupEvents(t) {
		in <- evt
	}
	in <- wbtcLong(1)
	in <- tu.Block(100, openedAt+oneDay)
	in <- tu.Tick(t, "WBTC-USD", 18300)

	select {
	case intent := <-out:
		if intent.PositionID.Uint64() != 1 {
			t.Fatalf("intent position = %s, want 1", intent.PositionID.Dec())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for intent")
	}

	close(in)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after input closed")
	}

	snap := r.Snapshot()
	if snap.RequestedCount != 1 || snap.OpenCount != 0 {
		t.Errorf("snapshot counts = open %d requested %d", snap.OpenCount, snap.RequestedCount)
	}
	if snap.IntentsEmitted != 1 {
		t.Errorf("snapshot intents = %d, want 1", snap.IntentsEmitted)
	}
}

func TestRunner_StopsOnInvariantViolation(t *testing.T) {
	e := newTestEngine(t)
	in := make(chan event.Event, 1)
	out := make(chan event.Liquidation, 1)
	r := core.NewRunner(e, in, out)

	in <- &event.RiskFactorUpdated{Token: tu.Unregistered, NewRiskFactor: *uint256.NewInt(1)}

	err := r.Run(context.Background())
	if !errors.Is(err, core.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}
