package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// strategyEventsABI declares the four strategy events the bot consumes.
// Argument order matters: it fixes both the signature hash and the
// positional decoding.
const strategyEventsABI = `[
  {"type":"event","name":"PositionWasOpened","anonymous":false,"inputs":[
    {"name":"id","type":"uint256","indexed":true},
    {"name":"owner","type":"address","indexed":true},
    {"name":"owedToken","type":"address","indexed":false},
    {"name":"heldToken","type":"address","indexed":false},
    {"name":"collateralToken","type":"address","indexed":false},
    {"name":"collateral","type":"uint256","indexed":false},
    {"name":"principal","type":"uint256","indexed":false},
    {"name":"allowance","type":"uint256","indexed":false},
    {"name":"fees","type":"uint256","indexed":false},
    {"name":"createdAt","type":"uint256","indexed":false}]},
  {"type":"event","name":"PositionWasClosed","anonymous":false,"inputs":[
    {"name":"id","type":"uint256","indexed":true}]},
  {"type":"event","name":"PositionWasLiquidated","anonymous":false,"inputs":[
    {"name":"id","type":"uint256","indexed":true}]},
  {"type":"event","name":"RiskFactorWasUpdated","anonymous":false,"inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"newRiskFactor","type":"uint256","indexed":false}]}
]`

// DecodeError is a log whose first topic matched a known event but whose
// topics or data could not be decoded.
type DecodeError struct {
	Event string
	Log   event.LogRef
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s (block %d, %s): %v", e.Event, e.Log.BlockNumber, e.Log.Key(), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type decodeFunc func(args map[string]interface{}, ref event.LogRef) (event.Event, error)

type decoderEntry struct {
	abiEvent abi.Event
	decode   decodeFunc
}

// Decoder maps a log's first topic to a decode function. The table is
// built once; Decode is a pure lookup plus ABI unpacking.
type Decoder struct {
	table map[common.Hash]decoderEntry
}

func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(strategyEventsABI))
	if err != nil {
		return nil, fmt.Errorf("parse strategy events abi: %w", err)
	}

	funcs := map[string]decodeFunc{
		"PositionWasOpened":     decodePositionOpened,
		"PositionWasClosed":     decodePositionClosed,
		"PositionWasLiquidated": decodePositionLiquidated,
		"RiskFactorWasUpdated":  decodeRiskFactorUpdated,
	}

	d := &Decoder{table: make(map[common.Hash]decoderEntry, len(funcs))}
	for name, fn := range funcs {
		ev, ok := parsed.Events[name]
		if !ok {
			return nil, fmt.Errorf("strategy events abi: missing %s", name)
		}
		d.table[ev.ID] = decoderEntry{abiEvent: ev, decode: fn}
	}
	return d, nil
}

// Topics returns the registered signature hashes in a stable order, for use
// as the topic-0 filter.
func (d *Decoder) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(d.table))
	for id := range d.table {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// EventID returns the topic-0 hash of a registered event by name.
func (d *Decoder) EventID(name string) (common.Hash, bool) {
	for id, entry := range d.table {
		if entry.abiEvent.Name == name {
			return id, true
		}
	}
	return common.Hash{}, false
}

// Decode converts a raw log. An unknown first topic returns ok=false with a
// nil error. A known topic with bad topics or data returns a *DecodeError.
func (d *Decoder) Decode(log types.Log) (evt event.Event, ok bool, err error) {
	if len(log.Topics) == 0 {
		return nil, false, nil
	}
	entry, found := d.table[log.Topics[0]]
	if !found {
		return nil, false, nil
	}

	ref := event.LogRef{BlockNumber: log.BlockNumber, TxHash: log.TxHash, LogIndex: log.Index}
	fail := func(err error) (event.Event, bool, error) {
		return nil, true, &DecodeError{Event: entry.abiEvent.Name, Log: ref, Err: err}
	}

	var indexed abi.Arguments
	for _, arg := range entry.abiEvent.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(log.Topics) != len(indexed)+1 {
		return fail(fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(log.Topics)))
	}

	args := make(map[string]interface{}, len(entry.abiEvent.Inputs))
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return fail(fmt.Errorf("topics: %w", err))
	}
	if err := entry.abiEvent.Inputs.UnpackIntoMap(args, log.Data); err != nil {
		return fail(fmt.Errorf("data: %w", err))
	}

	evt, err = entry.decode(args, ref)
	if err != nil {
		return fail(err)
	}
	return evt, true, nil
}

func decodePositionOpened(args map[string]interface{}, ref event.LogRef) (event.Event, error) {
	var (
		e   = &event.PositionOpened{Source: ref}
		err error
	)
	fields := []struct {
		name string
		dst  *uint256.Int
	}{
		{"id", &e.ID},
		{"collateral", &e.Collateral},
		{"principal", &e.Principal},
		{"allowance", &e.Allowance},
		{"fees", &e.Fees},
		{"createdAt", &e.CreatedAt},
	}
	for _, f := range fields {
		if *f.dst, err = argUint(args, f.name); err != nil {
			return nil, err
		}
	}
	addrs := []struct {
		name string
		dst  *common.Address
	}{
		{"owner", &e.Owner},
		{"owedToken", &e.OwedToken},
		{"heldToken", &e.HeldToken},
		{"collateralToken", &e.CollateralToken},
	}
	for _, a := range addrs {
		if *a.dst, err = argAddress(args, a.name); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func decodePositionClosed(args map[string]interface{}, ref event.LogRef) (event.Event, error) {
	id, err := argUint(args, "id")
	if err != nil {
		return nil, err
	}
	return &event.PositionClosed{ID: id, Source: ref}, nil
}

func decodePositionLiquidated(args map[string]interface{}, ref event.LogRef) (event.Event, error) {
	id, err := argUint(args, "id")
	if err != nil {
		return nil, err
	}
	return &event.PositionLiquidated{ID: id, Source: ref}, nil
}

func decodeRiskFactorUpdated(args map[string]interface{}, ref event.LogRef) (event.Event, error) {
	token, err := argAddress(args, "token")
	if err != nil {
		return nil, err
	}
	factor, err := argUint(args, "newRiskFactor")
	if err != nil {
		return nil, err
	}
	return &event.RiskFactorUpdated{Token: token, NewRiskFactor: factor, Source: ref}, nil
}

var errMissingArg = errors.New("missing argument")

func argUint(args map[string]interface{}, name string) (uint256.Int, error) {
	raw, ok := args[name]
	if !ok {
		return uint256.Int{}, fmt.Errorf("%w: %s", errMissingArg, name)
	}
	b, ok := raw.(*big.Int)
	if !ok {
		return uint256.Int{}, fmt.Errorf("argument %s: unexpected type %T", name, raw)
	}
	v, overflow := uint256.FromBig(b)
	if overflow || b.Sign() < 0 {
		return uint256.Int{}, fmt.Errorf("argument %s: out of uint256 range", name)
	}
	return *v, nil
}

func argAddress(args map[string]interface{}, name string) (common.Address, error) {
	raw, ok := args[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", errMissingArg, name)
	}
	addr, ok := raw.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("argument %s: unexpected type %T", name, raw)
	}
	return addr, nil
}
