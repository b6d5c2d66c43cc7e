package event

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeBlockHeader
	EventTypePositionOpened
	EventTypePositionClosed
	EventTypePositionLiquidated
	EventTypeRiskFactorUpdated
	EventTypePriceTick
)

// Event is the closed set of inputs the liquidation engine folds. Only types
// in this package implement it.
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// IdempotencyKey returns the stable dedup key, empty when the source
	// has no natural identity (price ticks, block headers).
	IdempotencyKey() string

	sealed()
}

// LogRef locates the chain log an event was decoded from.
type LogRef struct {
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// Key is "<txhash>:<logindex>", or empty for a zero ref.
func (r LogRef) Key() string {
	if r.TxHash == (common.Hash{}) {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.TxHash.Hex(), r.LogIndex)
}

func (et EventType) String() string {
	switch et {
	case EventTypeBlockHeader:
		return "BlockHeader"
	case EventTypePositionOpened:
		return "PositionOpened"
	case EventTypePositionClosed:
		return "PositionClosed"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypeRiskFactorUpdated:
		return "RiskFactorUpdated"
	case EventTypePriceTick:
		return "PriceTick"
	default:
		return "Unknown"
	}
}
