package event

import "github.com/holiman/uint256"

// BlockHeader advances the engine's logical clock.
type BlockHeader struct {
	Number    uint64
	Timestamp uint256.Int // Unix seconds
}

func (b *BlockHeader) IdempotencyKey() string {
	return ""
}

func (b *BlockHeader) EventType() EventType {
	return EventTypeBlockHeader
}

func (b *BlockHeader) sealed() {}
