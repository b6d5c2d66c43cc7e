package state

import (
	"fmt"
	"sort"

	"github.com/Ithil-protocol/liquidation-bot/internal/event"
	"github.com/holiman/uint256"
)

// PositionManager owns the live position set. It is not safe for concurrent
// use: only the engine goroutine touches it.
type PositionManager struct {
	positions map[uint256.Int]*Position
}

func NewPositionManager() *PositionManager {
	return &PositionManager{
		positions: make(map[uint256.Int]*Position),
	}
}

// Open inserts a position in Opened state. A second open for a live id is
// ignored and reported as false.
func (pm *PositionManager) Open(e *event.PositionOpened) bool {
	if _, exists := pm.positions[e.ID]; exists {
		return false
	}
	pm.positions[e.ID] = NewPosition(e)
	return true
}

// Remove drops a position. Removing an absent id is a no-op.
func (pm *PositionManager) Remove(id uint256.Int) bool {
	if _, exists := pm.positions[id]; !exists {
		return false
	}
	delete(pm.positions, id)
	return true
}

// GetPosition returns existing position or nil
func (pm *PositionManager) GetPosition(id uint256.Int) *Position {
	return pm.positions[id]
}

// Transition moves a position to next, rejecting transitions the lifecycle
// does not allow.
func (pm *PositionManager) Transition(id uint256.Int, next PositionStatus) error {
	pos := pm.positions[id]
	if pos == nil {
		return fmt.Errorf("position %s not found", id.Dec())
	}
	if !pos.Status.CanTransitionTo(next) {
		return fmt.Errorf("position %s: invalid transition %s -> %s", id.Dec(), pos.Status, next)
	}
	pos.Status = next
	return nil
}

// Opened returns positions still eligible for liquidation, ordered by id.
func (pm *PositionManager) Opened() []*Position {
	out := make([]*Position, 0, len(pm.positions))
	for _, pos := range pm.positions {
		if pos.Status == PositionStatusOpened {
			out = append(out, pos)
		}
	}
	sortByID(out)
	return out
}

// All returns every live position ordered by id.
func (pm *PositionManager) All() []*Position {
	out := make([]*Position, 0, len(pm.positions))
	for _, pos := range pm.positions {
		out = append(out, pos)
	}
	sortByID(out)
	return out
}

func (pm *PositionManager) Count() int {
	return len(pm.positions)
}

func sortByID(positions []*Position) {
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].ID.Lt(&positions[j].ID)
	})
}
