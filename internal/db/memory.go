package db

import (
	"context"
	"fmt"
	"sync"

	"index-options-bot/internal/interfaces"
	"index-options-bot/internal/types"
)

// MemoryStore is the in-process trade store used when no database is
// configured (quick backtests, tests). Same contract as Repository.
type MemoryStore struct {
	mu          sync.Mutex
	positions   map[string]PositionRow
	transitions []SLTransitionRow
	ticks       []AttributionTickRow
}

var _ interfaces.TradeStore = (*MemoryStore)(nil)

func NewMemory() *MemoryStore {
	return &MemoryStore{positions: make(map[string]PositionRow)}
}

func (m *MemoryStore) SavePosition(ctx context.Context, pos *types.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[pos.ID]; ok {
		return fmt.Errorf("position %s already exists", pos.ID)
	}
	m.positions[pos.ID] = ToPositionRow(pos)
	return nil
}

func (m *MemoryStore) UpdatePosition(ctx context.Context, pos *types.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.ID] = ToPositionRow(pos)
	return nil
}

func (m *MemoryStore) SaveSLTransition(ctx context.Context, tr types.SLTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := ToTransitionRow(tr)
	row.ID = uint(len(m.transitions) + 1)
	m.transitions = append(m.transitions, row)
	return nil
}

func (m *MemoryStore) SaveAttribution(ctx context.Context, rec types.AttributionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := ToTickRow(rec)
	row.ID = uint(len(m.ticks) + 1)
	m.ticks = append(m.ticks, row)
	return nil
}

func (m *MemoryStore) BackfillTickPnL(ctx context.Context, positionID string, pnl float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.ticks {
		if m.ticks[i].PositionID == positionID {
			v := pnl
			m.ticks[i].ResultingPnL = &v
		}
	}
	return nil
}

func (m *MemoryStore) TicksForPosition(ctx context.Context, positionID string) ([]types.AttributionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.AttributionRecord
	for _, row := range m.ticks {
		if row.PositionID == positionID {
			out = append(out, FromTickRow(row))
		}
	}
	return out, nil
}

func (m *MemoryStore) ClosedPositionsForRun(ctx context.Context, runID string) ([]types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Position
	for _, row := range m.positions {
		if row.RunID == runID && row.Status == string(types.StatusClosed) {
			out = append(out, FromPositionRow(row))
		}
	}
	return out, nil
}

// Transitions returns the audited stop-loss transitions for a position.
func (m *MemoryStore) Transitions(positionID string) []types.SLTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.SLTransition
	for _, row := range m.transitions {
		if row.PositionID == positionID {
			out = append(out, types.SLTransition{
				PositionID: row.PositionID,
				At:         row.At,
				FromStage:  types.SLStage(row.FromStage),
				ToStage:    types.SLStage(row.ToStage),
				OldLevel:   row.OldLevel,
				NewLevel:   row.NewLevel,
				Reason:     row.Reason,
				SpotPrice:  row.SpotPrice,
				MainPrice:  row.MainPrice,
				HedgePrice: row.HedgePrice,
			})
		}
	}
	return out
}
