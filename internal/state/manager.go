package state

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"rotation-trader/pkg/db"
)

// closeEpsilon treats residual dust below this quantity as a closed position.
const closeEpsilon = 1e-8

// Manager keeps an in-memory view of open positions while persisting every
// mutation, so each cycle can re-read a durable, consistent ledger.
type Manager struct {
	mu        sync.RWMutex
	positions map[string]db.Position // open positions keyed by symbol
	db        *db.Database
}

func NewManager(database *db.Database) *Manager {
	return &Manager{
		db:        database,
		positions: make(map[string]db.Position),
	}
}

// Load seeds in-memory state from the DB on startup.
func (m *Manager) Load(ctx context.Context) error {
	positions, err := m.db.OpenPositions(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]db.Position, len(positions))
	for _, p := range positions {
		m.positions[p.Symbol] = p
	}
	return nil
}

// Open returns the open position for a symbol, if any.
func (m *Manager) Open(symbol string) (db.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	return p, ok
}

// OpenPositions returns a snapshot of all open positions.
func (m *Manager) OpenPositions() []db.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]db.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// ApplyBuy records a confirmed buy fill: it opens a position on the first buy
// for a symbol, and re-weights the average entry price on averaging-up buys.
func (m *Manager) ApplyBuy(ctx context.Context, symbol string, qty, price float64) (db.Position, error) {
	if qty <= 0 || price <= 0 {
		return db.Position{}, fmt.Errorf("state: invalid buy %s qty=%v price=%v", symbol, qty, price)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.positions[symbol]; ok {
		newQty := p.Qty + qty
		p.EntryPrice = (p.EntryPrice*p.Qty + price*qty) / newQty
		p.Qty = newQty
		if err := m.db.UpdatePosition(ctx, p.ID, p.Qty, p.EntryPrice); err != nil {
			return db.Position{}, err
		}
		m.positions[symbol] = p
		return p, nil
	}

	p := db.Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Qty:        qty,
		EntryPrice: price,
		Status:     db.PositionOpen,
		OpenedAt:   time.Now().UTC(),
	}
	if err := m.db.CreatePosition(ctx, p); err != nil {
		return db.Position{}, err
	}
	m.positions[symbol] = p
	return p, nil
}

// ApplySell records a confirmed sell fill against the open position, closing
// it when the remaining quantity reaches zero. Selling against a symbol with
// no open position is an error, never a crash.
func (m *Manager) ApplySell(ctx context.Context, symbol string, qty float64) (db.Position, error) {
	if qty <= 0 {
		return db.Position{}, fmt.Errorf("state: invalid sell %s qty=%v", symbol, qty)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return db.Position{}, fmt.Errorf("state: sell %s: %w", symbol, db.ErrNotFound)
	}

	p.Qty -= qty
	if p.Qty <= closeEpsilon {
		now := time.Now().UTC()
		if err := m.db.ClosePosition(ctx, p.ID, now); err != nil {
			return db.Position{}, err
		}
		p.Qty = 0
		p.Status = db.PositionClosed
		p.ClosedAt = &now
		delete(m.positions, symbol)
		return p, nil
	}

	if err := m.db.UpdatePosition(ctx, p.ID, p.Qty, p.EntryPrice); err != nil {
		return db.Position{}, err
	}
	m.positions[symbol] = p
	return p, nil
}

// SetQty forces the tracked quantity to the exchange-reported value while
// keeping the internal cost basis. Used by reconciliation only.
func (m *Manager) SetQty(ctx context.Context, symbol string, qty float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return fmt.Errorf("state: adjust %s: %w", symbol, db.ErrNotFound)
	}

	if math.Abs(qty) <= closeEpsilon {
		now := time.Now().UTC()
		if err := m.db.ClosePosition(ctx, p.ID, now); err != nil {
			return err
		}
		delete(m.positions, symbol)
		return nil
	}

	p.Qty = qty
	if err := m.db.UpdatePosition(ctx, p.ID, p.Qty, p.EntryPrice); err != nil {
		return err
	}
	m.positions[symbol] = p
	return nil
}

// CreateFromBalance opens a position from an observed exchange balance with a
// best-effort cost basis (current market price). Used by reconciliation.
func (m *Manager) CreateFromBalance(ctx context.Context, symbol string, qty, marketPrice float64) (db.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.positions[symbol]; ok {
		return db.Position{}, fmt.Errorf("state: create %s: %w", symbol, db.ErrOpenPositionExists)
	}

	p := db.Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Qty:        qty,
		EntryPrice: marketPrice,
		Status:     db.PositionOpen,
		Note:       "created by reconciliation from exchange balance",
		OpenedAt:   time.Now().UTC(),
	}
	if err := m.db.CreatePosition(ctx, p); err != nil {
		return db.Position{}, err
	}
	m.positions[symbol] = p
	return p, nil
}

// Flag marks a position for operator review without touching its state.
func (m *Manager) Flag(ctx context.Context, symbol, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return fmt.Errorf("state: flag %s: %w", symbol, db.ErrNotFound)
	}
	if err := m.db.FlagPosition(ctx, p.ID, note); err != nil {
		return err
	}
	p.Flagged = true
	p.Note = note
	m.positions[symbol] = p
	return nil
}
