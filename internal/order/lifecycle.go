package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"rotation-trader/internal/events"
	"rotation-trader/internal/state"
	"rotation-trader/internal/strategy"
	"rotation-trader/pkg/db"
	"rotation-trader/pkg/exchanges/common"
)

// ErrSymbolBusy rejects a second in-flight order for the same symbol.
var ErrSymbolBusy = errors.New("order: in-flight order exists for symbol")

// Config holds execution knobs.
type Config struct {
	MakerOffset  float64       // fractional price offset for post-only orders, e.g. 0.001
	PollInterval time.Duration // order status poll cadence
	StaleAfter   time.Duration // unfilled window before cancel-replace
	MarketWait   time.Duration // how long to wait for the replacement fill
}

// DefaultConfig returns conservative execution defaults.
func DefaultConfig() Config {
	return Config{
		MakerOffset:  0.001,
		PollInterval: 5 * time.Second,
		StaleAfter:   3 * time.Minute,
		MarketWait:   30 * time.Second,
	}
}

// Manager drives one order through its lifecycle: post-only placement, fill
// polling, and stale cancel-replace with a taker order for the remaining
// quantity. Trades are recorded only from the exchange's authoritative
// status, and at most one order per symbol may be in flight.
type Manager struct {
	Gateway common.Gateway
	DB      *db.Database
	State   *state.Manager
	Bus     *events.Bus
	Cfg     Config

	mu       sync.Mutex
	inflight map[string]common.Side
}

func NewManager(gw common.Gateway, database *db.Database, st *state.Manager, bus *events.Bus, cfg Config) *Manager {
	return &Manager{
		Gateway:  gw,
		DB:       database,
		State:    st,
		Bus:      bus,
		Cfg:      cfg,
		inflight: make(map[string]common.Side),
	}
}

// PendingBuySymbols lists symbols with an in-flight buy, so the evaluator
// counts them toward the position cap.
func (m *Manager) PendingBuySymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for symbol, side := range m.inflight {
		if side == common.SideBuy {
			out = append(out, symbol)
		}
	}
	return out
}

// ExecuteAll runs a cycle's intents. Different symbols may proceed
// concurrently; the per-symbol lock serializes same-symbol intents.
func (m *Manager) ExecuteAll(ctx context.Context, intents []strategy.Intent) {
	var wg sync.WaitGroup
	for _, intent := range intents {
		wg.Add(1)
		go func(in strategy.Intent) {
			defer wg.Done()
			if err := m.Execute(ctx, in); err != nil {
				log.Printf("order: execute %s %s: %v", in.Side, in.Symbol, err)
				m.publish(events.TopicOrderFailed, in.Symbol, fmt.Sprintf("%s qty=%v: %v", in.Side, in.Qty, err))
			}
		}(intent)
	}
	wg.Wait()
}

// Execute drives a single intent to completion.
func (m *Manager) Execute(ctx context.Context, intent strategy.Intent) error {
	if intent.Qty <= 0 {
		return fmt.Errorf("order: non-positive quantity for %s", intent.Symbol)
	}

	if !m.acquire(intent.Symbol, intent.Side) {
		return fmt.Errorf("%w: %s", ErrSymbolBusy, intent.Symbol)
	}
	defer m.release(intent.Symbol)

	lot, err := m.Gateway.LotInfo(ctx, intent.Symbol)
	if err != nil {
		return fmt.Errorf("lot info: %w", err)
	}
	qty := common.RoundQty(lot, intent.Qty)
	if qty <= 0 {
		return fmt.Errorf("order: %s qty %v rounds to zero", intent.Symbol, intent.Qty)
	}

	limitPrice, err := m.makerPrice(ctx, intent, lot)
	if err != nil {
		return err
	}

	ack, err := m.Gateway.PlaceLimitOrder(ctx, common.LimitOrderRequest{
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Qty:      qty,
		Price:    limitPrice,
		PostOnly: true,
		ClientID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("place limit: %w", err)
	}
	m.publish(events.TopicOrderPlaced, intent.Symbol, fmt.Sprintf("%s qty=%v limit=%v id=%s", intent.Side, qty, limitPrice, ack.ExchangeOrderID))
	log.Printf("order: placed post-only %s %s qty=%v @ %v (%s)", intent.Side, intent.Symbol, qty, limitPrice, ack.ExchangeOrderID)

	final, err := m.pollUntil(ctx, intent.Symbol, ack.ExchangeOrderID, m.Cfg.StaleAfter)
	if err != nil {
		return err
	}

	switch {
	case final.Status == common.StatusFilled:
		return m.recordFill(ctx, final)

	case final.Status == common.StatusCanceled || final.Status == common.StatusExpired:
		// Post-only rejection or external cancel; replace whatever is left.
		if final.FilledQty > 0 {
			if err := m.recordFill(ctx, final); err != nil {
				return err
			}
		}
		return m.replaceWithMarket(ctx, intent.Symbol, intent.Side, common.RoundQty(lot, final.Remaining()))

	default:
		// Still resting past the window: stale. Cancel, then re-query for the
		// authoritative fill before replacing exactly the remainder.
		m.publish(events.TopicOrderStale, intent.Symbol, fmt.Sprintf("%s id=%s", intent.Side, ack.ExchangeOrderID))
		log.Printf("order: %s stale after %v, cancel-replacing", ack.ExchangeOrderID, m.Cfg.StaleAfter)

		if err := m.Gateway.CancelOrder(ctx, intent.Symbol, ack.ExchangeOrderID); err != nil {
			log.Printf("order: cancel %s: %v", ack.ExchangeOrderID, err)
		}
		settled, err := m.Gateway.OrderStatus(ctx, intent.Symbol, ack.ExchangeOrderID)
		if err != nil {
			return fmt.Errorf("status after cancel: %w", err)
		}
		if settled.FilledQty > 0 {
			if err := m.recordFill(ctx, settled); err != nil {
				return err
			}
		}
		if settled.Status == common.StatusFilled {
			return nil // filled during the cancel race; nothing to replace
		}
		return m.replaceWithMarket(ctx, intent.Symbol, intent.Side, common.RoundQty(lot, settled.Remaining()))
	}
}

// makerPrice offsets the touch price away from the spread so the post-only
// order rests instead of crossing.
func (m *Manager) makerPrice(ctx context.Context, intent strategy.Intent, lot common.LotInfo) (float64, error) {
	ticker, err := m.Gateway.Ticker(ctx, intent.Symbol)
	if err != nil {
		return 0, fmt.Errorf("ticker: %w", err)
	}

	var price float64
	if intent.Side == common.SideBuy {
		price = ticker.Bid * (1 - m.Cfg.MakerOffset)
	} else {
		price = ticker.Ask * (1 + m.Cfg.MakerOffset)
	}
	if price <= 0 {
		price = intent.Price
	}
	if price <= 0 {
		return 0, fmt.Errorf("order: no reference price for %s", intent.Symbol)
	}
	return common.RoundPrice(lot, price), nil
}

// pollUntil polls order status until fill, terminal state, or the deadline.
// The returned state is whatever the exchange last reported.
func (m *Manager) pollUntil(ctx context.Context, symbol, orderID string, window time.Duration) (common.OrderState, error) {
	deadline := time.Now().Add(window)
	var last common.OrderState
	for {
		state, err := m.Gateway.OrderStatus(ctx, symbol, orderID)
		if err != nil {
			if !common.IsRetryable(err) {
				return common.OrderState{}, fmt.Errorf("order status: %w", err)
			}
			log.Printf("order: status poll %s: %v", orderID, err)
		} else {
			last = state
			switch state.Status {
			case common.StatusFilled, common.StatusCanceled, common.StatusExpired, common.StatusRejected:
				return state, nil
			}
		}

		if time.Now().After(deadline) {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(m.Cfg.PollInterval):
		}
	}
}

// replaceWithMarket guarantees completion for the remaining quantity at taker
// fees. Never called with more than the unfilled remainder.
func (m *Manager) replaceWithMarket(ctx context.Context, symbol string, side common.Side, remaining float64) error {
	if remaining <= 0 {
		return nil
	}

	ack, err := m.Gateway.PlaceMarketOrder(ctx, common.MarketOrderRequest{
		Symbol:   symbol,
		Side:     side,
		Qty:      remaining,
		ClientID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("place market replacement: %w", err)
	}
	log.Printf("order: market replacement %s %s qty=%v (%s)", side, symbol, remaining, ack.ExchangeOrderID)

	final, err := m.pollUntil(ctx, symbol, ack.ExchangeOrderID, m.Cfg.MarketWait)
	if err != nil {
		return err
	}
	if final.FilledQty <= 0 {
		return fmt.Errorf("order: market replacement %s reported no fill", ack.ExchangeOrderID)
	}
	return m.recordFill(ctx, final)
}

// recordFill writes the trade fact from the exchange's authoritative state
// and applies it to the position ledger.
func (m *Manager) recordFill(ctx context.Context, st common.OrderState) error {
	if st.FilledQty <= 0 {
		return nil
	}

	var (
		pos db.Position
		err error
	)
	if st.Side == common.SideBuy {
		pos, err = m.State.ApplyBuy(ctx, st.Symbol, st.FilledQty, st.AvgFillPrice)
	} else {
		pos, err = m.State.ApplySell(ctx, st.Symbol, st.FilledQty)
	}
	if err != nil {
		return fmt.Errorf("apply fill to ledger: %w", err)
	}

	trade := db.Trade{
		ID:              uuid.NewString(),
		PositionID:      pos.ID,
		Symbol:          st.Symbol,
		Side:            string(st.Side),
		Qty:             st.FilledQty,
		Price:           st.AvgFillPrice,
		Fee:             st.Fee,
		ExchangeOrderID: st.ExchangeOrderID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.DB.CreateTrade(ctx, trade); err != nil {
		return fmt.Errorf("store trade: %w", err)
	}

	m.publish(events.TopicOrderFilled, st.Symbol, fmt.Sprintf("%s qty=%v @ %v fee=%v", st.Side, st.FilledQty, st.AvgFillPrice, st.Fee))
	log.Printf("order: filled %s %s qty=%v @ %v fee=%v", st.Side, st.Symbol, st.FilledQty, st.AvgFillPrice, st.Fee)
	return nil
}

func (m *Manager) acquire(symbol string, side common.Side) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[symbol]; busy {
		return false
	}
	m.inflight[symbol] = side
	return true
}

func (m *Manager) release(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, symbol)
}

func (m *Manager) publish(topic events.Topic, symbol, detail string) {
	if m.Bus != nil {
		m.Bus.Publish(events.Message{Topic: topic, Symbol: symbol, Detail: detail})
	}
}
