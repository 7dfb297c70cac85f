package strategy

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rotation-trader/internal/indicators"
	"rotation-trader/internal/state"
	"rotation-trader/pkg/db"
	"rotation-trader/pkg/exchanges/common"
)

// PriceSource supplies cached last prices (e.g. from the websocket feed).
type PriceSource interface {
	Last(symbol string) (float64, bool)
}

// Evaluator runs one rotation cycle: screen the universe, rank by score,
// reconcile against open positions, and emit an ordered intent list. It does
// no order I/O beyond ticker/candle lookups.
type Evaluator struct {
	Gateway  common.Gateway
	DB       *db.Database
	State    *state.Manager
	Settings *SettingsStore
	Pending  PendingLister
	Prices   PriceSource // optional; nil falls back to REST tickers

	IndicatorCfg   indicators.Config
	CandleInterval time.Duration
	CandleLimit    int
}

func NewEvaluator(gw common.Gateway, database *db.Database, st *state.Manager, settings *SettingsStore) *Evaluator {
	return &Evaluator{
		Gateway:        gw,
		DB:             database,
		State:          st,
		Settings:       settings,
		IndicatorCfg:   indicators.DefaultConfig(),
		CandleInterval: time.Hour,
		CandleLimit:    72,
	}
}

// Evaluate performs one cycle. A guard-check failure returns an empty intent
// list and no error: a deliberate no-trade safety state. Configuration
// errors fail the cycle. Per-symbol errors only exclude that symbol.
func (e *Evaluator) Evaluate(ctx context.Context) ([]Intent, error) {
	settings, err := e.Settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		log.Printf("evaluator: strategy disabled, skipping cycle")
		return nil, nil
	}

	candidates := e.screen(ctx, settings)

	nav, cash := e.netAssetValue(ctx, candidates)
	if err := e.DB.AppendNAV(ctx, db.NAVPoint{Time: time.Now().UTC(), NAV: nav, Cash: cash}); err != nil {
		log.Printf("evaluator: append nav: %v", err)
	}
	if nav < settings.MinNAV {
		log.Printf("evaluator: NAV %.2f below minimum %.2f, no-trade cycle", nav, settings.MinNAV)
		return nil, nil
	}

	// Rank by score descending; ties break on symbol for determinism.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})

	targets := candidates
	if len(targets) > settings.MaxPositions {
		targets = targets[:settings.MaxPositions]
	}
	targetSet := make(map[string]candidate, len(targets))
	for _, c := range targets {
		targetSet[c.Symbol] = c
	}
	topK := make(map[string]bool, settings.TopKStrong)
	for i := 0; i < len(candidates) && i < settings.TopKStrong; i++ {
		topK[candidates[i].Symbol] = true
	}

	return e.reconcile(ctx, settings, nav, targets, targetSet, topK), nil
}

// screen fetches candles and indicators for the universe concurrently and
// applies the volatility, RSI-band, and cooldown filters. Fetch and compute
// errors are contained to their symbol.
func (e *Evaluator) screen(ctx context.Context, settings Settings) []candidate {
	lastExits, err := e.DB.LastExitTimes(ctx)
	if err != nil {
		log.Printf("evaluator: load cooldowns: %v", err)
		lastExits = map[string]time.Time{}
	}
	cooldown := time.Duration(settings.CooldownCycles*settings.CadenceHours) * time.Hour

	var (
		mu   sync.Mutex
		out  []candidate
		wg   sync.WaitGroup
	)
	for _, symbol := range settings.Universe {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			c, ok := e.screenSymbol(ctx, settings, symbol, lastExits, cooldown)
			if !ok {
				return
			}
			mu.Lock()
			out = append(out, c)
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return out
}

func (e *Evaluator) screenSymbol(ctx context.Context, settings Settings, symbol string, lastExits map[string]time.Time, cooldown time.Duration) (candidate, bool) {
	if exit, ok := lastExits[symbol]; ok && cooldown > 0 && time.Since(exit) < cooldown {
		log.Printf("evaluator: %s in cooldown until %s", symbol, exit.Add(cooldown).Format(time.RFC3339))
		return candidate{}, false
	}

	candles, err := e.Gateway.Candles(ctx, symbol, e.CandleInterval, e.CandleLimit)
	if err != nil {
		log.Printf("evaluator: candles %s: %v", symbol, err)
		return candidate{}, false
	}
	if len(candles) < e.IndicatorCfg.EMALong {
		log.Printf("evaluator: %s has %d candles, need %d; skipping", symbol, len(candles), e.IndicatorCfg.EMALong)
		return candidate{}, false
	}
	e.persistCandles(ctx, symbol, candles)

	snap, err := indicators.Compute(symbol, candles, e.IndicatorCfg)
	if err != nil {
		log.Printf("evaluator: indicators %s: %v", symbol, err)
		return candidate{}, false
	}
	e.persistSnapshot(ctx, snap)

	if ret, ok := dayReturn(candles, e.CandleInterval); ok && math.Abs(ret) > settings.VolatilityPause {
		log.Printf("evaluator: %s 24h return %.2f%% beyond volatility pause, skipping", symbol, ret*100)
		return candidate{}, false
	}
	if snap.RSI < settings.RSILow || snap.RSI > settings.RSIHigh {
		log.Printf("evaluator: %s RSI %.1f outside [%v,%v], skipping", symbol, snap.RSI, settings.RSILow, settings.RSIHigh)
		return candidate{}, false
	}

	c := candidate{Symbol: symbol, Score: snap.Score, RSI: snap.RSI}
	ticker, err := e.Gateway.Ticker(ctx, symbol)
	if err != nil {
		log.Printf("evaluator: ticker %s: %v", symbol, err)
		return candidate{}, false
	}
	c.Bid, c.Ask, c.Price = ticker.Bid, ticker.Ask, ticker.Last
	if cached, ok := e.lastPrice(symbol); ok {
		c.Price = cached
	}
	if c.Price <= 0 {
		log.Printf("evaluator: %s has no usable price, skipping", symbol)
		return candidate{}, false
	}
	return c, true
}

// reconcile turns the ranked target set into intents against current open
// positions. Sells are emitted before buys so exits free capital first.
func (e *Evaluator) reconcile(ctx context.Context, settings Settings, nav float64, targets []candidate, targetSet map[string]candidate, topK map[string]bool) []Intent {
	open := e.State.OpenPositions()
	sort.Slice(open, func(i, j int) bool { return open[i].Symbol < open[j].Symbol })

	held := make(map[string]db.Position, len(open))
	for _, p := range open {
		held[p.Symbol] = p
	}

	pending := map[string]bool{}
	if e.Pending != nil {
		for _, s := range e.Pending.PendingBuySymbols() {
			pending[s] = true
		}
	}

	var sells, buys []Intent

	// Exits and trims.
	for _, p := range open {
		target, stillTarget := targetSet[p.Symbol]
		if !stillTarget {
			price := e.exitPrice(ctx, p.Symbol)
			sells = append(sells, Intent{
				Symbol: p.Symbol, Side: common.SideSell, Qty: p.Qty, Price: price,
				Reason: "rotated out of target set",
			})
			continue
		}

		pnl := (target.Price - p.EntryPrice) / p.EntryPrice

		// Hard stop overrides everything, including a strong signal.
		if pnl <= settings.StopLossPct {
			sells = append(sells, Intent{
				Symbol: p.Symbol, Side: common.SideSell, Qty: p.Qty, Price: target.Price,
				Reason: "hard stop loss",
			})
			continue
		}

		// Profitable trims must also clear the tuned profit floor, so fee-heavy
		// marginal exits dry up when the tuner raises it.
		takeProfit := pnl >= settings.TakePartialPct && pnl >= settings.MinProfitPct
		cutLoss := pnl <= settings.StopPartialPct
		if (takeProfit || cutLoss) && !topK[p.Symbol] {
			trimQty := e.roundQty(ctx, p.Symbol, p.Qty*settings.TrimFraction)
			if trimQty > 0 && trimQty < p.Qty {
				sells = append(sells, Intent{
					Symbol: p.Symbol, Side: common.SideSell, Qty: trimQty, Price: target.Price,
					Reason: "scaling out on P&L threshold",
				})
			}
		}
	}

	// Capacity counts open positions plus in-flight buys for new symbols.
	used := len(open)
	for s := range pending {
		if _, ok := held[s]; !ok {
			used++
		}
	}
	capacity := settings.MaxPositions - used

	newBuys := 0
	for _, t := range targets {
		if _, ok := held[t.Symbol]; ok {
			continue
		}
		if pending[t.Symbol] || capacity <= 0 {
			continue
		}
		qty := e.size(ctx, settings, nav*settings.MaxAllocFraction, t)
		if qty <= 0 {
			continue
		}
		buys = append(buys, Intent{
			Symbol: t.Symbol, Side: common.SideBuy, Qty: qty, Price: t.Ask,
			Reason: "new entry from rotation ranking",
		})
		capacity--
		newBuys++
	}

	// Averaging up: only when no new entries consumed the cycle and the held
	// symbol is still among the strongest signals.
	if newBuys == 0 {
		for _, t := range targets {
			p, ok := held[t.Symbol]
			if !ok || !topK[t.Symbol] || pending[t.Symbol] {
				continue
			}
			headroom := nav*settings.MaxAllocFraction - p.Qty*t.Price
			if headroom <= 0 {
				continue
			}
			qty := e.size(ctx, settings, headroom, t)
			if qty <= 0 {
				continue
			}
			buys = append(buys, Intent{
				Symbol: t.Symbol, Side: common.SideBuy, Qty: qty, Price: t.Ask,
				Reason: "averaging up within allocation headroom",
			})
		}
	}

	sort.Slice(buys, func(i, j int) bool { return buys[i].Symbol < buys[j].Symbol })
	return append(sells, buys...)
}

func (e *Evaluator) size(ctx context.Context, settings Settings, allocUSD float64, t candidate) float64 {
	lot, err := e.Gateway.LotInfo(ctx, t.Symbol)
	if err != nil {
		log.Printf("evaluator: lot info %s: %v", t.Symbol, err)
		return 0
	}
	price := t.Ask
	if price <= 0 {
		price = t.Price
	}
	return SizeOrder(allocUSD, price, lot, settings.MinOrderUSD)
}

func (e *Evaluator) roundQty(ctx context.Context, symbol string, qty float64) float64 {
	lot, err := e.Gateway.LotInfo(ctx, symbol)
	if err != nil {
		log.Printf("evaluator: lot info %s: %v", symbol, err)
		return 0
	}
	return common.RoundQty(lot, qty)
}

// netAssetValue is cash plus mark-to-market value of open positions. Ticker
// failures fall back to entry price; the guard should err toward trading
// less, not crash the cycle.
func (e *Evaluator) netAssetValue(ctx context.Context, candidates []candidate) (nav, cash float64) {
	balances, err := e.Gateway.Balances(ctx)
	if err != nil {
		log.Printf("evaluator: balances: %v", err)
	} else {
		cash = balances["USD"]
	}

	prices := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		prices[c.Symbol] = c.Price
	}

	nav = cash
	for _, p := range e.State.OpenPositions() {
		price, ok := prices[p.Symbol]
		if !ok {
			price = e.exitPrice(ctx, p.Symbol)
		}
		if price <= 0 {
			price = p.EntryPrice
		}
		nav += p.Qty * price
	}
	return nav, cash
}

// exitPrice resolves a reference price for a symbol outside the candidate
// set, preferring the live cache, then REST ticker bid.
func (e *Evaluator) exitPrice(ctx context.Context, symbol string) float64 {
	if price, ok := e.lastPrice(symbol); ok {
		return price
	}
	ticker, err := e.Gateway.Ticker(ctx, symbol)
	if err != nil {
		log.Printf("evaluator: exit price %s: %v", symbol, err)
		return 0
	}
	if ticker.Bid > 0 {
		return ticker.Bid
	}
	return ticker.Last
}

func (e *Evaluator) lastPrice(symbol string) (float64, bool) {
	if e.Prices == nil {
		return 0, false
	}
	return e.Prices.Last(symbol)
}

func (e *Evaluator) persistCandles(ctx context.Context, symbol string, candles []common.Candle) {
	rows := make([]db.Candle, len(candles))
	interval := e.CandleInterval.String()
	for i, c := range candles {
		rows[i] = db.Candle{
			Symbol: symbol, Interval: interval, Time: c.Time,
			Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
		}
	}
	if err := e.DB.UpsertCandles(ctx, rows); err != nil {
		log.Printf("evaluator: persist candles %s: %v", symbol, err)
	}
}

func (e *Evaluator) persistSnapshot(ctx context.Context, snap indicators.Snapshot) {
	rec := db.IndicatorSnapshot{
		ID:          uuid.NewString(),
		Symbol:      snap.Symbol,
		GeneratedAt: snap.GeneratedAt,
		EMAShort:    snap.EMAShort,
		EMALong:     snap.EMALong,
		RSI:         snap.RSI,
		Score:       snap.Score,
	}
	if err := e.DB.CreateIndicatorSnapshot(ctx, rec); err != nil {
		log.Printf("evaluator: persist snapshot %s: %v", snap.Symbol, err)
	}
}

// dayReturn computes the close-over-close return across the trailing 24
// hours, when enough candles exist.
func dayReturn(candles []common.Candle, interval time.Duration) (float64, bool) {
	if interval <= 0 {
		return 0, false
	}
	buckets := int(24 * time.Hour / interval)
	if buckets < 1 || len(candles) <= buckets {
		return 0, false
	}
	then := candles[len(candles)-1-buckets].Close
	now := candles[len(candles)-1].Close
	if then == 0 {
		return 0, false
	}
	return now/then - 1, true
}
