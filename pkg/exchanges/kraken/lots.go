package kraken

import (
	"context"
	_ "embed"
	"log"
	"math"
	"net/url"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"rotation-trader/pkg/exchanges/common"
)

//go:embed fallback_lots.yaml
var fallbackLotsYAML []byte

type fallbackEntry struct {
	LotStep       float64 `yaml:"lot_step"`
	QtyDecimals   int     `yaml:"qty_decimals"`
	PriceDecimals int     `yaml:"price_decimals"`
	MinOrderQty   float64 `yaml:"min_order_qty"`
}

type fallbackFile struct {
	Pairs map[string]fallbackEntry `yaml:"pairs"`
}

// lotCache lazily fetches per-symbol tradable constraints. Entries never
// expire within a process lifetime; pair metadata changes rarely. A fetch
// failure falls back to the checked-in table, then to an 8-decimal default
// that favors under-trading over malformed orders.
type lotCache struct {
	client   *Client
	mu       sync.Mutex
	cache    map[string]common.LotInfo
	fallback map[string]common.LotInfo
}

func newLotCache(client *Client) *lotCache {
	lc := &lotCache{
		client:   client,
		cache:    make(map[string]common.LotInfo),
		fallback: make(map[string]common.LotInfo),
	}

	var file fallbackFile
	if err := yaml.Unmarshal(fallbackLotsYAML, &file); err != nil {
		log.Printf("kraken: parse fallback lot table: %v", err)
		return lc
	}
	for symbol, e := range file.Pairs {
		lc.fallback[symbol] = common.LotInfo{
			Symbol:        symbol,
			LotStep:       e.LotStep,
			QtyDecimals:   e.QtyDecimals,
			PriceDecimals: e.PriceDecimals,
			MinOrderQty:   e.MinOrderQty,
		}
	}
	return lc
}

func (lc *lotCache) Info(ctx context.Context, symbol string) (common.LotInfo, error) {
	lc.mu.Lock()
	if info, ok := lc.cache[symbol]; ok {
		lc.mu.Unlock()
		return info, nil
	}
	lc.mu.Unlock()

	info, err := lc.fetch(ctx, symbol)
	if err != nil {
		log.Printf("kraken: lot info fetch for %s failed, using fallback: %v", symbol, err)
		if fb, ok := lc.fallback[symbol]; ok {
			return fb, nil
		}
		return conservativeLotInfo(symbol), nil
	}

	lc.mu.Lock()
	lc.cache[symbol] = info
	lc.mu.Unlock()
	return info, nil
}

func (lc *lotCache) fetch(ctx context.Context, symbol string) (common.LotInfo, error) {
	pair, err := lc.client.mapper.ToExchange(symbol)
	if err != nil {
		return common.LotInfo{}, err
	}

	params := url.Values{}
	params.Set("pair", pair)

	var result map[string]struct {
		LotDecimals  int    `json:"lot_decimals"`
		PairDecimals int    `json:"pair_decimals"`
		OrderMin     string `json:"ordermin"`
	}
	if err := lc.client.public(ctx, "/0/public/AssetPairs", params, &result); err != nil {
		return common.LotInfo{}, err
	}

	for _, entry := range result {
		minQty, _ := strconv.ParseFloat(entry.OrderMin, 64)
		return common.LotInfo{
			Symbol:        symbol,
			LotStep:       math.Pow(10, -float64(entry.LotDecimals)),
			QtyDecimals:   entry.LotDecimals,
			PriceDecimals: entry.PairDecimals,
			MinOrderQty:   minQty,
		}, nil
	}
	return common.LotInfo{}, common.ErrInsufficientData
}

// conservativeLotInfo is the last-resort default for symbols missing from the
// fallback table.
func conservativeLotInfo(symbol string) common.LotInfo {
	return common.LotInfo{
		Symbol:        symbol,
		LotStep:       1e-8,
		QtyDecimals:   8,
		PriceDecimals: 8,
		MinOrderQty:   0,
	}
}
