package kraken

import (
	"fmt"

	"rotation-trader/pkg/exchanges/common"
)

// pairMap translates internal "BASE/QUOTE" notation to Kraken pair codes.
// Kraken keeps legacy X/Z prefixes for older assets only.
var pairMap = map[string]string{
	"BTC/USD":   "XXBTZUSD",
	"ETH/USD":   "XETHZUSD",
	"XRP/USD":   "XXRPZUSD",
	"LTC/USD":   "XLTCZUSD",
	"DOGE/USD":  "XDGUSD",
	"SOL/USD":   "SOLUSD",
	"ADA/USD":   "ADAUSD",
	"DOT/USD":   "DOTUSD",
	"LINK/USD":  "LINKUSD",
	"AVAX/USD":  "AVAXUSD",
	"ATOM/USD":  "ATOMUSD",
	"MATIC/USD": "MATICUSD",
}

// assetMap translates Kraken ledger asset codes to internal asset names.
var assetMap = map[string]string{
	"XXBT": "BTC",
	"XETH": "ETH",
	"XXRP": "XRP",
	"XLTC": "LTC",
	"XDG":  "DOGE",
	"ZUSD": "USD",
	"ZEUR": "EUR",
}

// SymbolMapper is Kraken's implementation of the bidirectional pair lookup.
type SymbolMapper struct {
	toExchange   map[string]string
	fromExchange map[string]string
}

func NewSymbolMapper() *SymbolMapper {
	m := &SymbolMapper{
		toExchange:   make(map[string]string, len(pairMap)),
		fromExchange: make(map[string]string, len(pairMap)),
	}
	for internal, native := range pairMap {
		m.toExchange[internal] = native
		m.fromExchange[native] = internal
	}
	return m
}

// ToExchange maps an internal symbol to the Kraken pair code.
func (m *SymbolMapper) ToExchange(symbol string) (string, error) {
	if native, ok := m.toExchange[symbol]; ok {
		return native, nil
	}
	return "", fmt.Errorf("%w: %s", common.ErrUnknownSymbol, symbol)
}

// FromExchange maps a Kraken pair code back to the internal symbol.
func (m *SymbolMapper) FromExchange(pair string) (string, error) {
	if internal, ok := m.fromExchange[pair]; ok {
		return internal, nil
	}
	return "", fmt.Errorf("%w: %s", common.ErrUnknownSymbol, pair)
}

// Asset maps a Kraken asset code to the internal asset name. Unknown codes
// pass through unchanged so new listings still show up in balances.
func (m *SymbolMapper) Asset(code string) string {
	if name, ok := assetMap[code]; ok {
		return name
	}
	return code
}
