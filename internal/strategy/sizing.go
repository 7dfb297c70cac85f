package strategy

import "rotation-trader/pkg/exchanges/common"

// SizeOrder turns an allocation into a tradable quantity. The raw quantity is
// rounded toward zero onto the lot increment, then rejected (returns 0) when
// it falls under the exchange minimum or when its notional value falls under
// the USD floor. The two-stage rejection keeps dust orders that cannot
// economically clear fees off the book.
func SizeOrder(allocUSD, price float64, lot common.LotInfo, minOrderUSD float64) float64 {
	if allocUSD <= 0 || price <= 0 {
		return 0
	}

	qty := common.RoundQty(lot, allocUSD/price)
	if qty <= 0 {
		return 0
	}
	if lot.MinOrderQty > 0 && qty < lot.MinOrderQty {
		return 0
	}
	if qty*price < minOrderUSD {
		return 0
	}
	return qty
}
