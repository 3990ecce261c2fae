package engine

// BuyFill is the arithmetic of a simulated market buy.
type BuyFill struct {
	CashToUse float64
	Fee       float64
	Quantity  float64
}

// ComputeBuy sizes a buy spending positionSizePct of cash at price, with
// the taker fee taken out of the spend.
func ComputeBuy(cash, positionSizePct, takerRate, price float64) BuyFill {
	cashToUse := cash * positionSizePct / 100
	fee := cashToUse * takerRate

	var qty float64
	if price > 0 {
		qty = (cashToUse - fee) / price
	}
	return BuyFill{CashToUse: cashToUse, Fee: fee, Quantity: qty}
}

// SellFill is the arithmetic of closing a position at market.
type SellFill struct {
	Value     float64
	Fee       float64
	NetValue  float64
	CostBasis float64
	PnL       float64
}

// ComputeSell closes quantity bought at averagePrice by selling at price.
func ComputeSell(quantity, averagePrice, takerRate, price float64) SellFill {
	value := quantity * price
	fee := value * takerRate
	net := value - fee
	cost := quantity * averagePrice
	return SellFill{
		Value:     value,
		Fee:       fee,
		NetValue:  net,
		CostBasis: cost,
		PnL:       net - cost,
	}
}
