package enrichment

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/solana-mint-listener/internal/models"
)

// MarketCap returns price*supply rounded half away from zero to two decimals,
// or "N/A" when no price is known.
func MarketCap(price models.Price, supply uint64) string {
	if !price.Valid {
		return models.NotAvailable
	}
	s := decimal.NewFromBigInt(new(big.Int).SetUint64(supply), 0)
	return decimal.NewFromFloat(price.Value).Mul(s).StringFixed(2)
}

// parseSupply reads the provider's supply number, which may be integral or fractional
func parseSupply(n string) uint64 {
	if n == "" {
		return 0
	}
	d, err := decimal.NewFromString(n)
	if err != nil || d.IsNegative() {
		return 0
	}
	bi := d.Truncate(0).BigInt()
	if !bi.IsUint64() {
		return 0
	}
	return bi.Uint64()
}
