// Package stats derives statistics from a feed's history. Inputs are ordered
// most recent first, exactly as feeds return them.
package stats

import (
	"math/big"

	"github.com/R3E-Network/basket_oracle/internal/app/fixedpoint"
	"github.com/R3E-Network/basket_oracle/internal/errors"
)

// MovingAverage returns floor(sum(prices[0:n]) / n).
func MovingAverage(prices []*big.Int, n int) (*big.Int, error) {
	if n <= 0 {
		return nil, errors.InvalidArgument("moving average window must be positive, got %d", n)
	}
	if len(prices) < n {
		return nil, errors.InsufficientData(n, len(prices))
	}
	sum := new(big.Int)
	for _, p := range prices[:n] {
		sum.Add(sum, p)
	}
	return fixedpoint.FloorDiv(sum, big.NewInt(int64(n))), nil
}
